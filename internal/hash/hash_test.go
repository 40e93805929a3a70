package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoubleSHA256KnownVector(t *testing.T) {
	// SHA256(SHA256("")) — a standard fixture used across the Bitcoin test corpus.
	got := DoubleSHA256([]byte{})
	want := "5df6e0e2761359d30a8275058e299fcc0381534545f55cf43e41983f5d4c9456"
	assert.Equal(t, want, hexString(got[:]))
}

func TestIsNull(t *testing.T) {
	var h Hash32
	assert.True(t, h.IsNull())
	h[0] = 0x01
	assert.False(t, h.IsNull())
}

func TestFromSliceWrongLength(t *testing.T) {
	_, err := FromSlice([]byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrWrongLength)
}

func TestChecksum(t *testing.T) {
	full := DoubleSHA256([]byte("payload"))
	c := Checksum([]byte("payload"))
	require.Equal(t, full[:4], c[:])
}

func hexString(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0F]
	}
	return string(out)
}
