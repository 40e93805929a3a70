package wire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keato/btc-core/internal/buffer"
)

// S1 — IPv4-mapped IPv6: the 16 raw bytes of a version-NetAddr's IP field
// decode as ::ffff:10.0.0.1.
func TestS1IPv4MappedIPv6(t *testing.T) {
	raw := []byte{
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0xFF, 0xFF, 0x0A, 0x00, 0x00, 0x01,
	}
	ip := net.IP(raw)
	assert.Equal(t, "::ffff:10.0.0.1", ip.String())
}

// S2 — version-NetAddr: services + ip + big-endian port, no time field.
func TestS2VersionNetAddr(t *testing.T) {
	raw := []byte{
		0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // services = 1
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0x0A, 0x00, 0x00, 0x01, // ip
		0x20, 0x8D, // port = 8333
	}
	addr, err := decodeVersionNetAddr(buffer.New(raw))
	require.NoError(t, err)
	assert.Nil(t, addr.Time)
	assert.Equal(t, uint64(1), addr.Services)
	assert.Equal(t, "::ffff:10.0.0.1", addr.IP.String())
	assert.Equal(t, uint16(8333), addr.Port)
}

// S3 — variable string: compact-size-prefixed UTF-8-lossy user agent.
func TestS3VariableString(t *testing.T) {
	raw := []byte{
		0x0F, 0x2F, 0x53, 0x61, 0x74, 0x6F, 0x73, 0x68, 0x69, 0x3A, 0x30, 0x2E, 0x37,
		0x2E, 0x32, 0x2F,
	}
	b := buffer.New(raw)
	strBytes, err := b.ReadCompactSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, "/Satoshi:0.7.2/", decodeLossyUTF8(strBytes))
}

// S4/S5 — a full version envelope + payload, taken verbatim from a real
// Satoshi-client capture (the same fixture the wire decoder's distilled
// source tests against).
var versionEnvelopeFixture = []byte{
	// Message Header:
	0xF9, 0xBE, 0xB4, 0xD9, // Main network magic bytes
	0x76, 0x65, 0x72, 0x73, 0x69, 0x6F, 0x6E, 0x00, 0x00, 0x00, 0x00, 0x00, // "version"
	0x64, 0x00, 0x00, 0x00, // payload is 100 bytes long
	0x30, 0x42, 0x7C, 0xEB, // payload checksum

	// Version message:
	0x62, 0xEA, 0x00, 0x00, // protocol version 60002
	0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // services = NODE_NETWORK
	0x11, 0xB2, 0xD0, 0x50, 0x00, 0x00, 0x00, 0x00, // timestamp
	0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0x0A, 0x00, 0x00, 0x01, 0x20, 0x8D, // addr_recv
	0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0x0A, 0x00, 0x00, 0x01, 0x20, 0x8D, // addr_from
	0x3B, 0x2E, 0xB3, 0x5D, 0x8C, 0xE6, 0x17, 0x65, // nonce
	0x0F, 0x2F, 0x53, 0x61, 0x74, 0x6F, 0x73, 0x68, 0x69, 0x3A, 0x30, 0x2E, 0x37, 0x2E, 0x32, 0x2F, // user agent
	0xC0, 0x3E, 0x03, 0x00, // start height 212672
}

func TestS4EnvelopeHeader(t *testing.T) {
	env, consumed, err := DecodeEnvelope(versionEnvelopeFixture)
	require.NoError(t, err)
	assert.Equal(t, Main, env.Network)
	assert.Equal(t, "version", env.Command)
	assert.Equal(t, uint32(100), env.PayloadLen)
	assert.Equal(t, [4]byte{0x30, 0x42, 0x7C, 0xEB}, env.Checksum)
	assert.Equal(t, len(versionEnvelopeFixture), consumed)
}

func TestS5FullVersionMessage(t *testing.T) {
	env, _, err := DecodeEnvelope(versionEnvelopeFixture)
	require.NoError(t, err)

	msg, err := DecodeMessage(env.Command, env.Payload)
	require.NoError(t, err)

	v, ok := msg.(*VersionMessage)
	require.True(t, ok)
	assert.Equal(t, int32(60002), v.Version)
	assert.Equal(t, uint64(1), v.Services)
	assert.Equal(t, int64(1355854353), v.Timestamp)
	assert.Equal(t, "::ffff:10.0.0.1", v.AddrRecv.IP.String())
	assert.Equal(t, uint16(8333), v.AddrRecv.Port)
	assert.Equal(t, "::ffff:10.0.0.1", v.AddrFrom.IP.String())
	assert.Equal(t, uint64(7284544412836900411), v.Nonce)
	assert.Equal(t, "/Satoshi:0.7.2/", v.UserAgent)
	assert.Equal(t, int32(212672), v.StartHeight)
	assert.False(t, v.Relay) // version < 70001, no relay byte present
}

// Property 4: mutating a single payload byte breaks the checksum.
func TestEnvelopeRejectsCorruptedPayload(t *testing.T) {
	corrupted := append([]byte(nil), versionEnvelopeFixture...)
	corrupted[24] ^= 0xFF // first payload byte, just past the 24-byte header
	_, _, err := DecodeEnvelope(corrupted)
	var checksumErr *ChecksumError
	require.ErrorAs(t, err, &checksumErr)
	assert.Equal(t, 100+20, checksumErr.Code)
}

// Property 5: arbitrary noise without a magic tag embedded in it doesn't
// change the decoded result, just where decoding starts.
func TestMagicResynchronization(t *testing.T) {
	noise := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	prefixed := append(append([]byte(nil), noise...), versionEnvelopeFixture...)

	plain, plainConsumed, err := DecodeEnvelope(versionEnvelopeFixture)
	require.NoError(t, err)
	withNoise, noisyConsumed, err := DecodeEnvelope(prefixed)
	require.NoError(t, err)

	assert.Equal(t, plain, withNoise)
	assert.Equal(t, len(noise)+plainConsumed, noisyConsumed)
}

func TestIncompleteWithNoMagic(t *testing.T) {
	_, _, err := DecodeEnvelope([]byte{0x01, 0x02, 0x03})
	var incomplete *IncompleteError
	assert.ErrorAs(t, err, &incomplete)
}

func TestIncompleteShortPayload(t *testing.T) {
	short := versionEnvelopeFixture[:30] // header + a few payload bytes, not all 100
	_, _, err := DecodeEnvelope(short)
	var incomplete *IncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, 94, incomplete.Needed) // 100 - (30 - 24 header bytes consumed)
}

func TestUnknownCommandIsUnparsed(t *testing.T) {
	msg, err := DecodeMessage("notacommand", []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	unparsed, ok := msg.(UnparsedMessage)
	require.True(t, ok)
	assert.Equal(t, "notacommand", unparsed.Command)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, unparsed.Payload)
}

func TestDecodeVerackAndSendHeadersAreEmpty(t *testing.T) {
	msg, err := DecodeMessage("verack", nil)
	require.NoError(t, err)
	assert.Equal(t, VerackMessage{}, msg)

	msg, err = DecodeMessage("sendheaders", nil)
	require.NoError(t, err)
	assert.Equal(t, SendHeadersMessage{}, msg)
}

func TestDecodePeerCountExtension(t *testing.T) {
	payload := make([]byte, 40)
	for i := range payload[:8] {
		payload[i] = byte(i + 1)
	}
	for i := 8; i < 40; i++ {
		payload[i] = 0xAB
	}
	msg, err := DecodeMessage("bcr_pcr", payload)
	require.NoError(t, err)
	req, ok := msg.(*PeerCountRequestMessage)
	require.True(t, ok)
	assert.Equal(t, [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, req.Nonce)

	countMsg, err := DecodeMessage("bcr_pc", []byte{0x2A, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	pc, ok := countMsg.(PeerCountMessage)
	require.True(t, ok)
	assert.Equal(t, uint64(42), pc.Count)
}

func TestEncodeVersionMessageRoundTrips(t *testing.T) {
	env, _, err := DecodeEnvelope(versionEnvelopeFixture)
	require.NoError(t, err)
	msg, err := DecodeMessage(env.Command, env.Payload)
	require.NoError(t, err)
	v := msg.(*VersionMessage)

	encoded := EncodeVersionMessage(v)
	assert.Equal(t, env.Payload, encoded)
}
