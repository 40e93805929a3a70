// Package wire implements the Bitcoin P2P envelope decoder (C3) and the
// per-command message decoders (C4).
package wire

import (
	"bytes"
	"fmt"

	"github.com/keato/btc-core/internal/buffer"
	"github.com/keato/btc-core/internal/hash"
	"github.com/keato/btc-core/internal/metrics"
)

// Network identifies which magic tag an Envelope was framed with.
type Network int

const (
	Main Network = iota
	Test
)

func (n Network) String() string {
	switch n {
	case Main:
		return "main"
	case Test:
		return "test"
	default:
		return "unknown"
	}
}

var (
	magicMain = [4]byte{0xF9, 0xBE, 0xB4, 0xD9}
	magicTest = [4]byte{0xFA, 0xBF, 0xB5, 0xDA}
)

const envelopeHeaderSize = 24 // 4 magic + 12 command + 4 length + 4 checksum

// Envelope is the fixed 24-byte frame preceding every P2P payload, plus its
// payload.
type Envelope struct {
	Network    Network
	Command    string
	PayloadLen uint32
	Checksum   [4]byte
	Payload    []byte
}

// IncompleteError means the decoder needs more bytes appended to data
// before it can produce an Envelope. Needed is the shortfall if known, or 0
// if no magic tag was found at all.
type IncompleteError struct {
	Needed int
}

func (e *IncompleteError) Error() string {
	if e.Needed > 0 {
		return fmt.Sprintf("wire: incomplete frame, need %d more bytes", e.Needed)
	}
	return "wire: no magic tag found"
}

// ChecksumError means one frame's payload didn't match its checksum. Code
// is payload_len+20, the upstream convention for how far to skip ahead
// before resynchronizing.
type ChecksumError struct {
	Code int
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("wire: checksum mismatch (skip code %d)", e.Code)
}

// DecodeEnvelope resynchronizes on the next magic tag anywhere in data,
// then decodes one envelope. It returns the envelope and the number of
// bytes of data consumed through the end of its payload; callers continue
// with data[consumed:] — or, per the streaming-framing note, simply
// re-invoke DecodeEnvelope on the full remaining buffer once more bytes
// have arrived, since an IncompleteError never consumes anything.
func DecodeEnvelope(data []byte) (Envelope, int, error) {
	idx, network, found := searchMagic(data)
	if !found {
		return Envelope{}, 0, &IncompleteError{}
	}
	rest := data[idx:]

	if len(rest) < envelopeHeaderSize {
		return Envelope{}, 0, &IncompleteError{Needed: envelopeHeaderSize - len(rest)}
	}

	header := buffer.New(rest[:envelopeHeaderSize])
	commandBytes, err := header.ReadBytes(12)
	if err != nil {
		return Envelope{}, 0, err
	}
	payloadLen, err := header.ReadUint32LE()
	if err != nil {
		return Envelope{}, 0, err
	}
	checksumBytes, err := header.ReadBytes(4)
	if err != nil {
		return Envelope{}, 0, err
	}
	var checksum [4]byte
	copy(checksum[:], checksumBytes)

	bodyEnd := envelopeHeaderSize + int(payloadLen)
	if bodyEnd > len(rest) {
		return Envelope{}, 0, &IncompleteError{Needed: bodyEnd - len(rest)}
	}

	payload := rest[envelopeHeaderSize:bodyEnd]
	sum := hash.Checksum(payload)
	if sum != checksum {
		metrics.EnvelopeChecksumErrors.Inc()
		return Envelope{}, 0, &ChecksumError{Code: int(payloadLen) + 20}
	}
	metrics.EnvelopesDecoded.Inc()

	env := Envelope{
		Network:    network,
		Command:    trimCommand(commandBytes),
		PayloadLen: payloadLen,
		Checksum:   checksum,
		Payload:    payload,
	}
	return env, idx + bodyEnd, nil
}

func trimCommand(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}

func searchMagic(data []byte) (int, Network, bool) {
	for i := 0; i+4 <= len(data); i++ {
		window := data[i : i+4]
		if bytes.Equal(window, magicMain[:]) {
			return i, Main, true
		}
		if bytes.Equal(window, magicTest[:]) {
			return i, Test, true
		}
	}
	return 0, 0, false
}

// EncodeEnvelope builds the wire bytes for a complete envelope around
// payload, for use by tests and by any caller that needs to re-frame a
// decoded message (e.g. a peer-count response).
func EncodeEnvelope(network Network, command string, payload []byte) []byte {
	out := make([]byte, 0, envelopeHeaderSize+len(payload))
	switch network {
	case Main:
		out = append(out, magicMain[:]...)
	case Test:
		out = append(out, magicTest[:]...)
	}
	var cmd [12]byte
	copy(cmd[:], command)
	out = append(out, cmd[:]...)

	var lenBytes [4]byte
	lenBytes[0] = byte(len(payload))
	lenBytes[1] = byte(len(payload) >> 8)
	lenBytes[2] = byte(len(payload) >> 16)
	lenBytes[3] = byte(len(payload) >> 24)
	out = append(out, lenBytes[:]...)

	checksum := hash.Checksum(payload)
	out = append(out, checksum[:]...)
	out = append(out, payload...)
	return out
}
