// Package buffer implements the zero-copy cursor primitives the rest of the
// codec is built on: fixed-width integer reads, Bitcoin's compact-size
// varint, and length-prefixed byte slices, all without copying the backing
// array.
package buffer

import (
	"encoding/binary"
	"errors"
)

// ErrUnexpectedEndOfData is returned whenever a read requests more bytes
// than remain in the buffer. Callers must discard the buffer on this error;
// the cursor position afterward is not meaningful.
var ErrUnexpectedEndOfData = errors.New("buffer: unexpected end of data")

// Buffer is a contiguous, immutable byte slice plus a consumption cursor.
// It never allocates on read: ReadBytes and ReadCompactSizeBytes return
// sub-slices of the original backing array, and the integer readers decode
// in place.
type Buffer struct {
	data []byte
	pos  int
}

// New wraps b in a Buffer starting at position 0. b is not copied; the
// caller must keep it alive for as long as any value parsed from the
// Buffer (or its sub-slices) is in use.
func New(b []byte) *Buffer {
	return &Buffer{data: b}
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return len(b.data) - b.pos
}

// Pos returns the current cursor offset into the original backing array.
func (b *Buffer) Pos() int {
	return b.pos
}

// Remaining returns the unread tail of the buffer without advancing it.
func (b *Buffer) Remaining() []byte {
	return b.data[b.pos:]
}

// Since returns the bytes consumed between mark (a previously saved Pos)
// and the current cursor. It is how parsers capture an object's raw span.
func (b *Buffer) Since(mark int) []byte {
	return b.data[mark:b.pos]
}

// ReadBytes takes the next n bytes as a borrowed slice and advances the
// cursor. It fails with ErrUnexpectedEndOfData if fewer than n bytes remain.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	if n < 0 || b.Len() < n {
		return nil, ErrUnexpectedEndOfData
	}
	out := b.data[b.pos : b.pos+n]
	b.pos += n
	return out, nil
}

func (b *Buffer) ReadUint8() (uint8, error) {
	raw, err := b.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return raw[0], nil
}

func (b *Buffer) ReadUint16LE() (uint16, error) {
	raw, err := b.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(raw), nil
}

// ReadUint16BE reads a big-endian u16 — used only for NetAddr ports, which
// Bitcoin serializes in network byte order unlike everything else on the wire.
func (b *Buffer) ReadUint16BE() (uint16, error) {
	raw, err := b.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(raw), nil
}

func (b *Buffer) ReadUint32LE() (uint32, error) {
	raw, err := b.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(raw), nil
}

func (b *Buffer) ReadInt32LE() (int32, error) {
	v, err := b.ReadUint32LE()
	return int32(v), err
}

func (b *Buffer) ReadUint64LE() (uint64, error) {
	raw, err := b.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(raw), nil
}

func (b *Buffer) ReadInt64LE() (int64, error) {
	v, err := b.ReadUint64LE()
	return int64(v), err
}

// ReadCompactSize decodes a Bitcoin compact-size (varint): a single byte if
// < 0xFD, otherwise a tag byte (0xFD/0xFE/0xFF) followed by a little-endian
// 2/4/8-byte integer. Any valid encoding is accepted on decode, including
// non-minimal ones.
func (b *Buffer) ReadCompactSize() (uint64, error) {
	tag, err := b.ReadUint8()
	if err != nil {
		return 0, err
	}
	switch {
	case tag < 0xFD:
		return uint64(tag), nil
	case tag == 0xFD:
		v, err := b.ReadUint16LE()
		return uint64(v), err
	case tag == 0xFE:
		v, err := b.ReadUint32LE()
		return uint64(v), err
	default: // 0xFF
		return b.ReadUint64LE()
	}
}

// ReadCompactSizeBytes reads a compact-size length prefix followed by that
// many bytes, returning them as a borrowed slice.
func (b *Buffer) ReadCompactSizeBytes() ([]byte, error) {
	n, err := b.ReadCompactSize()
	if err != nil {
		return nil, err
	}
	if n > uint64(b.Len()) {
		return nil, ErrUnexpectedEndOfData
	}
	return b.ReadBytes(int(n))
}

// EncodeCompactSize encodes n using the shortest valid compact-size form.
func EncodeCompactSize(n uint64) []byte {
	switch {
	case n < 0xFD:
		return []byte{byte(n)}
	case n <= 0xFFFF:
		out := make([]byte, 3)
		out[0] = 0xFD
		binary.LittleEndian.PutUint16(out[1:], uint16(n))
		return out
	case n <= 0xFFFFFFFF:
		out := make([]byte, 5)
		out[0] = 0xFE
		binary.LittleEndian.PutUint32(out[1:], uint32(n))
		return out
	default:
		out := make([]byte, 9)
		out[0] = 0xFF
		binary.LittleEndian.PutUint64(out[1:], n)
		return out
	}
}
