// Package blkfile implements the legacy blk*.dat block-file iterator: a
// sequence of [magic u32 LE][length u32 LE][length bytes] frames. It hands
// raw block bytes up to callers (typically wire.DecodeMessage("block", ...))
// without interpreting them itself.
package blkfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic is the legacy block-file framing tag, read as a little-endian u32.
// On disk it is the same four bytes (F9 BE B4 D9) as the main-network P2P
// magic in internal/wire.
const Magic uint32 = 0xD9B4BEF9

// ErrInvalidMagic is returned when a nonzero tag doesn't match Magic.
var ErrInvalidMagic = errors.New("blkfile: invalid magic number")

// ReadBlock reads one magic-framed block from r. It returns (nil, nil) at
// a clean end of stream — a short read at a frame boundary, not an error.
// A zero u32 where a magic tag is expected is treated as skippable padding
// (observed in block file 760 near byte offset 54,391,594 by the reader
// this package is modeled on).
func ReadBlock(r io.Reader) ([]byte, error) {
	var tag [4]byte
	for {
		if _, err := io.ReadFull(r, tag[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, nil
			}
			return nil, err
		}
		magic := binary.LittleEndian.Uint32(tag[:])
		if magic == 0 {
			continue
		}
		if magic != Magic {
			return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, magic)
		}
		break
	}

	var lengthBytes [4]byte
	if _, err := io.ReadFull(r, lengthBytes[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, nil
		}
		return nil, err
	}
	length := binary.LittleEndian.Uint32(lengthBytes[:])

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}
