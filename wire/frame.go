// Package wire implements the UTF-16LE codec shared by discovery beacons
// and host frames: host RPC responses and invalidation messages use its
// length-prefixed segment framing, while a beacon is one bare UTF-16LE
// string with no length prefix.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf16"
)

// ProtocolVersion identifies the framing layout. Bumped only if the
// length-prefix width or encoding changes.
const ProtocolVersion = 1

// MaxSegmentBytes guards against a corrupt or hostile length prefix
// causing an unbounded allocation.
const MaxSegmentBytes = 8 << 20 // 8 MiB

var (
	// ErrSegmentTooLarge is returned when a length prefix exceeds MaxSegmentBytes.
	ErrSegmentTooLarge = errors.New("wire: segment exceeds maximum size")
	// ErrOddByteLength is returned when a segment's byte length isn't a
	// multiple of two, which UTF-16LE requires.
	ErrOddByteLength = errors.New("wire: segment length is not a multiple of 2")
)

// EncodeSegment returns the UTF-16LE byte encoding of s, little-endian,
// with no BOM.
func EncodeSegment(s string) []byte {
	units := utf16.Encode([]rune(s))
	buf := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[i*2:], u)
	}
	return buf
}

// DecodeSegment decodes raw UTF-16LE bytes back into a string.
func DecodeSegment(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", ErrOddByteLength
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(units)), nil
}

// WriteFrame writes a single frame: a uint32 segment count, followed by
// each segment as a uint32 byte length plus its UTF-16LE bytes.
func WriteFrame(w io.Writer, segments ...string) error {
	var lenPrefix [4]byte

	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(segments)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("wire: write segment count: %w", err)
	}

	for _, s := range segments {
		enc := EncodeSegment(s)
		binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(enc)))
		if _, err := w.Write(lenPrefix[:]); err != nil {
			return fmt.Errorf("wire: write segment length: %w", err)
		}
		if len(enc) == 0 {
			continue
		}
		if _, err := w.Write(enc); err != nil {
			return fmt.Errorf("wire: write segment: %w", err)
		}
	}
	return nil
}

// ReadFrame reads a single frame written by WriteFrame and decodes every
// segment back to a string.
func ReadFrame(r io.Reader) ([]string, error) {
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, err
	}
	count := binary.LittleEndian.Uint32(countBuf[:])

	segments := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("wire: read segment %d length: %w", i, err)
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		if n > MaxSegmentBytes {
			return nil, ErrSegmentTooLarge
		}
		raw := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(r, raw); err != nil {
				return nil, fmt.Errorf("wire: read segment %d body: %w", i, err)
			}
		}
		s, err := DecodeSegment(raw)
		if err != nil {
			return nil, fmt.Errorf("wire: decode segment %d: %w", i, err)
		}
		segments = append(segments, s)
	}
	return segments, nil
}
