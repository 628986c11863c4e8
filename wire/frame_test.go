package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeSegmentRoundTrip(t *testing.T) {
	cases := []string{"", "a", "expire", "user:42", "héllo wörld", "日本語"}
	for _, s := range cases {
		enc := EncodeSegment(s)
		got, err := DecodeSegment(enc)
		if err != nil {
			t.Fatalf("DecodeSegment(%q): %v", s, err)
		}
		if got != s {
			t.Errorf("round trip mismatch: got %q, want %q", got, s)
		}
	}
}

func TestDecodeSegmentOddLength(t *testing.T) {
	if _, err := DecodeSegment([]byte{0x01}); err != ErrOddByteLength {
		t.Fatalf("expected ErrOddByteLength, got %v", err)
	}
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	segments := []string{"expire", "a", "b"}
	if err := WriteFrame(&buf, segments...); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if len(got) != len(segments) {
		t.Fatalf("got %d segments, want %d", len(got), len(segments))
	}
	for i, s := range segments {
		if got[i] != s {
			t.Errorf("segment %d: got %q, want %q", i, got[i], s)
		}
	}
}

func TestWriteReadFrameEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d segments, want 0", len(got))
	}
}

func TestReadFrameRejectsOversizedSegment(t *testing.T) {
	var buf bytes.Buffer
	// One segment claiming to be larger than MaxSegmentBytes.
	WriteFrame(&buf, "x")
	raw := buf.Bytes()
	// Overwrite the segment-length prefix (bytes 4:8) with an oversized value.
	raw[4] = 0xff
	raw[5] = 0xff
	raw[6] = 0xff
	raw[7] = 0x7f

	if _, err := ReadFrame(bytes.NewReader(raw)); err != ErrSegmentTooLarge {
		t.Fatalf("expected ErrSegmentTooLarge, got %v", err)
	}
}
