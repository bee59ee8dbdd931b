package protocol

import (
	"bytes"
	"strings"
	"testing"
)

func TestFrameRoundTripSmallUncompressed(t *testing.T) {
	c := NewCodec()
	var buf bytes.Buffer
	payload := []byte("Hello")
	if err := c.WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := c.ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got %q, want %q", got, payload)
	}
}

func TestFrameCompressesLargePayload(t *testing.T) {
	c := NewCodec()
	var buf bytes.Buffer
	payload := []byte(strings.Repeat("x", compressSizeThreshold+1))
	if err := c.WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	wire := buf.Bytes()
	// The wire payload (after the 4-byte length prefix) should carry the
	// ABG: tag since compression is mandatory above the threshold.
	if !bytes.HasPrefix(wire[4:], []byte(compressionTag)) {
		t.Fatalf("expected ABG: tag on compressed wire payload")
	}

	got, err := c.ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("round trip mismatch for large payload")
	}
}

func TestFrameCompressesVehicleCode(t *testing.T) {
	c := NewCodec()
	var buf bytes.Buffer
	payload := []byte("Os:player:bob:0-0:{}")
	if err := c.WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	wire := buf.Bytes()
	if !bytes.HasPrefix(wire[4:], []byte(compressionTag)) {
		t.Fatal("expected 'O' coded payload to be compressed regardless of size")
	}
}

func TestDecompressCompressRoundTrip(t *testing.T) {
	for _, payload := range [][]byte{
		nil,
		[]byte(""),
		[]byte("a"),
		[]byte(strings.Repeat("z", 10000)),
	} {
		compressed, err := Compress(payload)
		if err != nil {
			t.Fatalf("Compress(%d bytes): %v", len(payload), err)
		}
		got, err := Decompress(compressed)
		if err != nil {
			t.Fatalf("Decompress: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(payload))
		}
	}
}

func TestReadFrameRejectsOversizedPayload(t *testing.T) {
	c := &Codec{MaxPayload: 8}
	var buf bytes.Buffer
	// Write an uncompressed frame with a default codec (WriteFrame itself
	// enforces no cap) so we can exercise ReadFrame's enforcement.
	raw := NewCodec()
	if err := raw.WriteFrame(&buf, []byte("this payload is far longer than eight bytes")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if _, err := c.ReadFrame(&buf); err == nil {
		t.Fatal("expected ReadFrame to reject oversized payload")
	}
}

func TestIsRawBroadcastRange(t *testing.T) {
	for b := 0; b < 256; b++ {
		want := b >= 86 && b <= 89
		if got := IsRawBroadcast(byte(b)); got != want {
			t.Errorf("IsRawBroadcast(%d) = %v, want %v", b, got, want)
		}
	}
}
