package protocol

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/BeamMP/BeamMP-Server/gameerr"
)

// compressionTag is the four-byte ASCII prefix that marks a framed payload
// as a zlib-deflated blob (spec.md §4.1, §6).
const compressionTag = "ABG:"

// DefaultMaxPayload is the default cap on a decompressed frame payload
// (spec.md §4.1: "100 KiB after decompression").
const DefaultMaxPayload = 100 * 1024

// compressForCode triggers compression regardless of size when the
// first payload byte is one of these wire codes (spec.md §4.1: "'O' or
// 'T'").
var compressForCode = map[byte]bool{
	'O': true,
	'T': true,
}

// compressSizeThreshold is the payload size above which compression is
// mandatory even for codes not in compressForCode (spec.md §4.1: "exceeds
// 400 bytes").
const compressSizeThreshold = 400

// ErrFrameTooLarge is returned when a decoded (post-decompression) payload
// exceeds the codec's configured cap.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum payload size")

// Codec reads and writes length-prefixed frames over a TCP connection,
// transparently applying the zlib/"ABG:" compression envelope described in
// spec.md §4.1.
type Codec struct {
	MaxPayload int
}

// NewCodec returns a Codec with the default maximum payload size.
func NewCodec() *Codec {
	return &Codec{MaxPayload: DefaultMaxPayload}
}

func (c *Codec) maxPayload() int {
	if c.MaxPayload <= 0 {
		return DefaultMaxPayload
	}
	return c.MaxPayload
}

// ReadFrame blocks until one full frame (length prefix + payload) has been
// read from r, decompressing it if it carries the "ABG:" envelope. It
// returns gameerr.Protocol-kind errors for a length exceeding the cap, and
// gameerr.Compression-kind errors for a corrupt deflate stream.
func (c *Codec) ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])

	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}

	if isCompressed(payload) {
		decompressed, err := Decompress(payload)
		if err != nil {
			return nil, gameerr.New(gameerr.Compression, "frame.decompress", err)
		}
		payload = decompressed
	}

	if len(payload) > c.maxPayload() {
		return nil, gameerr.New(gameerr.Protocol, "frame.length", ErrFrameTooLarge)
	}
	return payload, nil
}

// WriteFrame compresses payload when required by spec.md §4.1 and writes
// the length-prefixed frame to w.
func (c *Codec) WriteFrame(w io.Writer, payload []byte) error {
	out := payload
	if shouldCompress(payload) {
		compressed, err := Compress(payload)
		if err != nil {
			return gameerr.New(gameerr.Compression, "frame.compress", err)
		}
		out = compressed
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(out)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(out)
	return err
}

// shouldCompress implements spec.md §4.1's outbound compression rule.
func shouldCompress(payload []byte) bool {
	if len(payload) > compressSizeThreshold {
		return true
	}
	if len(payload) == 0 {
		return false
	}
	return compressForCode[payload[0]]
}

func isCompressed(payload []byte) bool {
	return len(payload) >= len(compressionTag) && string(payload[:len(compressionTag)]) == compressionTag
}

// Compress deflates payload and prefixes it with the "ABG:" tag.
func Compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(compressionTag)
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress strips the "ABG:" tag from payload and inflates the remainder.
// It is the caller's responsibility to check isCompressed (or IsCompressed)
// first.
func Decompress(payload []byte) ([]byte, error) {
	if !isCompressed(payload) {
		return nil, fmt.Errorf("protocol: payload missing %q tag", compressionTag)
	}
	zr, err := zlib.NewReader(bytes.NewReader(payload[len(compressionTag):]))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IsCompressed reports whether payload carries the "ABG:" envelope.
func IsCompressed(payload []byte) bool {
	return isCompressed(payload)
}
