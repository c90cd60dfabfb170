// Package envelope wraps whole images in an optional compression frame.
//
// The frame is recognized by its magic number, so readers need no flag:
// zstd and LZ4 frames are decompressed transparently and anything else is
// passed through unchanged.
package envelope

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression is the frame format of an image.
type Compression uint8

const (
	// CompressionNone stores the image as is.
	CompressionNone Compression = iota
	// CompressionLZ4 uses an LZ4 frame (fast).
	CompressionLZ4
	// CompressionZSTD uses a zstd frame (better ratio).
	CompressionZSTD
)

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd", "zst":
		return CompressionZSTD, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Compression) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Compression) UnmarshalText(b []byte) error {
	v, err := ParseCompression(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

var zstdDecoderPool sync.Pool

func getZstdDecoder(r io.Reader) (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		dec := v.(*zstd.Decoder)
		if err := dec.Reset(r); err != nil {
			return nil, err
		}
		return dec, nil
	}
	return zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewWriter wraps w in a frame of type c. Closing the writer flushes the
// frame but does not close w.
func NewWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionZSTD:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	default:
		return nil, fmt.Errorf("unknown compression %d", c)
	}
}

// Reader is a decompressing reader returned by NewReader.
type Reader struct {
	io.Reader
	compression Compression
	zstd        *zstd.Decoder
}

// Compression returns the detected frame format.
func (r *Reader) Compression() Compression { return r.compression }

// Close releases decoder state. It does not close the source.
func (r *Reader) Close() error {
	if r.zstd != nil {
		_ = r.zstd.Reset(nil)
		zstdDecoderPool.Put(r.zstd)
		r.zstd = nil
	}
	return nil
}

// NewReader sniffs the frame magic of r and returns a reader of the plain
// image.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil && err != io.EOF {
		return nil, err
	}

	switch {
	case bytes.Equal(magic, zstdMagic):
		dec, err := getZstdDecoder(br)
		if err != nil {
			return nil, fmt.Errorf("zstd frame: %w", err)
		}
		return &Reader{Reader: dec, compression: CompressionZSTD, zstd: dec}, nil
	case bytes.Equal(magic, lz4Magic):
		return &Reader{Reader: lz4.NewReader(br), compression: CompressionLZ4}, nil
	default:
		return &Reader{Reader: br, compression: CompressionNone}, nil
	}
}

// Detect reports the frame format of the leading bytes of an image.
func Detect(head []byte) Compression {
	switch {
	case bytes.HasPrefix(head, zstdMagic):
		return CompressionZSTD
	case bytes.HasPrefix(head, lz4Magic):
		return CompressionLZ4
	default:
		return CompressionNone
	}
}
