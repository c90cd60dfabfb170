package image

import (
	"io"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// Digest is the BLAKE3-256 trailer of an image.
type Digest [DigestSize]byte

// String returns the base58 form of the digest.
func (d Digest) String() string {
	return base58.Encode(d[:])
}

// IsZero reports whether d is unset.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ParseDigest decodes the base58 form produced by Digest.String.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := base58.Decode(s)
	if err != nil {
		return d, err
	}
	if len(raw) != DigestSize {
		return d, NewCorruptImageError(0, "digest length", nil)
	}
	copy(d[:], raw)
	return d, nil
}

func sumDigest(h *blake3.Hasher) Digest {
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// hashingWriter wraps an io.Writer and feeds every byte written into a
// running BLAKE3 hash.
type hashingWriter struct {
	w    io.Writer
	hash *blake3.Hasher
	n    int64
}

func (hw *hashingWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	if n > 0 {
		_, _ = hw.hash.Write(p[:n])
		hw.n += int64(n)
	}
	return n, err
}

// hashingReader wraps an io.Reader and hashes the bytes actually read.
type hashingReader struct {
	r    io.Reader
	hash *blake3.Hasher
	n    int64
}

func (hr *hashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		_, _ = hr.hash.Write(p[:n])
		hr.n += int64(n)
	}
	return n, err
}
