package image

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

const (
	// MaxSizeTableEntries bounds the size table of a well-formed image.
	MaxSizeTableEntries = 256
)

// Reader consumes an image front to back while hashing everything it reads,
// so that the trailer can be verified once the last block is consumed.
type Reader struct {
	hr *hashingReader
}

// NewReader creates a Reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{hr: &hashingReader{r: r, hash: blake3.New()}}
}

// Read implements io.Reader. Bytes read through it are part of the digest.
func (r *Reader) Read(p []byte) (int, error) {
	return r.hr.Read(p)
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int64 {
	return r.hr.n
}

// ReadHeader reads the prologue and validates it against b, checking the
// prefix, then the version, then the size table. Validation stops at the
// first mismatch so a foreign file is reported as such rather than as a
// version problem.
func (r *Reader) ReadHeader(b Build) (Header, error) {
	var h Header

	prefix := make([]byte, len(b.Prefix))
	if _, err := io.ReadFull(r, prefix); err != nil {
		return h, corruptHeader("prefix", err)
	}
	h.Prefix = string(prefix)
	if h.Prefix != b.Prefix {
		return h, &IncompatibleImageError{Reason: ReasonPrefix, Expected: b.Prefix, Actual: h.Prefix}
	}

	var version [VersionSize]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return h, corruptHeader("version", err)
	}
	h.Version = string(bytes.TrimRight(version[:], "\x00"))
	if h.Version != b.Version {
		return h, &IncompatibleImageError{Reason: ReasonVersion, Expected: b.Version, Actual: h.Version}
	}

	n, err := r.readUint32()
	if err != nil {
		return h, corruptHeader("size table", err)
	}
	if n > MaxSizeTableEntries {
		return h, NewCorruptImageError(0, fmt.Sprintf("size table has %d entries", n), nil)
	}
	h.Sizes = make(SizeTable, n)
	entry := make([]byte, 6)
	for i := uint32(0); i < n; i++ {
		if _, err := io.ReadFull(r, entry); err != nil {
			return h, corruptHeader("size table", err)
		}
		tag := Tag(binary.LittleEndian.Uint16(entry[0:2]))
		if _, dup := h.Sizes[tag]; dup {
			return h, NewCorruptImageError(0, fmt.Sprintf("size table repeats %s", tag), nil)
		}
		h.Sizes[tag] = binary.LittleEndian.Uint32(entry[2:6])
	}
	if err := h.Sizes.Verify(b.Sizes); err != nil {
		return h, err
	}
	return h, nil
}

// ReadDirectory reads the segment directory and checks that it lists
// exactly the segments of LoadOrder, in that order.
func (r *Reader) ReadDirectory() (Directory, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, corruptHeader("directory", err)
	}
	if int(n) != len(LoadOrder) {
		return nil, NewCorruptImageError(0, fmt.Sprintf("directory lists %d segments, want %d", n, len(LoadOrder)), nil)
	}
	d := make(Directory, n)
	entry := make([]byte, 6)
	for i := range d {
		if _, err := io.ReadFull(r, entry); err != nil {
			return nil, corruptHeader("directory", err)
		}
		d[i] = DirectoryEntry{
			Tag:   Tag(binary.LittleEndian.Uint16(entry[0:2])),
			Count: binary.LittleEndian.Uint32(entry[2:6]),
		}
		if d[i].Tag != LoadOrder[i] {
			return nil, NewCorruptImageError(0, fmt.Sprintf("directory entry %d is %s, want %s", i, d[i].Tag, LoadOrder[i]), nil)
		}
	}
	return d, nil
}

// VerifyTrailer reads the digest trailer and compares it with the hash of
// everything consumed before it. Trailing bytes after the digest are
// reported as corruption.
func (r *Reader) VerifyTrailer() (Digest, error) {
	want := sumDigest(r.hr.hash)

	var got Digest
	if _, err := io.ReadFull(r.hr.r, got[:]); err != nil {
		return got, NewCorruptImageError(0, "trailer", UnexpectedEOF(err))
	}
	if got != want {
		return got, NewCorruptImageError(0, fmt.Sprintf("digest mismatch: expected %s, got %s", want, got), nil)
	}

	var extra [1]byte
	if n, _ := io.ReadFull(r.hr.r, extra[:]); n != 0 {
		return got, NewCorruptImageError(0, "trailing data after digest", nil)
	}
	return got, nil
}

func (r *Reader) readUint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func corruptHeader(field string, err error) error {
	return NewCorruptImageError(0, field, UnexpectedEOF(err))
}

// UnexpectedEOF normalizes a clean EOF inside a structure into
// io.ErrUnexpectedEOF.
func UnexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
