package image

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// ErrWriterClosed is returned when writing to a closed Writer.
var ErrWriterClosed = errors.New("image writer closed")

// Writer emits an image in the order header, directory, blocks, trailer.
// The first error is sticky; later calls return it without writing.
type Writer struct {
	hw      *hashingWriter
	scratch []byte
	err     error
	closed  bool
}

// NewWriter creates a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		hw:      &hashingWriter{w: w, hash: blake3.New()},
		scratch: make([]byte, 0, 64),
	}
}

// Written returns the number of bytes written so far.
func (w *Writer) Written() int64 {
	return w.hw.n
}

func (w *Writer) write(p []byte) {
	if w.err != nil {
		return
	}
	if w.closed {
		w.err = ErrWriterClosed
		return
	}
	_, w.err = w.hw.Write(p)
}

// WriteHeader writes the prefix, the padded version and the size table.
func (w *Writer) WriteHeader(h Header) error {
	if len(h.Version) > VersionSize {
		w.err = fmt.Errorf("image: version %q longer than %d bytes", h.Version, VersionSize)
		return w.err
	}
	w.write([]byte(h.Prefix))

	var version [VersionSize]byte
	copy(version[:], h.Version)
	w.write(version[:])

	b := w.scratch[:0]
	b = binary.LittleEndian.AppendUint32(b, uint32(len(h.Sizes)))
	for _, t := range h.Sizes.Tags() {
		b = binary.LittleEndian.AppendUint16(b, uint16(t))
		b = binary.LittleEndian.AppendUint32(b, h.Sizes[t])
	}
	w.write(b)
	return w.err
}

// WriteDirectory writes the segment counts in load order.
func (w *Writer) WriteDirectory(d Directory) error {
	b := w.scratch[:0]
	b = binary.LittleEndian.AppendUint32(b, uint32(len(d)))
	for _, e := range d {
		b = binary.LittleEndian.AppendUint16(b, uint16(e.Tag))
		b = binary.LittleEndian.AppendUint32(b, e.Count)
	}
	w.write(b)
	return w.err
}

// WriteBlock writes one segment block. raw must hold count*stride bytes.
func (w *Writer) WriteBlock(count, stride uint32, raw []byte) error {
	if uint64(len(raw)) != uint64(count)*uint64(stride) {
		w.err = fmt.Errorf("image: block holds %d bytes, want %d*%d", len(raw), count, stride)
		return w.err
	}
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], count)
	binary.LittleEndian.PutUint32(hdr[4:8], stride)
	w.write(hdr[:])
	w.write(raw)
	return w.err
}

// Close writes the digest trailer and returns it. It does not close the
// underlying writer.
func (w *Writer) Close() (Digest, error) {
	if w.err != nil {
		return Digest{}, w.err
	}
	if w.closed {
		return Digest{}, ErrWriterClosed
	}
	d := sumDigest(w.hw.hash)
	w.write(d[:])
	w.closed = true
	return d, w.err
}
