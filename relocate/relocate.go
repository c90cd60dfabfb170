// Package relocate reads fixed-stride segments of a binary image and turns
// their raw records into live elements.
//
// Each segment is a block of {count u32, stride u32, raw}. The raw bytes are
// read in bounded chunks into a scratch buffer that is accounted against a
// resource.Controller and released on every return path, and a caller
// supplied function relocates one record at a time. The relocation function
// receives the destination array, so it may take the address of any element
// of it (forward references within one segment) as well as of arrays loaded
// earlier.
package relocate

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/tildemin3/clips-core/image"
	"github.com/tildemin3/clips-core/internal/resource"
)

const (
	// DefaultChunkBytes is the read size used by Refresh.
	DefaultChunkBytes = 64 << 10

	// DefaultMaxSegmentBytes bounds the raw size of one segment.
	DefaultMaxSegmentBytes = 1 << 30
)

// Options configures segment reads.
type Options struct {
	// Resources accounts scratch buffers. May be nil.
	Resources *resource.Controller

	// ChunkBytes is the scratch size used by Refresh. It is raised to one
	// element if smaller.
	ChunkBytes int

	// MaxSegmentBytes rejects segments whose raw size is larger. Loaders
	// also bound the sum of all segments of an image by it.
	MaxSegmentBytes int64
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{ChunkBytes: DefaultChunkBytes, MaxSegmentBytes: DefaultMaxSegmentBytes}
}

// MaxBytes returns the effective MaxSegmentBytes.
func (o Options) MaxBytes() int64 {
	if o.MaxSegmentBytes <= 0 {
		return DefaultMaxSegmentBytes
	}
	return o.MaxSegmentBytes
}

func (o Options) chunkBytes() int {
	if o.ChunkBytes <= 0 {
		return DefaultChunkBytes
	}
	return o.ChunkBytes
}

// Func relocates the raw record of element i into dst[i].
type Func[T any] func(raw []byte, i int, dst []T) error

// ReadSegmentHeader reads the count and stride that precede the raw bytes of
// the segment tag.
func ReadSegmentHeader(r io.Reader, tag image.Tag) (count, stride uint32, err error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, 0, image.NewCorruptImageError(tag, "segment header", image.UnexpectedEOF(err))
	}
	return binary.LittleEndian.Uint32(b[0:4]), binary.LittleEndian.Uint32(b[4:8]), nil
}

// Size validates count and stride and returns the raw size of a segment.
func Size(tag image.Tag, count, stride uint32, opts Options) (int64, error) {
	if count > 0 && stride == 0 {
		return 0, image.NewCorruptImageError(tag, fmt.Sprintf("%d elements with zero stride", count), nil)
	}
	size := uint64(count) * uint64(stride)
	if size > math.MaxInt64 || int64(size) > opts.MaxBytes() {
		return 0, image.NewCorruptImageError(tag, fmt.Sprintf("segment of %d x %d bytes exceeds limit of %d", count, stride, opts.MaxBytes()), nil)
	}
	return int64(size), nil
}

// Load reads count records of the given stride and relocates them into a new
// array of count elements.
func Load[T any](r io.Reader, tag image.Tag, count, stride uint32, opts Options, fn Func[T]) ([]T, error) {
	if _, err := Size(tag, count, stride, opts); err != nil {
		return nil, err
	}
	dst := make([]T, count)
	if err := LoadInto(r, tag, stride, dst, opts, fn); err != nil {
		return nil, err
	}
	return dst, nil
}

// LoadInto reads len(dst) records of the given stride and relocates them
// into dst. dst is typically pre-allocated from the image directory so that
// other segments can already point into it. The raw bytes are read one chunk
// at a time, so a truncated stream is detected without buffering the whole
// segment.
func LoadInto[T any](r io.Reader, tag image.Tag, stride uint32, dst []T, opts Options, fn Func[T]) error {
	return Refresh(r, tag, uint32(len(dst)), stride, opts, func(raw []byte, i int) error {
		return fn(raw, i, dst)
	})
}

// Refresh reads count records in chunks and calls fn for each one. It never
// holds more than one chunk of scratch and is the primitive for segments
// that update existing structures in place.
func Refresh(r io.Reader, tag image.Tag, count, stride uint32, opts Options, fn func(raw []byte, i int) error) error {
	size, err := Size(tag, count, stride, opts)
	if err != nil {
		return err
	}
	if size == 0 {
		return nil
	}

	per := max(opts.chunkBytes()/int(stride), 1)
	chunk := int64(min(int64(per)*int64(stride), size))

	if err := opts.Resources.AcquireMemory(chunk); err != nil {
		return fmt.Errorf("relocate %s: %w", tag, err)
	}
	defer opts.Resources.ReleaseMemory(chunk)

	scratch := make([]byte, chunk)
	s := int(stride)
	for i := 0; i < int(count); {
		n := min(per, int(count)-i)
		buf := scratch[:n*s]
		if _, err := io.ReadFull(r, buf); err != nil {
			return image.NewCorruptImageError(tag, fmt.Sprintf("reading element %d", i), image.UnexpectedEOF(err))
		}
		for j := 0; j < n; j++ {
			if err := fn(buf[j*s:(j+1)*s], i+j); err != nil {
				return err
			}
		}
		i += n
	}
	return nil
}
