package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tildemin3/clips-core/internal/resource"
)

// OpenReader opens name and returns a sequential reader over the whole blob.
// Mappable blobs are read in place; others are streamed with ReadRange.
// Reads are charged against the IO limit of rc, which may be nil.
func OpenReader(ctx context.Context, store BlobStore, name string, rc *resource.Controller) (io.ReadCloser, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}

	var src io.Reader
	var body io.Closer
	if m, ok := blob.(Mappable); ok {
		data, err := m.Bytes()
		if err != nil {
			_ = blob.Close()
			return nil, err
		}
		src = bytes.NewReader(data)
	} else if blob.Size() == 0 {
		src = bytes.NewReader(nil)
	} else {
		rr, err := blob.ReadRange(ctx, 0, blob.Size())
		if err != nil {
			_ = blob.Close()
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		src, body = rr, rr
	}

	return &sequentialReader{
		Reader: resource.NewRateLimitedReader(ctx, src, rc),
		blob:   blob,
		body:   body,
	}, nil
}

type sequentialReader struct {
	io.Reader
	blob Blob
	body io.Closer
}

func (r *sequentialReader) Close() error {
	var errs []error
	if r.body != nil {
		errs = append(errs, r.body.Close())
	}
	errs = append(errs, r.blob.Close())
	return errors.Join(errs...)
}

// WriteBlob streams fn's output into a new blob called name, committing on
// success and aborting on failure.
func WriteBlob(ctx context.Context, store BlobStore, name string, rc *resource.Controller, fn func(io.Writer) error) error {
	w, err := store.Create(ctx, name)
	if err != nil {
		return err
	}
	if err := fn(resource.NewRateLimitedWriter(ctx, w, rc)); err != nil {
		return errors.Join(err, w.Abort())
	}
	return w.Close()
}
