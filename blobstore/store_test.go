package blobstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tildemin3/clips-core/internal/fs"
	"github.com/tildemin3/clips-core/internal/resource"
)

func stores(t *testing.T) map[string]BlobStore {
	return map[string]BlobStore{
		"local":    NewLocalStore(t.TempDir()),
		"local-fs": NewLocalStore(t.TempDir(), WithFileSystem(fs.Default)),
		"memory":   NewMemoryStore(),
	}
}

func TestBlobStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	data := []byte("\x01\x02\x03\x04CLIPS image payload")

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			w, err := store.Create(ctx, "kb/rules.img")
			require.NoError(t, err)
			n, err := w.Write(data)
			require.NoError(t, err)
			require.Equal(t, len(data), n)
			require.NoError(t, w.Close())
			assert.Error(t, w.Close())

			blob, err := store.Open(ctx, "kb/rules.img")
			require.NoError(t, err)
			require.Equal(t, int64(len(data)), blob.Size())

			buf := make([]byte, 5)
			n, err = blob.ReadAt(ctx, buf, 4)
			require.NoError(t, err)
			assert.Equal(t, 5, n)
			assert.Equal(t, "CLIPS", string(buf))

			rr, err := blob.ReadRange(ctx, 10, 5)
			require.NoError(t, err)
			got, err := io.ReadAll(rr)
			require.NoError(t, err)
			assert.Equal(t, "image", string(got))
			require.NoError(t, rr.Close())
			require.NoError(t, blob.Close())

			require.NoError(t, store.Put(ctx, "other.img", []byte("x")))
			names, err := store.List(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"kb/rules.img", "other.img"}, names)

			names, err = store.List(ctx, "kb/")
			require.NoError(t, err)
			assert.Equal(t, []string{"kb/rules.img"}, names)

			require.NoError(t, store.Delete(ctx, "other.img"))
			require.NoError(t, store.Delete(ctx, "other.img"))
			_, err = store.Open(ctx, "other.img")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestBlobStore_Abort(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			w, err := store.Create(ctx, "half.img")
			require.NoError(t, err)
			_, err = w.Write([]byte("partial"))
			require.NoError(t, err)
			require.NoError(t, w.Abort())
			require.NoError(t, w.Abort())

			_, err = store.Open(ctx, "half.img")
			assert.ErrorIs(t, err, ErrNotFound)
			names, err := store.List(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, names)
		})
	}
}

func TestOpenReaderAndWriteBlob(t *testing.T) {
	ctx := context.Background()
	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 20})
	payload := []byte("streamed image bytes")

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := WriteBlob(ctx, store, "s.img", rc, func(w io.Writer) error {
				_, err := w.Write(payload)
				return err
			})
			require.NoError(t, err)

			r, err := OpenReader(ctx, store, "s.img", rc)
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			assert.Equal(t, payload, got)

			boom := errors.New("encoder failed")
			err = WriteBlob(ctx, store, "bad.img", rc, func(w io.Writer) error {
				_, _ = w.Write([]byte("junk"))
				return boom
			})
			assert.ErrorIs(t, err, boom)
			_, err = store.Open(ctx, "bad.img")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = OpenReader(ctx, store, "missing.img", rc)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestLocalStore_Faults(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	store := NewLocalStore(dir, WithFileSystem(ffs))

	require.NoError(t, store.Put(ctx, "kb.img", []byte("0123456789")))

	require.NoError(t, ffs.AddRule("kb.img", fs.Fault{FailAfterWriteBytes: -1, FailAfterReadBytes: 4}))
	r, err := OpenReader(ctx, store, "kb.img", nil)
	require.NoError(t, err)
	defer r.Close()
	_, err = io.ReadAll(r)
	assert.ErrorIs(t, err, fs.ErrInjected)

	// A failed rename leaves neither the target nor the temporary file.
	require.NoError(t, ffs.AddRule("new.img", fs.Fault{FailAfterWriteBytes: -1, FailAfterReadBytes: -1, FailOnRename: true}))
	err = store.Put(ctx, "new.img", []byte("abc"))
	assert.ErrorIs(t, err, fs.ErrInjected)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "kb.img", entries[0].Name())

	_, err = store.Open(ctx, "../escape.img")
	assert.Error(t, err)
	_, err = os.Stat(filepath.Join(dir, "new.img"))
	assert.True(t, os.IsNotExist(err))
}
