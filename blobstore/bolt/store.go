// Package bolt stores binary images as values of a bbolt database, one key
// per image name. It suits deployments that keep many small images next to
// other state in a single file.
package bolt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tildemin3/clips-core/blobstore"
)

// ErrClosed is returned when operating on a closed store.
var ErrClosed = errors.New("bolt store closed")

var bucketImages = []byte("images")

// Config holds store configuration.
type Config struct {
	// Path is the database file.
	Path string

	// NoSync disables fsync after each commit.
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool

	// Timeout bounds the wait for the file lock.
	Timeout time.Duration
}

// DefaultConfig returns the default configuration for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:    path,
		Timeout: time.Second,
	}
}

// Store implements blobstore.BlobStore on bbolt.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{
		Timeout:  cfg.Timeout,
		NoSync:   cfg.NoSync,
		ReadOnly: cfg.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}

	if !cfg.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketImages)
			return err
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Open returns a snapshot of the image. The value is copied out of the
// transaction, so the blob stays valid after later writes.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketImages)
		if b == nil {
			return blobstore.ErrNotFound
		}
		v := b.Get([]byte(name))
		if v == nil {
			return blobstore.ErrNotFound
		}
		data = bytes.Clone(v)
		return nil
	})
	if err != nil {
		return nil, s.mapErr(err)
	}
	return blobstore.NewBytesBlob(data), nil
}

// Create buffers the image and stores it in one transaction on Close.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return blobstore.NewBufferedWriter(func(data []byte) error {
		return s.Put(ctx, name, data)
	}), nil
}

// Put stores data under name.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("bolt: empty image name")
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketImages).Put([]byte(name), data)
	})
	return s.mapErr(err)
}

// Delete removes name.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketImages).Delete([]byte(name))
	})
	return s.mapErr(err)
}

// List returns the image names that start with prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketImages)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			names = append(names, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, s.mapErr(err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) mapErr(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}
