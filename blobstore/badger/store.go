// Package badger stores binary images in a BadgerDB instance. Image bytes
// live in the value log, which keeps large images out of the LSM tree.
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/tildemin3/clips-core/blobstore"
)

var keyPrefix = []byte("img/")

// Config holds store configuration.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in memory.
	InMemory bool

	// SyncWrites syncs every write to disk.
	SyncWrites bool

	// ValueLogFileSize is the size of each value log file.
	ValueLogFileSize int64

	// Logger receives badger's own messages. Nil disables them.
	Logger badger.Logger
}

// DefaultConfig returns the default configuration for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:             path,
		SyncWrites:       true,
		ValueLogFileSize: 256 << 20,
	}
}

// Store implements blobstore.BlobStore on BadgerDB.
type Store struct {
	db *badger.DB
}

// Open opens the database described by cfg.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(cfg.Logger)
	if cfg.ValueLogFileSize > 0 && !cfg.InMemory {
		opts = opts.WithValueLogFileSize(cfg.ValueLogFileSize)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(name string) []byte {
	return append(bytes.Clone(keyPrefix), name...)
}

// Open returns a copy of the stored image.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(name))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, blobstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return blobstore.NewBytesBlob(data), nil
}

// Create buffers the image and commits it on Close.
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
		return fmt.Errorf("badger: empty image name")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(name), data)
	})
}

// Delete removes name.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(name))
	})
}

// List returns the image names that start with prefix, in key order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = key(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			names = append(names, string(it.Item().Key()[len(keyPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}
