package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clips "github.com/tildemin3/clips-core"
	"github.com/tildemin3/clips-core/blobstore"
	"github.com/tildemin3/clips-core/blobstore/bolt"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Len(t, opts, 3)
}

func TestLoad(t *testing.T) {
	t.Setenv("CLIPS_TEST_SECRET", "s3cr3t")

	path := filepath.Join(t.TempDir(), "clips.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  type: minio
  endpoint: localhost:9000
  bucket: images
  prefix: prod
  access_key: admin
  secret_key: ${CLIPS_TEST_SECRET}
compression: zstd
deferred_functions: ["ext-*", "user-?"]
log:
  level: debug
  format: json
resources:
  memory_limit_bytes: 1048576
max_segment_bytes: 4096
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StoreMinIO, cfg.Store.Type)
	assert.Equal(t, "s3cr3t", cfg.Store.SecretKey)
	assert.Equal(t, "prod", cfg.Store.Prefix)
	assert.Equal(t, []string{"ext-*", "user-?"}, cfg.DeferredFunctions)
	assert.Equal(t, int64(1<<20), cfg.Resources.MemoryLimitBytes)
	// Untouched keys keep their defaults.
	assert.Equal(t, int64(1), cfg.Resources.MaxWorkers)

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Len(t, opts, 5)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"syntax", "store: [", "failed to parse"},
		{"store type", "store: {type: ftp}", "unknown store.type"},
		{"local path", "store: {type: local, path: ''}", "store.path"},
		{"minio endpoint", "store: {type: minio, bucket: b}", "store.endpoint"},
		{"minio bucket", "store: {type: minio, endpoint: e}", "store.bucket"},
		{"s3 bucket", "store: {type: s3}", "store.bucket"},
		{"compression", "compression: gzip", "compression"},
		{"level", "log: {level: loud}", "log.level"},
		{"format", "log: {format: xml}", "log.format"},
		{"pattern", "deferred_functions: ['ext-[']", "deferred_functions"},
		{"resources", "resources: {max_workers: -1}", "resources"},
		{"segment", "max_segment_bytes: -1", "max_segment_bytes"},
		{"depth", "max_eval_depth: -1", "max_eval_depth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestOpenStoreLocal(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Store.Path = t.TempDir()

	store, closer, err := cfg.OpenStore(ctx)
	require.NoError(t, err)
	defer closer.Close()
	assert.IsType(t, &blobstore.LocalStore{}, store)
}

func TestOpenStoreBolt(t *testing.T) {
	ctx := context.Background()
	cfg, err := Parse([]byte("store: {type: bolt, path: " + filepath.Join(t.TempDir(), "images.db") + "}"))
	require.NoError(t, err)

	store, closer, err := cfg.OpenStore(ctx)
	require.NoError(t, err)
	assert.IsType(t, &bolt.Store{}, store)
	require.NoError(t, closer.Close())
}

func TestEnvironmentFromConfig(t *testing.T) {
	ctx := context.Background()
	cfg, err := Parse([]byte("store: {type: memory}\ncompression: lz4\nlog: {level: error}\n"))
	require.NoError(t, err)

	store, closer, err := cfg.OpenStore(ctx)
	require.NoError(t, err)
	defer closer.Close()

	opts, err := cfg.Options()
	require.NoError(t, err)
	env := clips.New(append(opts, clips.WithBlobStore(store))...)
	defer env.Close()

	require.NoError(t, env.SaveImage(ctx, "empty.bin"))
	require.NoError(t, env.LoadImage(ctx, "empty.bin"))
	assert.True(t, env.IsImageLoaded())

	data, ok := store.(*blobstore.MemoryStore).Bytes("empty.bin")
	require.True(t, ok)
	assert.NotEmpty(t, data)
}
