// Package config loads environment and tool settings from a YAML file.
//
// A file only needs the keys it changes; everything else keeps the value of
// DefaultConfig. Environment variables in the file are expanded before it is
// parsed, so credentials can be written as ${MINIO_SECRET_KEY}.
//
//	store:
//	  type: minio
//	  endpoint: localhost:9000
//	  bucket: images
//	  access_key: ${MINIO_ACCESS_KEY}
//	  secret_key: ${MINIO_SECRET_KEY}
//	compression: zstd
//	deferred_functions: ["ext-*"]
//	log:
//	  level: debug
//	  format: json
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gobwas/glob"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"gopkg.in/yaml.v3"

	clips "github.com/tildemin3/clips-core"
	"github.com/tildemin3/clips-core/blobstore"
	"github.com/tildemin3/clips-core/blobstore/badger"
	"github.com/tildemin3/clips-core/blobstore/bolt"
	"github.com/tildemin3/clips-core/blobstore/minio"
	"github.com/tildemin3/clips-core/blobstore/s3"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreLocal  = "local"
	StoreBolt   = "bolt"
	StoreBadger = "badger"
	StoreMinIO  = "minio"
	StoreS3     = "s3"
)

// Config is the content of a configuration file.
type Config struct {
	Store             StoreConfig    `yaml:"store" json:"store"`
	Log               LogConfig      `yaml:"log" json:"log"`
	Compression       string         `yaml:"compression" json:"compression"`
	DeferredFunctions []string       `yaml:"deferred_functions" json:"deferred_functions"`
	Resources         ResourceConfig `yaml:"resources" json:"resources"`
	MaxSegmentBytes   int64          `yaml:"max_segment_bytes" json:"max_segment_bytes"`
	MaxEvalDepth      int            `yaml:"max_eval_depth" json:"max_eval_depth"`
}

// StoreConfig selects and addresses the blob store images live in.
type StoreConfig struct {
	Type string `yaml:"type" json:"type"`

	// Path is the root directory of a local store, the database file of a
	// bolt store or the directory of a badger store.
	Path string `yaml:"path" json:"path"`

	Bucket    string `yaml:"bucket" json:"bucket"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Region    string `yaml:"region" json:"region"`
	AccessKey string `yaml:"access_key" json:"-"`
	SecretKey string `yaml:"secret_key" json:"-"`
	UseSSL    bool   `yaml:"use_ssl" json:"use_ssl"`

	// PathStyle addresses S3 buckets by path, as S3-compatible servers
	// usually require.
	PathStyle bool `yaml:"path_style" json:"path_style"`
}

// LogConfig configures the environment logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// ResourceConfig mirrors clips.ResourceConfig.
type ResourceConfig struct {
	MemoryLimitBytes   int64 `yaml:"memory_limit_bytes" json:"memory_limit_bytes"`
	MaxWorkers         int64 `yaml:"max_workers" json:"max_workers"`
	IOLimitBytesPerSec int64 `yaml:"io_limit_bytes_per_sec" json:"io_limit_bytes_per_sec"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Store:       StoreConfig{Type: StoreLocal, Path: "."},
		Log:         LogConfig{Level: "info", Format: "text"},
		Compression: "none",
		Resources:   ResourceConfig{MaxWorkers: 1},
	}
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates data.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case StoreMemory:
	case StoreLocal, StoreBolt, StoreBadger:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for %s stores", c.Store.Type)
		}
	case StoreMinIO:
		if c.Store.Endpoint == "" {
			return errors.New("store.endpoint is required for minio stores")
		}
		if c.Store.Bucket == "" {
			return errors.New("store.bucket is required for minio stores")
		}
	case StoreS3:
		if c.Store.Bucket == "" {
			return errors.New("store.bucket is required for s3 stores")
		}
	default:
		return fmt.Errorf("unknown store.type %q", c.Store.Type)
	}

	if _, err := clips.ParseCompression(c.Compression); err != nil {
		return fmt.Errorf("compression: %w", err)
	}
	if _, err := c.level(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	for _, p := range c.DeferredFunctions {
		if _, err := glob.Compile(p); err != nil {
			return fmt.Errorf("deferred_functions: %q: %w", p, err)
		}
	}
	if c.Resources.MemoryLimitBytes < 0 || c.Resources.MaxWorkers < 0 || c.Resources.IOLimitBytesPerSec < 0 {
		return errors.New("resources must not be negative")
	}
	if c.MaxSegmentBytes < 0 {
		return errors.New("max_segment_bytes must not be negative")
	}
	if c.MaxEvalDepth < 0 {
		return errors.New("max_eval_depth must not be negative")
	}
	return nil
}

func (c *Config) level() (slog.Level, error) {
	var l slog.Level
	if c.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return l, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

// Logger builds the logger described by the log section.
func (c *Config) Logger() (*clips.Logger, error) {
	level, err := c.level()
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(c.Log.Format, "json") {
		return clips.NewJSONLogger(level), nil
	}
	return clips.NewTextLogger(level), nil
}

// Options returns the environment options described by c, except the blob
// store, which OpenStore builds.
func (c *Config) Options() ([]clips.Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	logger, err := c.Logger()
	if err != nil {
		return nil, err
	}
	comp, err := clips.ParseCompression(c.Compression)
	if err != nil {
		return nil, err
	}

	opts := []clips.Option{
		clips.WithLogger(logger),
		clips.WithCompression(comp),
		clips.WithResources(clips.ResourceConfig{
			MemoryLimitBytes:   c.Resources.MemoryLimitBytes,
			MaxWorkers:         c.Resources.MaxWorkers,
			IOLimitBytesPerSec: c.Resources.IOLimitBytesPerSec,
		}),
	}
	if len(c.DeferredFunctions) > 0 {
		opts = append(opts, clips.WithDeferredFunctions(c.DeferredFunctions...))
	}
	if c.MaxSegmentBytes > 0 {
		opts = append(opts, clips.WithMaxSegmentBytes(c.MaxSegmentBytes))
	}
	if c.MaxEvalDepth > 0 {
		opts = append(opts, clips.WithMaxEvalDepth(c.MaxEvalDepth))
	}
	return opts, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenStore builds the blob store of the store section. The returned closer
// releases database handles and must be called once the store is no longer
// used.
func (c *Config) OpenStore(ctx context.Context) (blobstore.BlobStore, io.Closer, error) {
	sc := c.Store
	switch sc.Type {
	case StoreMemory:
		return blobstore.NewMemoryStore(), nopCloser{}, nil

	case StoreLocal:
		return blobstore.NewLocalStore(sc.Path), nopCloser{}, nil

	case StoreBolt:
		s, err := bolt.Open(bolt.DefaultConfig(sc.Path))
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case StoreBadger:
		s, err := badger.Open(badger.DefaultConfig(sc.Path))
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case StoreMinIO:
		client, err := miniogo.New(sc.Endpoint, &miniogo.Options{
			Creds:  credentials.NewStaticV4(sc.AccessKey, sc.SecretKey, ""),
			Secure: sc.UseSSL,
			Region: sc.Region,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("minio client: %w", err)
		}
		return minio.NewStore(client, sc.Bucket, sc.Prefix), nopCloser{}, nil

	case StoreS3:
		var loadOpts []func(*awsconfig.LoadOptions) error
		if sc.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(sc.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("aws config: %w", err)
		}
		client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
			if sc.Endpoint != "" {
				o.BaseEndpoint = &sc.Endpoint
			}
			o.UsePathStyle = sc.PathStyle
		})
		return s3.NewStore(client, sc.Bucket, sc.Prefix), nopCloser{}, nil
	}
	return nil, nil, fmt.Errorf("unknown store.type %q", sc.Type)
}
