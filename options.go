package clips

import (
	"io"
	"log/slog"

	"github.com/tildemin3/clips-core/blobstore"
	"github.com/tildemin3/clips-core/image"
	"github.com/tildemin3/clips-core/internal/envelope"
	"github.com/tildemin3/clips-core/internal/resource"
	"github.com/tildemin3/clips-core/relocate"
)

// Compression is the frame an image is wrapped in when saved. Loads detect
// it on their own.
type Compression = envelope.Compression

const (
	CompressionNone = envelope.CompressionNone
	CompressionLZ4  = envelope.CompressionLZ4
	CompressionZSTD = envelope.CompressionZSTD
)

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	return envelope.ParseCompression(s)
}

// ResourceConfig limits the scratch memory and IO bandwidth of image
// operations.
type ResourceConfig = resource.Config

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	store            blobstore.BlobStore
	resources        ResourceConfig
	build            image.Build
	deferred         []string
	diagnostics      io.Writer
	compression      Compression
	maxSegmentBytes  int64
	maxEvalDepth     int
}

// Option configures an Environment.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &clips.BasicMetricsCollector{}
//	env := clips.New(clips.WithMetricsCollector(metrics))
//	// ... use env ...
//	stats := metrics.GetStats()
//	fmt.Printf("Loads: %d, Avg latency: %dns\n", stats.LoadCount, stats.LoadAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := clips.NewJSONLogger(slog.LevelInfo)
//	env := clips.New(clips.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithBlobStore sets where LoadImage and SaveImage find images by name.
// The default is an in-memory store.
func WithBlobStore(store blobstore.BlobStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithResources limits the scratch memory held by loads and the IO
// bandwidth of image reads and writes.
func WithResources(cfg ResourceConfig) Option {
	return func(o *options) {
		o.resources = cfg
	}
}

// WithBuild overrides the prefix, version and record sizes images are
// written with and must match on load.
func WithBuild(b image.Build) Option {
	return func(o *options) {
		o.build = b
	}
}

// WithDeferredFunctions lets images reference functions matching any of the
// glob patterns without them being registered. Such calls fail when
// evaluated instead of failing the load.
func WithDeferredFunctions(patterns ...string) Option {
	return func(o *options) {
		o.deferred = append(o.deferred, patterns...)
	}
}

// WithDiagnostics sets where command diagnostics are printed. The default
// discards them.
func WithDiagnostics(w io.Writer) Option {
	return func(o *options) {
		o.diagnostics = w
	}
}

// WithCompression sets the frame SaveImage wraps images in.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithMaxSegmentBytes bounds the raw size of a single image segment.
func WithMaxSegmentBytes(n int64) Option {
	return func(o *options) {
		o.maxSegmentBytes = n
	}
}

// WithMaxEvalDepth bounds the call depth of evaluations.
func WithMaxEvalDepth(n int) Option {
	return func(o *options) {
		o.maxEvalDepth = n
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		build:            image.CurrentBuild(),
		maxSegmentBytes:  relocate.DefaultMaxSegmentBytes,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.store == nil {
		o.store = blobstore.NewMemoryStore()
	}
	return o
}
