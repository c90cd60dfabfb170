// Package resource accounts the resources image loads and saves consume.
//
//   - Memory: scratch buffers of the relocating loader (non-blocking, fail-fast)
//   - Workers: concurrent image jobs of the tooling
//   - IO: token bucket over image reads and writes
//
// # Memory
//
// Every scratch buffer is reserved before allocation and released on every
// return path, so MemoryUsage returns to zero after each load, failed or not:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 64 << 20,
//	})
//
//	if err := rc.AcquireMemory(n); err != nil {
//	    // ErrMemoryLimitExceeded
//	}
//	defer rc.ReleaseMemory(n)
//
// # IO
//
//	r := resource.NewRateLimitedReader(ctx, blob, rc)
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully; they become no-ops.
package resource
