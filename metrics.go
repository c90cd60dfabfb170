package clips

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordLoad is called after each load attempt. bytes is the size of the
	// image before compression, err is nil if the image became active.
	RecordLoad(duration time.Duration, bytes int64, err error)

	// RecordUnload is called after each unload attempt. err is an
	// *ImageInUseError when a clear-ready hook refused.
	RecordUnload(err error)

	// RecordSave is called after each save.
	RecordSave(duration time.Duration, bytes int64, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordLoad(time.Duration, int64, error) {}
func (NoopMetricsCollector) RecordUnload(error)                     {}
func (NoopMetricsCollector) RecordSave(time.Duration, int64, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	LoadCount      atomic.Int64
	LoadErrors     atomic.Int64
	LoadTotalNanos atomic.Int64
	LoadBytes      atomic.Int64
	UnloadCount    atomic.Int64
	UnloadVetoes   atomic.Int64
	SaveCount      atomic.Int64
	SaveErrors     atomic.Int64
	SaveTotalNanos atomic.Int64
	SaveBytes      atomic.Int64
}

// RecordLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoad(duration time.Duration, bytes int64, err error) {
	b.LoadCount.Add(1)
	b.LoadTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.LoadErrors.Add(1)
		return
	}
	b.LoadBytes.Add(bytes)
}

// RecordUnload implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUnload(err error) {
	if err != nil {
		b.UnloadVetoes.Add(1)
		return
	}
	b.UnloadCount.Add(1)
}

// RecordSave implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSave(duration time.Duration, bytes int64, err error) {
	b.SaveCount.Add(1)
	b.SaveTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SaveErrors.Add(1)
		return
	}
	b.SaveBytes.Add(bytes)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		LoadCount:    b.LoadCount.Load(),
		LoadErrors:   b.LoadErrors.Load(),
		LoadAvgNanos: avg(b.LoadTotalNanos.Load(), b.LoadCount.Load()),
		LoadBytes:    b.LoadBytes.Load(),
		UnloadCount:  b.UnloadCount.Load(),
		UnloadVetoes: b.UnloadVetoes.Load(),
		SaveCount:    b.SaveCount.Load(),
		SaveErrors:   b.SaveErrors.Load(),
		SaveAvgNanos: avg(b.SaveTotalNanos.Load(), b.SaveCount.Load()),
		SaveBytes:    b.SaveBytes.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	LoadCount    int64
	LoadErrors   int64
	LoadAvgNanos int64
	LoadBytes    int64
	UnloadCount  int64
	UnloadVetoes int64
	SaveCount    int64
	SaveErrors   int64
	SaveAvgNanos int64
	SaveBytes    int64
}
