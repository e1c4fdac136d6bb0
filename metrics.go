package memmap

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// metrics/prometheus package provides a ready-made one.
type MetricsCollector interface {
	// RecordMap is called after each mmap. length is the requested size.
	RecordMap(length uintptr, duration time.Duration, err error)

	// RecordUnmap is called after each munmap.
	RecordUnmap(length uintptr, duration time.Duration, err error)

	// RecordProtect is called after each mprotect.
	RecordProtect(length uintptr, duration time.Duration, err error)

	// RecordSync is called after each msync.
	RecordSync(length uintptr, duration time.Duration, err error)

	// RecordAdvise is called after each madvise.
	RecordAdvise(advice Advice, length uintptr, duration time.Duration, err error)

	// RecordLock is called after each lock or unlock call, the bulk
	// variants included. locked is false for unlock calls.
	RecordLock(locked bool, length uintptr, duration time.Duration, err error)

	// RecordQuery is called after each mincore. pages is the number of
	// status entries written.
	RecordQuery(pages int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordMap(uintptr, time.Duration, error)            {}
func (NoopMetricsCollector) RecordUnmap(uintptr, time.Duration, error)          {}
func (NoopMetricsCollector) RecordProtect(uintptr, time.Duration, error)        {}
func (NoopMetricsCollector) RecordSync(uintptr, time.Duration, error)           {}
func (NoopMetricsCollector) RecordAdvise(Advice, uintptr, time.Duration, error) {}
func (NoopMetricsCollector) RecordLock(bool, uintptr, time.Duration, error)     {}
func (NoopMetricsCollector) RecordQuery(int, time.Duration, error)              {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	MapCount       atomic.Int64
	MapErrors      atomic.Int64
	MapBytes       atomic.Int64
	MapTotalNanos  atomic.Int64
	UnmapCount     atomic.Int64
	UnmapErrors    atomic.Int64
	UnmapBytes     atomic.Int64
	ProtectCount   atomic.Int64
	ProtectErrors  atomic.Int64
	SyncCount      atomic.Int64
	SyncErrors     atomic.Int64
	AdviseCount    atomic.Int64
	AdviseErrors   atomic.Int64
	LockCount      atomic.Int64
	LockErrors     atomic.Int64
	UnlockCount    atomic.Int64
	UnlockErrors   atomic.Int64
	QueryCount     atomic.Int64
	QueryErrors    atomic.Int64
	QueryPages     atomic.Int64
	QueryTotalNano atomic.Int64
}

// RecordMap implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMap(length uintptr, duration time.Duration, err error) {
	b.MapCount.Add(1)
	b.MapTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.MapErrors.Add(1)
		return
	}
	b.MapBytes.Add(int64(length))
}

// RecordUnmap implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUnmap(length uintptr, duration time.Duration, err error) {
	b.UnmapCount.Add(1)
	if err != nil {
		b.UnmapErrors.Add(1)
		return
	}
	b.UnmapBytes.Add(int64(length))
}

// RecordProtect implements MetricsCollector.
func (b *BasicMetricsCollector) RecordProtect(length uintptr, duration time.Duration, err error) {
	b.ProtectCount.Add(1)
	if err != nil {
		b.ProtectErrors.Add(1)
	}
}

// RecordSync implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSync(length uintptr, duration time.Duration, err error) {
	b.SyncCount.Add(1)
	if err != nil {
		b.SyncErrors.Add(1)
	}
}

// RecordAdvise implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAdvise(advice Advice, length uintptr, duration time.Duration, err error) {
	b.AdviseCount.Add(1)
	if err != nil {
		b.AdviseErrors.Add(1)
	}
}

// RecordLock implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLock(locked bool, length uintptr, duration time.Duration, err error) {
	if locked {
		b.LockCount.Add(1)
		if err != nil {
			b.LockErrors.Add(1)
		}
		return
	}
	b.UnlockCount.Add(1)
	if err != nil {
		b.UnlockErrors.Add(1)
	}
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(pages int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryPages.Add(int64(pages))
	b.QueryTotalNano.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		MapCount:      b.MapCount.Load(),
		MapErrors:     b.MapErrors.Load(),
		MapBytes:      b.MapBytes.Load(),
		MapAvgNanos:   avg(b.MapTotalNanos.Load(), b.MapCount.Load()),
		UnmapCount:    b.UnmapCount.Load(),
		UnmapErrors:   b.UnmapErrors.Load(),
		UnmapBytes:    b.UnmapBytes.Load(),
		ProtectCount:  b.ProtectCount.Load(),
		ProtectErrors: b.ProtectErrors.Load(),
		SyncCount:     b.SyncCount.Load(),
		SyncErrors:    b.SyncErrors.Load(),
		AdviseCount:   b.AdviseCount.Load(),
		AdviseErrors:  b.AdviseErrors.Load(),
		LockCount:     b.LockCount.Load(),
		LockErrors:    b.LockErrors.Load(),
		UnlockCount:   b.UnlockCount.Load(),
		UnlockErrors:  b.UnlockErrors.Load(),
		QueryCount:    b.QueryCount.Load(),
		QueryErrors:   b.QueryErrors.Load(),
		QueryPages:    b.QueryPages.Load(),
		QueryAvgNanos: avg(b.QueryTotalNano.Load(), b.QueryCount.Load()),
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
	MapCount      int64
	MapErrors     int64
	MapBytes      int64
	MapAvgNanos   int64
	UnmapCount    int64
	UnmapErrors   int64
	UnmapBytes    int64
	ProtectCount  int64
	ProtectErrors int64
	SyncCount     int64
	SyncErrors    int64
	AdviseCount   int64
	AdviseErrors  int64
	LockCount     int64
	LockErrors    int64
	UnlockCount   int64
	UnlockErrors  int64
	QueryCount    int64
	QueryErrors   int64
	QueryPages    int64
	QueryAvgNanos int64
}
