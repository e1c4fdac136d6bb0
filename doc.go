// Package memmap provides POSIX memory-mapping semantics on top of a
// Windows-style virtual-memory host.
//
// The Engine implements mmap, munmap, mprotect, msync, madvise, the mlock
// family and mincore over reserve/commit allocations and section views. The
// host is pluggable: host/win drives the real operating system, host/sim
// models it in-process for tests and other platforms.
//
// # Quick Start
//
//	e, _ := memmap.New()
//
//	// Anonymous memory
//	addr, _ := e.Mmap(0, 1<<20, memmap.ProtRead|memmap.ProtWrite,
//	    memmap.MapPrivate|memmap.MapAnonymous, -1, 0)
//	buf, _ := e.Bytes(addr, 1<<20)
//	buf[0] = 42
//	_ = e.Munmap(addr, 1<<20)
//
//	// File mapping through the default descriptor table
//	f, _ := os.OpenFile("data.bin", os.O_RDWR, 0)
//	fd, _ := e.Files().Register(f)
//	addr, _ = e.Mmap(0, 4096, memmap.ProtRead|memmap.ProtWrite, memmap.MapShared, fd, 0)
//	_ = e.Msync(addr, 4096, memmap.MsSync)
//
// # Strict and Lenient Mode
//
// By default the engine is lenient: unaligned addresses are rounded down,
// unknown protection bits are masked and unknown advice is ignored. With
// WithStrict(true) the same inputs fail with ErrInvalidArgument, as POSIX
// requires.
//
//	e, _ := memmap.New(memmap.WithStrict(true))
//
// # Sections and Views
//
// All file mappings of one file share a cached section object. The access a
// section asks for is controlled by the inference policies:
//
//	memmap.WithWriteInference(memmap.InferProbe) // try read-write, fall back
//	memmap.WithExecInference(memmap.InferAsRequested)
//
// Views are aligned to the allocation granularity. Offsets that are not
// aligned are handled by mapping from the aligned offset below and
// returning an address inside the view.
//
// Views cannot be split. Unmapping part of a view makes those pages
// inaccessible; the view is released once every page has been unmapped.
//
// # Errors
//
// Every failure is an *OpError. It matches both the POSIX-kind sentinel and
// the host cause:
//
//	_, err := e.Mmap(0, 0, memmap.ProtRead, memmap.MapAnonymous|memmap.MapPrivate, -1, 0)
//	errors.Is(err, memmap.ErrInvalidArgument) // true
//	memmap.Errno(err)                         // syscall.EINVAL
//
// The mman package wraps a process-wide engine in the C calling convention
// with an errno slot.
//
// # Observability
//
// Logging goes through *Logger (log/slog); the default logger discards.
// Metrics go through a MetricsCollector; BasicMetricsCollector keeps atomic
// counters and metrics/prometheus exports to a Prometheus registry.
//
//	mc := &memmap.BasicMetricsCollector{}
//	e, _ := memmap.New(memmap.WithMetricsCollector(mc), memmap.WithLogLevel(slog.LevelDebug))
//
// # Emergency Mode
//
// EnterEmergencyMode stops all internal bookkeeping for processes whose heap
// can no longer be trusted, such as crash handlers. Calls then map directly
// to host primitives. The mode cannot be left.
package memmap
