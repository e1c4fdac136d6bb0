package memmap

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/memmap/host"
	"github.com/hupe1980/memmap/internal/resource"
	"github.com/hupe1980/memmap/walk"
)

// Engine implements the POSIX mapping calls on top of a host.
//
// Policy is read as an atomic snapshot by every call. Bookkeeping (section
// cache, view records, lock accounting, offered pages and dump exclusions)
// is guarded by one mutex; native calls on overlapping ranges race exactly
// as POSIX allows.
type Engine struct {
	host    host.Host
	info    host.SystemInfo
	policy  atomic.Pointer[Policy]
	logger  *Logger
	metrics MetricsCollector
	budget  *resource.Controller

	emergency atomic.Bool
	mapped    atomic.Bool

	mu         sync.Mutex
	resolver   Resolver
	files      *FileTable
	sections   map[host.Handle]*sectionRecord // by file handle
	views      map[uintptr]*viewRecord        // by view base
	private    map[uintptr]*privateRecord     // by allocation base
	locked     *roaring64.Bitmap              // page numbers
	offered    *roaring64.Bitmap              // page numbers
	excluded   map[uintptr]uintptr
	lockFuture bool
}

// sectionRecord is a cached section object for one file handle.
type sectionRecord struct {
	file   host.Handle
	handle host.Handle
	size   uint64
	write  bool
	exec   bool
	image  bool
	refs   int
}

func (s *sectionRecord) covers(write, exec, image bool) bool {
	return s.image == image && (s.write || !write) && (s.exec || !exec)
}

// privateRecord tracks an anonymous allocation the engine reserved.
// unmapped holds the page indices (relative to the base) removed by Munmap.
type privateRecord struct {
	size     uintptr
	unmapped *roaring.Bitmap
}

// viewRecord tracks a view the engine created. live holds the page indices
// (relative to base) the caller has not unmapped yet.
type viewRecord struct {
	base    uintptr
	size    uintptr
	section *sectionRecord
	live    *roaring.Bitmap
}

// New creates an engine. Without WithHost, the native host of the platform
// is used.
func New(optFns ...Option) (*Engine, error) {
	o := options{
		policy:           DefaultPolicy(),
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		fn(&o)
	}

	if o.host == nil {
		h, err := nativeHost()
		if err != nil {
			return nil, err
		}
		o.host = h
	}
	if err := o.policy.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if o.resolverSet && o.resolver == nil {
		return nil, fmt.Errorf("%w: nil resolver", ErrInvalidArgument)
	}

	info := o.host.SystemInfo()
	if info.PageSize == 0 || info.PageSize&(info.PageSize-1) != 0 {
		return nil, fmt.Errorf("%w: host page size %d", ErrInvalidArgument, info.PageSize)
	}
	if info.AllocationGranularity < info.PageSize {
		info.AllocationGranularity = info.PageSize
	}

	e := &Engine{
		host:     o.host,
		info:     info,
		logger:   o.logger,
		metrics:  o.metricsCollector,
		sections: make(map[host.Handle]*sectionRecord),
		views:    make(map[uintptr]*viewRecord),
		private:  make(map[uintptr]*privateRecord),
		locked:   roaring64.New(),
		offered:  roaring64.New(),
		excluded: make(map[uintptr]uintptr),
	}
	if o.lockLimit > 0 {
		e.budget = resource.NewController(resource.Config{LockLimitBytes: o.lockLimit})
	}

	pol := o.policy
	e.policy.Store(&pol)

	e.files = NewFileTable(e.host)
	e.resolver = e.files
	if o.resolverSet {
		e.resolver = o.resolver
	}

	return e, nil
}

var (
	defaultOnce   sync.Once
	defaultEngine *Engine
	defaultErr    error
)

// Default returns the process-wide engine over the native host, creating it
// on first use. It exists for the C-shaped mman package.
func Default() (*Engine, error) {
	defaultOnce.Do(func() {
		defaultEngine, defaultErr = New()
	})
	return defaultEngine, defaultErr
}

// Configure applies policy and resolver options. Host, logger, metrics and
// lock-limit options are fixed at construction and rejected here.
func (e *Engine) Configure(optFns ...Option) error {
	o := options{policy: *e.policy.Load()}
	for _, fn := range optFns {
		fn(&o)
	}

	if o.host != nil || o.logger != nil || o.metricsCollector != nil || o.lockLimit != 0 {
		return opError("configure", 0, 0, ErrInvalidArgument, errors.New("option is fixed at construction"))
	}
	if err := o.policy.validate(); err != nil {
		return opError("configure", 0, 0, ErrInvalidArgument, err)
	}
	if o.resolverSet {
		if err := e.SetResolver(o.resolver); err != nil {
			return err
		}
	}

	pol := o.policy
	e.policy.Store(&pol)
	return nil
}

// SetResolver replaces the descriptor resolver. It fails once a mapping
// exists.
func (e *Engine) SetResolver(r Resolver) error {
	if r == nil {
		return opError("resolver", 0, 0, ErrInvalidArgument, errors.New("nil resolver"))
	}
	if e.mapped.Load() {
		return opError("resolver", 0, 0, ErrInvalidArgument, errors.New("resolver is fixed after the first mapping"))
	}

	e.mu.Lock()
	e.resolver = r
	e.mu.Unlock()
	return nil
}

func (e *Engine) currentResolver() Resolver {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolver
}

// Policy returns the current policy snapshot.
func (e *Engine) Policy() Policy { return *e.policy.Load() }

func (e *Engine) snapshot() *Policy { return e.policy.Load() }

// EnterEmergencyMode stops all internal bookkeeping. It is one-way: once the
// heap is assumed unreliable, the engine never trusts it again.
func (e *Engine) EnterEmergencyMode() {
	if e.emergency.CompareAndSwap(false, true) {
		e.logger.Warn("emergency mode entered, bookkeeping disabled")
	}
}

// Emergency reports whether emergency mode is active.
func (e *Engine) Emergency() bool { return e.emergency.Load() }

// Host returns the engine's host.
func (e *Engine) Host() host.Host { return e.host }

// Files returns the default descriptor table. Files registered here resolve
// only while the default resolver is in use.
func (e *Engine) Files() *FileTable { return e.files }

// SystemInfo returns the host geometry.
func (e *Engine) SystemInfo() host.SystemInfo { return e.info }

// PageSize returns the native page size.
func (e *Engine) PageSize() uintptr { return e.info.PageSize }

// LargePageSize returns the large-page minimum, or 0 when unsupported.
func (e *Engine) LargePageSize() uintptr { return e.info.LargePageMinimum }

// AllocationGranularity returns the alignment of reservations and views.
func (e *Engine) AllocationGranularity() uintptr { return e.info.AllocationGranularity }

// Walk traverses r, yielding regions accepted by pred (Committed if nil).
func (e *Engine) Walk(r walk.Range, pred walk.Predicate) *walk.Walker {
	return walk.New(e.host, r, pred)
}

// WalkProcess traverses the whole application address space.
func (e *Engine) WalkProcess(pred walk.Predicate) *walk.Walker {
	return walk.Process(e.host, pred)
}

// Bytes gives direct access to length committed bytes at addr.
func (e *Engine) Bytes(addr, length uintptr) ([]byte, error) {
	b, err := e.host.Bytes(addr, length)
	if err != nil {
		return nil, opError("bytes", addr, length, ErrOutOfMemory, err)
	}
	return b, nil
}

// Excluded returns the ranges registered for dump exclusion, in address
// order.
func (e *Engine) Excluded() []walk.Range {
	e.mu.Lock()
	out := make([]walk.Range, 0, len(e.excluded))
	for base, size := range e.excluded {
		out = append(out, walk.Span(base, size))
	}
	e.mu.Unlock()

	slices.SortFunc(out, func(a, b walk.Range) int {
		switch {
		case a.Lower < b.Lower:
			return -1
		case a.Lower > b.Lower:
			return 1
		}
		return 0
	})
	return out
}

// LockedBytes returns the bytes locked through the engine.
func (e *Engine) LockedBytes() uintptr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return uintptr(e.locked.GetCardinality()) * e.info.PageSize
}

func alignDown(x, a uintptr) uintptr { return x / a * a }

func alignUp(x, a uintptr) uintptr {
	up := (x + a - 1) / a * a
	if up < x {
		return alignDown(^uintptr(0), a)
	}
	return up
}

// pageRange rounds [addr, addr+length) out to whole pages.
func (e *Engine) pageRange(addr, length uintptr) walk.Range {
	ps := e.info.PageSize
	return walk.Range{Lower: alignDown(addr, ps), Upper: alignUp(addr+length, ps)}
}

func (e *Engine) pageNumbers(r walk.Range) (uint64, uint64) {
	ps := e.info.PageSize
	return uint64(r.Lower / ps), uint64(alignUp(r.Upper, ps) / ps)
}

type piece struct {
	region host.Region
	r      walk.Range
}

// collect drains a walk over r.
func (e *Engine) collect(r walk.Range, pred walk.Predicate) ([]piece, error) {
	var out []piece
	w := walk.New(e.host, r, pred)
	for region, sub := range w.All() {
		out = append(out, piece{region: region, r: sub})
	}
	return out, w.Err()
}

// allocationExtent returns the full range of the allocation based at base.
func (e *Engine) allocationExtent(base uintptr) walk.Range {
	ext := walk.Range{Lower: base, Upper: base}
	w := walk.New(e.host, walk.Range{Lower: base, Upper: e.info.MaximumApplicationAddress + 1}, walk.Addressable)
	for region, sub := range w.All() {
		if region.State == host.StateFree || region.AllocationBase != base {
			break
		}
		ext.Upper = sub.Upper
	}
	return ext
}

// forget drops bookkeeping for pages in r that no longer exist.
func (e *Engine) forget(r walk.Range) {
	lo, hi := e.pageNumbers(r)

	e.mu.Lock()
	locked := e.countLocked(lo, hi)
	e.locked.RemoveRange(lo, hi)
	e.offered.RemoveRange(lo, hi)
	var dropped []uintptr
	for base := range e.excluded {
		if r.Contains(base) {
			dropped = append(dropped, base)
			delete(e.excluded, base)
		}
	}
	e.mu.Unlock()

	e.budget.ReleaseLock(int64(locked * uint64(e.info.PageSize)))
	if df, ok := e.host.(host.DumpFilter); ok && df.DumpFilterAvailable() {
		for _, base := range dropped {
			_ = df.IncludeInDump(base)
		}
	}
}

// countLocked returns the locked pages in [lo, hi). Callers hold e.mu.
func (e *Engine) countLocked(lo, hi uint64) uint64 {
	if e.locked.IsEmpty() {
		return 0
	}
	tmp := roaring64.New()
	tmp.AddRange(lo, hi)
	tmp.And(e.locked)
	return tmp.GetCardinality()
}

func (e *Engine) viewFor(allocBase uintptr) *viewRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.views[allocBase]
}
