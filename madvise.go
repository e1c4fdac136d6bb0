package memmap

import (
	"errors"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/memmap/host"
	"github.com/hupe1980/memmap/walk"
)

// Madvise passes a usage hint for [addr, addr+length) to the host.
//
// MadvDontNeed lets the host discard private contents (reset, or offer when
// AdviseDecommits is set) and trims file views from the working set.
// MadvWillNeed reclaims offered pages and prefetches the rest. MadvDontDump
// and MadvDoDump control dump exclusion.
func (e *Engine) Madvise(addr, length uintptr, advice Advice) error {
	start := time.Now()
	err := e.madvise(addr, length, advice)
	e.metrics.RecordAdvise(advice, length, time.Since(start), err)
	e.logger.LogOp("madvise", addr, length, err)
	return err
}

func (e *Engine) madvise(addr, length uintptr, advice Advice) error {
	pol := e.snapshot()

	if pol.Strict && addr%e.info.PageSize != 0 {
		return opError("madvise", addr, length, ErrInvalidArgument, errors.New("unaligned address"))
	}
	if length == 0 {
		return nil
	}
	r := e.pageRange(addr, length)

	switch advice {
	case MadvNormal:
		return nil
	case MadvDontNeed:
		return e.dontNeed(r, pol)
	case MadvWillNeed:
		e.willNeed(r)
		return nil
	case MadvDontDump:
		err := e.exclude(r.Lower, r.Len())
		if err != nil && pol.Strict {
			return opError("madvise", addr, length, ErrInvalidArgument, err)
		}
		e.logger.LogBestEffort("dump exclusion", r.Lower, r.Len(), err)
		return nil
	case MadvDoDump:
		e.include(r)
		return nil
	}

	if pol.Strict {
		return opError("madvise", addr, length, ErrInvalidArgument, errors.New("unknown advice"))
	}
	return nil
}

func (e *Engine) dontNeed(r walk.Range, pol *Policy) error {
	emergency := e.emergency.Load()
	lo, hi := e.pageNumbers(r)

	if !emergency {
		e.mu.Lock()
		n := e.countLocked(lo, hi)
		e.mu.Unlock()
		if n > 0 {
			return opError("madvise", r.Lower, r.Len(), ErrInvalidArgument, errors.New("range has locked pages"))
		}
	}

	pieces, err := e.collect(r, walk.Committed)
	if err != nil {
		return opError("madvise", r.Lower, r.Len(), ErrOutOfMemory, err)
	}

	priority := host.OfferPriorityNormal - uint32(pol.OfferResoluteness)
	for _, p := range pieces {
		if p.region.Type != host.TypePrivate {
			err := e.host.VirtualUnlock(p.r.Lower, p.r.Len())
			if err != nil && !errors.Is(err, host.ErrNotLocked) {
				return opError("madvise", p.r.Lower, p.r.Len(), ErrInvalidArgument, err)
			}
			continue
		}

		if pol.AdviseDecommits {
			err := e.host.OfferVirtualMemory(p.r.Lower, p.r.Len(), priority)
			if err == nil {
				if !emergency {
					plo, phi := e.pageNumbers(p.r)
					e.mu.Lock()
					e.offered.AddRange(plo, phi)
					e.mu.Unlock()
				}
				continue
			}
			if !errors.Is(err, host.ErrNotSupported) {
				return opError("madvise", p.r.Lower, p.r.Len(), ErrInvalidArgument, err)
			}
		}

		if _, err := e.host.VirtualAlloc(p.r.Lower, p.r.Len(), host.MemReset, host.PageNoAccess); err != nil {
			return opError("madvise", p.r.Lower, p.r.Len(), ErrInvalidArgument, err)
		}
	}
	return nil
}

func (e *Engine) willNeed(r walk.Range) {
	lo, hi := e.pageNumbers(r)

	e.mu.Lock()
	runs := e.offeredRuns(lo, hi)
	e.offered.RemoveRange(lo, hi)
	e.mu.Unlock()

	for _, run := range runs {
		err := e.host.ReclaimVirtualMemory(run.Lower, run.Len())
		if errors.Is(err, host.ErrBusy) || errors.Is(err, host.ErrNotSupported) {
			err = nil
		}
		e.logger.LogBestEffort("reclaim", run.Lower, run.Len(), err)
	}

	pieces, err := e.collect(r, walk.Committed)
	e.logger.LogBestEffort("prefetch walk", r.Lower, r.Len(), err)
	for _, p := range pieces {
		err := e.host.PrefetchVirtualMemory(p.r.Lower, p.r.Len())
		if errors.Is(err, host.ErrNotSupported) {
			return
		}
		e.logger.LogBestEffort("prefetch", p.r.Lower, p.r.Len(), err)
	}
}

// offeredRuns returns the offered pages in [lo, hi) as contiguous address
// ranges. Callers hold e.mu.
func (e *Engine) offeredRuns(lo, hi uint64) []walk.Range {
	if e.offered.IsEmpty() {
		return nil
	}
	sel := roaring64.New()
	sel.AddRange(lo, hi)
	sel.And(e.offered)

	ps := uint64(e.info.PageSize)
	var runs []walk.Range
	it := sel.Iterator()
	for it.HasNext() {
		page := it.Next()
		addr := uintptr(page * ps)
		if n := len(runs); n > 0 && runs[n-1].Upper == addr {
			runs[n-1].Upper += uintptr(ps)
			continue
		}
		runs = append(runs, walk.Range{Lower: addr, Upper: addr + uintptr(ps)})
	}
	return runs
}

// exclude records [base, base+size) as excluded from dumps and registers
// it with the host dump filter.
func (e *Engine) exclude(base, size uintptr) error {
	if !e.emergency.Load() {
		e.mu.Lock()
		e.excluded[base] = size
		e.mu.Unlock()
	}

	df, ok := e.host.(host.DumpFilter)
	if !ok || !df.DumpFilterAvailable() {
		return host.ErrNotSupported
	}
	if err := df.ExcludeFromDump(base, size); err != nil && !errors.Is(err, host.ErrAlreadyExists) {
		return err
	}
	return nil
}

// include drops every exclusion that starts inside r.
func (e *Engine) include(r walk.Range) {
	var bases []uintptr

	e.mu.Lock()
	for base := range e.excluded {
		if r.Contains(base) {
			bases = append(bases, base)
			delete(e.excluded, base)
		}
	}
	e.mu.Unlock()

	df, ok := e.host.(host.DumpFilter)
	if !ok || !df.DumpFilterAvailable() {
		return
	}
	if e.emergency.Load() {
		_ = df.IncludeInDump(r.Lower)
		return
	}
	for _, base := range bases {
		_ = df.IncludeInDump(base)
	}
}
