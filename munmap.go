package memmap

import (
	"errors"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/memmap/host"
	"github.com/hupe1980/memmap/walk"
)

// Munmap removes the mappings in [addr, addr+length). Unmapped pages in the
// range are ignored.
//
// Private memory is decommitted. An allocation the engine reserved is
// released once every one of its pages has been unmapped; other allocations
// are only released when the range covers them exactly. A view cannot be
// split, so unmapped view pages become inaccessible and the view itself goes
// away with its last page.
func (e *Engine) Munmap(addr, length uintptr) error {
	start := time.Now()
	err := e.munmap(addr, length, e.snapshot())
	e.metrics.RecordUnmap(length, time.Since(start), err)
	e.logger.LogOp("munmap", addr, length, err)
	return err
}

// allocGroup is the part of one allocation inside an unmapped range.
type allocGroup struct {
	base uintptr
	typ  host.Type
	r    walk.Range
}

func groupByAllocation(pieces []piece) []allocGroup {
	var out []allocGroup
	for _, p := range pieces {
		if n := len(out); n > 0 && out[n-1].base == p.region.AllocationBase {
			out[n-1].r.Upper = p.r.Upper
			continue
		}
		out = append(out, allocGroup{base: p.region.AllocationBase, typ: p.region.Type, r: p.r})
	}
	return out
}

func (e *Engine) munmap(addr, length uintptr, pol *Policy) error {
	if length == 0 {
		return opError("munmap", addr, length, ErrInvalidArgument, errors.New("zero length"))
	}
	if pol.Strict && addr%e.info.PageSize != 0 {
		return opError("munmap", addr, length, ErrInvalidArgument, errors.New("unaligned address"))
	}

	r := e.pageRange(addr, length)
	pieces, err := e.collect(r, walk.Reserved)
	if err != nil {
		return opError("munmap", addr, length, ErrInvalidArgument, err)
	}

	for _, p := range pieces {
		if p.region.Type != host.TypePrivate && p.region.State == host.StateCommit {
			err := e.host.FlushViewOfFile(p.r.Lower, p.r.Len())
			e.logger.LogBestEffort("flush before unmap", p.r.Lower, p.r.Len(), err)
		}
	}

	var first error
	for _, g := range groupByAllocation(pieces) {
		var err error
		if g.typ == host.TypePrivate {
			err = e.unmapPrivate(g)
		} else {
			err = e.unmapViewPages(g)
		}
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (e *Engine) unmapPrivate(g allocGroup) error {
	emergency := e.emergency.Load()
	ext := e.allocationExtent(g.base)

	if g.r == ext {
		if err := e.host.VirtualFree(g.base, 0, host.MemRelease); err != nil {
			return opError("munmap", g.r.Lower, g.r.Len(), ErrInvalidArgument, err)
		}
		if !emergency {
			e.forget(ext)
			e.untrackPrivate(g.base)
		}
		return nil
	}

	if err := e.host.VirtualFree(g.r.Lower, g.r.Len(), host.MemDecommit); err != nil {
		return opError("munmap", g.r.Lower, g.r.Len(), ErrInvalidArgument, err)
	}
	if emergency {
		return nil
	}
	e.forget(g.r)

	if e.markUnmapped(g.base, g.r) {
		if err := e.host.VirtualFree(g.base, 0, host.MemRelease); err == nil {
			e.forget(ext)
			e.untrackPrivate(g.base)
		}
	}
	return nil
}

// trackPrivate records an anonymous allocation the engine reserved.
func (e *Engine) trackPrivate(base, size uintptr) {
	if e.emergency.Load() {
		return
	}
	e.mu.Lock()
	e.private[base] = &privateRecord{size: size, unmapped: roaring.New()}
	e.mu.Unlock()
}

func (e *Engine) untrackPrivate(base uintptr) {
	e.mu.Lock()
	delete(e.private, base)
	e.mu.Unlock()
}

// markUnmapped adds r to the unmapped pages of the engine allocation at base
// and reports whether the whole allocation is now unmapped. Allocations the
// engine did not reserve always report false.
func (e *Engine) markUnmapped(base uintptr, r walk.Range) bool {
	ps := e.info.PageSize
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.private[base]
	if rec == nil {
		return false
	}
	rec.unmapped.AddRange(uint64((r.Lower-base)/ps), uint64((r.Upper-base)/ps))
	return rec.unmapped.GetCardinality() >= uint64(rec.size/ps)
}

// markMapped removes r from the unmapped pages of the engine allocation at
// base.
func (e *Engine) markMapped(base uintptr, r walk.Range) {
	ps := e.info.PageSize
	e.mu.Lock()
	defer e.mu.Unlock()

	if rec := e.private[base]; rec != nil {
		rec.unmapped.RemoveRange(uint64((r.Lower-base)/ps), uint64((r.Upper-base)/ps))
	}
}

func (e *Engine) unmapViewPages(g allocGroup) error {
	var v *viewRecord
	if !e.emergency.Load() {
		v = e.viewFor(g.base)
	}

	if v == nil {
		if g.typ == host.TypeImage && !e.emergency.Load() {
			return opError("munmap", g.r.Lower, g.r.Len(), ErrInvalidArgument, errors.New("image not mapped by this engine"))
		}
		if g.r == e.allocationExtent(g.base) {
			if err := e.host.UnmapViewOfFile(g.base); err != nil {
				return opError("munmap", g.r.Lower, g.r.Len(), ErrInvalidArgument, err)
			}
			return nil
		}
		if _, err := e.host.VirtualProtect(g.r.Lower, g.r.Len(), host.PageNoAccess); err != nil {
			return opError("munmap", g.r.Lower, g.r.Len(), ErrInvalidArgument, err)
		}
		return nil
	}

	ps := e.info.PageSize
	lo := uint64((g.r.Lower - v.base) / ps)
	hi := uint64((g.r.Upper - v.base) / ps)

	e.mu.Lock()
	v.live.RemoveRange(lo, hi)
	empty := v.live.IsEmpty()
	e.mu.Unlock()

	if empty {
		if err := e.unmapView(v.base); err != nil {
			return opError("munmap", g.r.Lower, g.r.Len(), ErrInvalidArgument, err)
		}
		return nil
	}

	e.unlockTracked(g.r)
	if _, err := e.host.VirtualProtect(g.r.Lower, g.r.Len(), host.PageNoAccess); err != nil {
		return opError("munmap", g.r.Lower, g.r.Len(), ErrInvalidArgument, err)
	}
	e.forget(g.r)
	return nil
}

// unlockTracked unlocks the pages of r the engine locked, before they stop
// being part of a mapping.
func (e *Engine) unlockTracked(r walk.Range) {
	lo, hi := e.pageNumbers(r)
	e.mu.Lock()
	n := e.countLocked(lo, hi)
	e.mu.Unlock()
	if n == 0 {
		return
	}

	err := e.host.VirtualUnlock(r.Lower, r.Len())
	if errors.Is(err, host.ErrNotLocked) {
		err = nil
	}
	e.logger.LogBestEffort("unlock before unmap", r.Lower, r.Len(), err)
}
