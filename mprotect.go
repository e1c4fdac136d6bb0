package memmap

import (
	"errors"
	"time"

	"github.com/hupe1980/memmap/host"
	"github.com/hupe1980/memmap/walk"
)

// Mprotect changes the protection of the pages in [addr, addr+length).
// Every page must be mapped. Writable protections on private file views
// become copy-on-write.
func (e *Engine) Mprotect(addr, length uintptr, prot Prot) error {
	start := time.Now()
	err := e.mprotect(addr, length, prot)
	e.metrics.RecordProtect(length, time.Since(start), err)
	e.logger.LogOp("mprotect", addr, length, err)
	return err
}

func (e *Engine) mprotect(addr, length uintptr, prot Prot) error {
	pol := e.snapshot()

	if pol.Strict && addr%e.info.PageSize != 0 {
		return opError("mprotect", addr, length, ErrInvalidArgument, errors.New("unaligned address"))
	}
	prot, ok := normalizeProt(prot, pol)
	if !ok {
		return opError("mprotect", addr, length, ErrInvalidArgument, errors.New("unknown protection bits"))
	}
	if length == 0 {
		return nil
	}

	r := e.pageRange(addr, length)
	pieces, err := e.collect(r, walk.Addressable)
	if err != nil {
		return opError("mprotect", addr, length, ErrOutOfMemory, err)
	}
	if err := e.requireMapped(pieces, r); err != nil {
		return opError("mprotect", addr, length, ErrOutOfMemory, err)
	}

	for _, p := range pieces {
		native := Translate(prot, host.IsWriteCopy(p.region.AllocationProtect))
		if _, err := e.host.VirtualProtect(p.r.Lower, p.r.Len(), native); err != nil {
			return opError("mprotect", p.r.Lower, p.r.Len(), ErrPermissionDenied, err)
		}
	}
	return nil
}

var errNotMapped = errors.New("range is not fully mapped")

// requireMapped checks that pieces cover r with committed pages that have
// not been unmapped from their view.
func (e *Engine) requireMapped(pieces []piece, r walk.Range) error {
	at := r.Lower
	for _, p := range pieces {
		if p.r.Lower != at || p.region.State != host.StateCommit {
			return errNotMapped
		}
		at = p.r.Upper
	}
	if at != r.Upper {
		return errNotMapped
	}

	if e.emergency.Load() {
		return nil
	}

	ps := e.info.PageSize
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range pieces {
		v := e.views[p.region.AllocationBase]
		if v == nil {
			continue
		}
		lo := uint64((p.r.Lower - v.base) / ps)
		hi := uint64((p.r.Upper - v.base) / ps)
		for i := lo; i < hi; i++ {
			if !v.live.Contains(uint32(i)) {
				return errNotMapped
			}
		}
	}
	return nil
}
