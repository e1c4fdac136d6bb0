package memmap

import (
	"errors"
	"time"

	"github.com/hupe1980/memmap/host"
	"github.com/hupe1980/memmap/walk"
)

// Mincore reports residency of the pages in [addr, addr+length): status[i]
// is 1 when page i is committed and 0 otherwise. Pages unmapped from a view
// that is still alive report 0. status must hold one entry per page.
//
// Under strict residency rules, free pages and pages beyond the application
// ceiling fail the call with ErrOutOfMemory; status is filled in either way.
func (e *Engine) Mincore(addr, length uintptr, status []byte) error {
	start := time.Now()
	pages, err := e.mincore(addr, length, status)
	e.metrics.RecordQuery(pages, time.Since(start), err)
	e.logger.LogOp("mincore", addr, length, err)
	return err
}

func (e *Engine) mincore(addr, length uintptr, status []byte) (int, error) {
	strict := e.snapshot().strictMincore()
	ps := e.info.PageSize

	if strict && addr%ps != 0 {
		return 0, opError("mincore", addr, length, ErrInvalidArgument, errors.New("unaligned address"))
	}
	if addr+length < addr {
		return 0, opError("mincore", addr, length, ErrOutOfMemory, errors.New("range wraps the address space"))
	}
	if length == 0 {
		return 0, nil
	}

	r := e.pageRange(addr, length)
	pages := r.Len() / ps
	if uintptr(len(status)) < pages {
		return 0, opError("mincore", addr, length, ErrInvalidArgument, errors.New("status vector too short"))
	}
	clear(status[:pages])

	missing := false
	ceiling := e.info.MaximumApplicationAddress + 1
	if r.Upper > ceiling {
		missing = true
	}

	q := walk.Range{Lower: r.Lower, Upper: min(r.Upper, ceiling)}
	if !q.Empty() {
		w := walk.New(e.host, q, walk.Addressable)
		for region, sub := range w.All() {
			switch region.State {
			case host.StateCommit:
				e.markResident(status, r.Lower, region.AllocationBase, sub)
			case host.StateFree:
				missing = true
			}
		}
		if w.Err() != nil {
			missing = true
		}
	}

	if strict && missing {
		return int(pages), opError("mincore", addr, length, ErrOutOfMemory, errNotMapped)
	}
	return int(pages), nil
}

// markResident sets the status entries of the committed pages in sub.
// origin is the address of status[0].
func (e *Engine) markResident(status []byte, origin, allocBase uintptr, sub walk.Range) {
	ps := e.info.PageSize

	e.mu.Lock()
	defer e.mu.Unlock()

	v := e.views[allocBase]
	for a := sub.Lower; a < sub.Upper; a += ps {
		if v != nil && !v.live.Contains(uint32((a-v.base)/ps)) {
			continue
		}
		status[(a-origin)/ps] = 1
	}
}
