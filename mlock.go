package memmap

import (
	"errors"
	"time"

	"github.com/hupe1980/memmap/host"
	"github.com/hupe1980/memmap/walk"
)

// Mlock locks the pages of [addr, addr+length) into the working set.
func (e *Engine) Mlock(addr, length uintptr) error {
	return e.mlock("mlock", addr, length)
}

// Mlock2 is Mlock with flags. MlockOnFault is accepted; pages are locked
// immediately either way.
func (e *Engine) Mlock2(addr, length uintptr, flags LockFlag) error {
	if e.snapshot().Strict && flags&^MlockOnFault != 0 {
		err := opError("mlock2", addr, length, ErrInvalidArgument, errors.New("unknown flags"))
		e.metrics.RecordLock(true, length, 0, err)
		return err
	}
	return e.mlock("mlock2", addr, length)
}

func (e *Engine) mlock(op string, addr, length uintptr) error {
	start := time.Now()

	var err error
	switch {
	case e.snapshot().Strict && addr%e.info.PageSize != 0:
		err = opError(op, addr, length, ErrInvalidArgument, errors.New("unaligned address"))
	case length == 0:
	default:
		err = e.lockRange(op, e.pageRange(addr, length))
	}

	e.metrics.RecordLock(true, length, time.Since(start), err)
	e.logger.LogOp(op, addr, length, err)
	return err
}

// Munlock unlocks the pages of [addr, addr+length). Pages that were not
// locked are not an error.
func (e *Engine) Munlock(addr, length uintptr) error {
	start := time.Now()

	var err error
	switch {
	case e.snapshot().Strict && addr%e.info.PageSize != 0:
		err = opError("munlock", addr, length, ErrInvalidArgument, errors.New("unaligned address"))
	case length == 0:
	default:
		err = e.unlockRange("munlock", e.pageRange(addr, length))
	}

	e.metrics.RecordLock(false, length, time.Since(start), err)
	e.logger.LogOp("munlock", addr, length, err)
	return err
}

// Mlockall locks every accessible region of the process (McCurrent) and/or
// every later mapping (McFuture). Failing regions do not stop the walk; the
// first failure is returned.
func (e *Engine) Mlockall(flags LockAllFlag) error {
	start := time.Now()

	if e.snapshot().Strict {
		if flags&^(McCurrent|McFuture|McOnFault) != 0 || flags&(McCurrent|McFuture) == 0 {
			err := opError("mlockall", 0, 0, ErrInvalidArgument, errors.New("invalid flags"))
			e.metrics.RecordLock(true, 0, time.Since(start), err)
			return err
		}
	} else if flags&(McCurrent|McFuture) == 0 {
		flags |= McCurrent
	}

	if flags&McFuture != 0 {
		e.mu.Lock()
		e.lockFuture = true
		e.mu.Unlock()
	}

	var (
		first   error
		regions int
		total   uintptr
	)
	if flags&McCurrent != 0 {
		w := e.WalkProcess(walk.Accessible)
		for _, r := range w.All() {
			regions++
			total += r.Len()
			if err := e.lockRange("mlockall", r); err != nil && first == nil {
				first = err
			}
		}
		if err := w.Err(); err != nil && first == nil {
			first = opError("mlockall", 0, 0, ErrTryAgain, err)
		}
	}

	e.metrics.RecordLock(true, total, time.Since(start), first)
	e.logger.LogBulk("mlockall", regions, first)
	return first
}

// Munlockall unlocks every committed region of the process and stops
// locking later mappings.
func (e *Engine) Munlockall() error {
	start := time.Now()

	e.mu.Lock()
	e.lockFuture = false
	e.mu.Unlock()

	var (
		first   error
		regions int
		total   uintptr
	)
	w := e.WalkProcess(walk.Committed)
	for _, r := range w.All() {
		regions++
		total += r.Len()
		if err := e.unlockRange("munlockall", r); err != nil && first == nil {
			first = err
		}
	}
	if err := w.Err(); err != nil && first == nil {
		first = opError("munlockall", 0, 0, ErrTryAgain, err)
	}

	e.metrics.RecordLock(false, total, time.Since(start), first)
	e.logger.LogBulk("munlockall", regions, first)
	return first
}

// lockRange locks r and charges newly locked pages to the lock budget.
func (e *Engine) lockRange(op string, r walk.Range) error {
	if e.emergency.Load() {
		if err := e.host.VirtualLock(r.Lower, r.Len()); err != nil {
			return opError(op, r.Lower, r.Len(), ErrTryAgain, err)
		}
		return nil
	}

	lo, hi := e.pageNumbers(r)

	e.mu.Lock()
	defer e.mu.Unlock()

	need := int64((hi - lo - e.countLocked(lo, hi)) * uint64(e.info.PageSize))
	if err := e.budget.AcquireLock(need); err != nil {
		return opError(op, r.Lower, r.Len(), ErrTryAgain, err)
	}
	if err := e.host.VirtualLock(r.Lower, r.Len()); err != nil {
		e.budget.ReleaseLock(need)
		return opError(op, r.Lower, r.Len(), ErrTryAgain, err)
	}
	e.locked.AddRange(lo, hi)
	return nil
}

// unlockRange unlocks r and returns its locked pages to the budget.
func (e *Engine) unlockRange(op string, r walk.Range) error {
	err := e.host.VirtualUnlock(r.Lower, r.Len())
	if err != nil && !errors.Is(err, host.ErrNotLocked) {
		return opError(op, r.Lower, r.Len(), ErrTryAgain, err)
	}
	if e.emergency.Load() {
		return nil
	}

	lo, hi := e.pageNumbers(r)
	e.mu.Lock()
	n := e.countLocked(lo, hi)
	e.locked.RemoveRange(lo, hi)
	e.mu.Unlock()

	e.budget.ReleaseLock(int64(n * uint64(e.info.PageSize)))
	return nil
}
