package memmap

import (
	"errors"
	"slices"
	"time"

	"github.com/hupe1980/memmap/host"
	"github.com/hupe1980/memmap/walk"
)

// Msync writes modified pages of file views in [addr, addr+length) back to
// their files. MsSync also flushes the file buffers of every file it
// touched. Anonymous memory in the range is skipped.
func (e *Engine) Msync(addr, length uintptr, flags SyncFlag) error {
	start := time.Now()
	err := e.msync(addr, length, flags)
	e.metrics.RecordSync(length, time.Since(start), err)
	e.logger.LogOp("msync", addr, length, err)
	return err
}

func (e *Engine) msync(addr, length uintptr, flags SyncFlag) error {
	pol := e.snapshot()

	if pol.Strict {
		if addr%e.info.PageSize != 0 {
			return opError("msync", addr, length, ErrInvalidArgument, errors.New("unaligned address"))
		}
		if flags&^(MsSync|MsAsync|MsInvalidate) != 0 {
			return opError("msync", addr, length, ErrInvalidArgument, errors.New("unknown flags"))
		}
		if (flags&MsSync != 0) == (flags&MsAsync != 0) {
			return opError("msync", addr, length, ErrInvalidArgument, errors.New("exactly one of sync and async is required"))
		}
	}
	sync := flags&MsSync != 0 && flags&MsAsync == 0

	if length == 0 {
		return nil
	}

	r := e.pageRange(addr, length)
	pieces, err := e.collect(r, walk.Addressable)
	if err != nil {
		return opError("msync", addr, length, ErrOutOfMemory, err)
	}
	if pol.Strict {
		for _, p := range pieces {
			if p.region.State == host.StateFree {
				return opError("msync", p.r.Lower, p.r.Len(), ErrOutOfMemory, errNotMapped)
			}
		}
	}

	var (
		first error
		files []host.Handle
	)
	for _, p := range pieces {
		if p.region.State != host.StateCommit || p.region.Type == host.TypePrivate {
			continue
		}
		if err := e.host.FlushViewOfFile(p.r.Lower, p.r.Len()); err != nil && first == nil {
			first = opError("msync", p.r.Lower, p.r.Len(), ErrOutOfMemory, err)
		}
		if v := e.viewFor(p.region.AllocationBase); sync && v != nil && !slices.Contains(files, v.section.file) {
			files = append(files, v.section.file)
		}
	}

	for _, fh := range files {
		if err := e.host.FlushFileBuffers(fh); err != nil && first == nil {
			first = opError("msync", addr, length, ErrOutOfMemory, err)
		}
	}
	return first
}
