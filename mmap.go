package memmap

import (
	"errors"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/memmap/host"
	"github.com/hupe1980/memmap/walk"
)

// Mmap establishes a mapping of length bytes and returns its address.
//
// Anonymous mappings (MapAnonymous) are private committed memory. File
// mappings resolve fd through the engine's resolver and map a view of a
// section shared by every mapping of the same file. The returned address
// keeps off's offset within the allocation granularity, so unaligned offsets
// work in lenient mode.
func (e *Engine) Mmap(addr, length uintptr, prot Prot, flags Flag, fd int, off int64) (uintptr, error) {
	start := time.Now()
	base, err := e.mmap(addr, length, prot, flags, fd, off)
	e.metrics.RecordMap(length, time.Since(start), err)
	e.logger.LogMap(addr, length, prot, flags, base, err)
	return base, err
}

func (e *Engine) mmap(addr, length uintptr, prot Prot, flags Flag, fd int, off int64) (uintptr, error) {
	pol := e.snapshot()

	if length == 0 {
		return 0, opError("mmap", addr, length, ErrInvalidArgument, errors.New("zero length"))
	}
	prot, ok := normalizeProt(prot, pol)
	if !ok {
		return 0, opError("mmap", addr, length, ErrInvalidArgument, errors.New("unknown protection bits"))
	}
	if off < 0 {
		return 0, opError("mmap", addr, length, ErrInvalidArgument, errors.New("negative offset"))
	}

	anon := flags&MapAnonymous != 0
	ps := e.info.PageSize
	large := false
	if flags&MapHugeTLB != 0 {
		switch {
		case !anon:
			if pol.Strict {
				return 0, opError("mmap", addr, length, ErrInvalidArgument, errors.New("huge pages need an anonymous mapping"))
			}
		case e.info.LargePageMinimum == 0:
			return 0, opError("mmap", addr, length, ErrInvalidArgument, errors.New("huge pages unsupported"))
		default:
			ps, large = e.info.LargePageMinimum, true
		}
	}

	fixed := flags&(MapFixed|MapFixedNoReplace) != 0
	if pol.Strict {
		if fixed && addr%ps != 0 {
			return 0, opError("mmap", addr, length, ErrInvalidArgument, errors.New("unaligned fixed address"))
		}
		if !anon && uintptr(off)%ps != 0 {
			return 0, opError("mmap", addr, length, ErrInvalidArgument, errors.New("unaligned offset"))
		}
	}

	var (
		base uintptr
		err  error
	)
	if anon {
		if pol.Strict && fd != -1 {
			return 0, opError("mmap", addr, length, ErrInvalidArgument, errors.New("anonymous mapping with descriptor"))
		}
		base, err = e.mapAnonymous(addr, length, prot, flags, ps, large)
	} else {
		base, err = e.mapFile(addr, length, prot, flags, fd, uint64(off), pol)
	}
	if err != nil {
		return 0, err
	}

	e.mapped.Store(true)
	e.afterMap(base, length, flags)
	return base, nil
}

// hostKind classifies a failed allocation or view.
func hostKind(err error) error {
	switch {
	case errors.Is(err, host.ErrInvalidAddress), errors.Is(err, host.ErrInvalidParameter),
		errors.Is(err, host.ErrMappedAlignment):
		return ErrInvalidArgument
	case errors.Is(err, host.ErrAccessDenied):
		return ErrPermissionDenied
	case errors.Is(err, host.ErrInvalidHandle):
		return ErrBadDescriptor
	}
	return ErrOutOfMemory
}

func (e *Engine) mapAnonymous(addr, length uintptr, prot Prot, flags Flag, ps uintptr, large bool) (uintptr, error) {
	size := alignUp(length, ps)
	if size < length {
		return 0, opError("mmap", addr, length, ErrOutOfMemory, errors.New("length overflows address space"))
	}

	native := Translate(prot, false)
	allocType := host.MemReserve | host.MemCommit
	if large {
		allocType |= host.MemLargePages
	}

	if flags&(MapFixed|MapFixedNoReplace) != 0 {
		return e.mapFixedAnonymous(alignDown(addr, ps), size, native, allocType, flags)
	}

	if addr != 0 {
		hint := alignDown(addr, max(e.info.AllocationGranularity, ps))
		if base, err := e.host.VirtualAlloc(hint, size, allocType, native); err == nil {
			e.trackPrivate(base, size)
			return base, nil
		}
	}
	base, err := e.host.VirtualAlloc(0, size, allocType, native)
	if err != nil {
		return 0, opError("mmap", addr, length, hostKind(err), err)
	}
	e.trackPrivate(base, size)
	return base, nil
}

func (e *Engine) mapFixedAnonymous(target, size uintptr, native, allocType uint32, flags Flag) (uintptr, error) {
	r := walk.Span(target, size)
	pieces, err := e.collect(r, walk.Reserved)
	if err != nil {
		return 0, opError("mmap", target, size, ErrInvalidArgument, err)
	}

	if len(pieces) > 0 {
		if flags&MapFixedNoReplace != 0 {
			return 0, opError("mmap", target, size, ErrInvalidArgument, errors.New("target range is occupied"))
		}
		if allocType&host.MemLargePages == 0 && withinOnePrivate(pieces, r) {
			return e.recommit(pieces[0].region.AllocationBase, r, native)
		}
	}
	if err := e.checkReplaceable(target, r); err != nil {
		return 0, err
	}
	if len(pieces) > 0 {
		if err := e.munmap(target, size, e.snapshot()); err != nil {
			return 0, err
		}
	}

	if allocType&host.MemLargePages != 0 {
		base, err := e.host.VirtualAlloc(target, size, allocType, native)
		if err != nil {
			return 0, opError("mmap", target, size, hostKind(err), err)
		}
		e.trackPrivate(base, size)
		return base, nil
	}

	base, err := e.host.VirtualAlloc(target, size, host.MemReserve, native)
	if err != nil {
		return 0, opError("mmap", target, size, hostKind(err), err)
	}
	if _, err := e.host.VirtualAlloc(target, size, host.MemCommit, native); err != nil {
		_ = e.host.VirtualFree(base, 0, host.MemRelease)
		return 0, opError("mmap", target, size, hostKind(err), err)
	}
	e.trackPrivate(base, r.Upper-base)
	if base < target {
		// The reservation starts at the granule; the pages before target
		// were never handed out.
		e.markUnmapped(base, walk.Range{Lower: base, Upper: target})
	}
	return target, nil
}

// checkReplaceable fails unless a new reservation or view can be placed over
// r once the mappings inside r are removed. The native reservation starts at
// the allocation granule containing r.Lower, and every allocation it touches
// must lie entirely inside r, otherwise unmapping would destroy pages the
// call then cannot replace.
func (e *Engine) checkReplaceable(at uintptr, r walk.Range) error {
	span := walk.Range{Lower: alignDown(r.Lower, e.info.AllocationGranularity), Upper: r.Upper}
	pieces, err := e.collect(span, walk.Reserved)
	if err != nil {
		return opError("mmap", at, r.Len(), ErrInvalidArgument, err)
	}

	seen := make(map[uintptr]bool, len(pieces))
	for _, p := range pieces {
		base := p.region.AllocationBase
		if seen[base] {
			continue
		}
		seen[base] = true
		if ext := e.allocationExtent(base); ext.Lower < r.Lower || ext.Upper > r.Upper {
			return opError("mmap", at, r.Len(), ErrInvalidArgument, errors.New("target range overlaps an allocation that cannot be replaced"))
		}
	}
	return nil
}

// withinOnePrivate reports whether pieces cover r without gaps inside a
// single private allocation.
func withinOnePrivate(pieces []piece, r walk.Range) bool {
	if pieces[0].r.Lower != r.Lower || pieces[len(pieces)-1].r.Upper != r.Upper {
		return false
	}
	base := pieces[0].region.AllocationBase
	for i, p := range pieces {
		if p.region.Type != host.TypePrivate || p.region.AllocationBase != base {
			return false
		}
		if i > 0 && pieces[i-1].r.Upper != p.r.Lower {
			return false
		}
	}
	return true
}

// recommit replaces the pages of r inside an existing private allocation
// with fresh zeroed pages.
func (e *Engine) recommit(base uintptr, r walk.Range, native uint32) (uintptr, error) {
	if err := e.host.VirtualFree(r.Lower, r.Len(), host.MemDecommit); err != nil {
		return 0, opError("mmap", r.Lower, r.Len(), hostKind(err), err)
	}
	if !e.emergency.Load() {
		e.forget(r)
	}
	if _, err := e.host.VirtualAlloc(r.Lower, r.Len(), host.MemCommit, native); err != nil {
		return 0, opError("mmap", r.Lower, r.Len(), hostKind(err), err)
	}
	e.markMapped(base, r)
	return r.Lower, nil
}

func (e *Engine) mapFile(addr, length uintptr, prot Prot, flags Flag, fd int, off uint64, pol *Policy) (uintptr, error) {
	shared, private := flags&MapShared != 0, flags&MapPrivate != 0
	if shared == private {
		return 0, opError("mmap", addr, length, ErrInvalidArgument, errors.New("exactly one of shared and private is required"))
	}

	fh, err := e.currentResolver().Resolve(fd)
	if err != nil {
		return 0, opError("mmap", addr, length, ErrBadDescriptor, err)
	}
	fsize, err := e.host.FileSize(fh)
	if err != nil {
		return 0, opError("mmap", addr, length, ErrBadDescriptor, err)
	}

	image := pol.ImageSections
	if image && off != 0 {
		return 0, opError("mmap", addr, length, ErrInvalidArgument, errors.New("image sections map from offset 0"))
	}

	gran := uint64(e.info.AllocationGranularity)
	padding := off % gran
	viewOff := off - padding

	var viewSize uintptr
	if !image {
		if off >= uint64(fsize) {
			return 0, opError("mmap", addr, length, ErrOutOfMemory, errors.New("offset beyond end of file"))
		}
		viewSize = uintptr(min(uint64(length)+padding, uint64(fsize)-viewOff))
	}

	req := sectionRequest{
		file:  fh,
		size:  uint64(fsize),
		write: shared && prot&ProtWrite != 0,
		exec:  prot&ProtExec != 0,
		image: image,
	}
	access := viewAccess(private, req.write, req.exec, image)

	var at uintptr
	if flags&(MapFixed|MapFixedNoReplace) != 0 {
		at = addr - uintptr(padding)
		if at%e.info.AllocationGranularity != 0 || addr < uintptr(padding) {
			return 0, opError("mmap", addr, length, ErrInvalidArgument, errors.New("fixed view address not aligned to allocation granularity"))
		}
		if err := e.clearFixed(at, max(viewSize, length+uintptr(padding)), flags); err != nil {
			return 0, err
		}
	}

	var base uintptr
	if e.emergency.Load() {
		base, err = e.mapUntracked(req, access, viewOff, viewSize, at, addr, pol)
	} else {
		base, err = e.mapTracked(req, access, viewOff, viewSize, uintptr(padding), at, addr, pol)
	}
	if err != nil {
		return 0, err
	}

	if !image {
		if err := e.applyViewProtect(base, viewSize, Translate(prot, private), access); err != nil {
			return 0, err
		}
	}

	return base + uintptr(padding), nil
}

// clearFixed makes room for a fixed view at [at, at+size).
func (e *Engine) clearFixed(at, size uintptr, flags Flag) error {
	r := e.pageRange(at, size)
	pieces, err := e.collect(r, walk.Reserved)
	if err != nil {
		return opError("mmap", at, size, ErrInvalidArgument, err)
	}
	if len(pieces) == 0 {
		return nil
	}
	if flags&MapFixedNoReplace != 0 {
		return opError("mmap", at, size, ErrInvalidArgument, errors.New("target range is occupied"))
	}
	if err := e.checkReplaceable(at, r); err != nil {
		return err
	}
	return e.munmap(r.Lower, r.Len(), e.snapshot())
}

func (e *Engine) mapView(section host.Handle, access uint32, viewOff uint64, viewSize, at, hint uintptr) (uintptr, error) {
	if at == 0 && hint != 0 {
		if base, err := e.host.MapViewOfFile(section, access, viewOff, viewSize, alignDown(hint, e.info.AllocationGranularity)); err == nil {
			return base, nil
		}
	}
	return e.host.MapViewOfFile(section, access, viewOff, viewSize, at)
}

func (e *Engine) mapTracked(req sectionRequest, access uint32, viewOff uint64, viewSize, padding, at, hint uintptr, pol *Policy) (uintptr, error) {
	rec, err := e.acquireSection(req, pol)
	if err != nil {
		return 0, err
	}

	base, err := e.mapView(rec.handle, access, viewOff, viewSize, at, hint)
	if err != nil {
		e.releaseSection(rec)
		return 0, opError("mmap", at, viewSize, mapKind(err, at != 0), err)
	}

	// Pages before the caller's offset are never handed out, so they are
	// not live.
	ext := e.allocationExtent(base)
	ps := e.info.PageSize
	live := roaring.New()
	live.AddRange(uint64(padding/ps), uint64(ext.Len()/ps))

	e.mu.Lock()
	e.views[base] = &viewRecord{base: base, size: ext.Len(), section: rec, live: live}
	e.mu.Unlock()
	return base, nil
}

func (e *Engine) mapUntracked(req sectionRequest, access uint32, viewOff uint64, viewSize, at, hint uintptr, pol *Policy) (uintptr, error) {
	var (
		sh  host.Handle
		err error
	)
	for _, c := range candidates(req, pol) {
		if sh, err = e.host.CreateFileMapping(req.file, c.protect(), 0); err == nil {
			break
		}
	}
	if err != nil {
		return 0, opError("mmap", hint, viewSize, sectionKind(err), err)
	}
	defer func() { _ = e.host.CloseHandle(sh) }()

	base, err := e.mapView(sh, access, viewOff, viewSize, at, hint)
	if err != nil {
		return 0, opError("mmap", at, viewSize, mapKind(err, at != 0), err)
	}
	return base, nil
}

func mapKind(err error, fixed bool) error {
	if fixed && (errors.Is(err, host.ErrInvalidAddress) || errors.Is(err, host.ErrMappedAlignment)) {
		return ErrInvalidArgument
	}
	return ErrOutOfMemory
}

// applyViewProtect narrows a fresh view to the requested protection. On
// failure the view is unmapped.
func (e *Engine) applyViewProtect(base, viewSize uintptr, want, access uint32) error {
	if want == initialViewProtect(access) {
		return nil
	}
	size := alignUp(viewSize, e.info.PageSize)
	if _, err := e.host.VirtualProtect(base, size, want); err != nil {
		_ = e.unmapView(base)
		return opError("mmap", base, viewSize, ErrPermissionDenied, err)
	}
	return nil
}

// unmapView removes an engine-created view and its bookkeeping.
func (e *Engine) unmapView(base uintptr) error {
	if err := e.host.UnmapViewOfFile(base); err != nil {
		return err
	}
	e.mu.Lock()
	v := e.views[base]
	delete(e.views, base)
	e.mu.Unlock()
	if v != nil {
		e.forget(walk.Span(v.base, v.size))
		e.releaseSection(v.section)
	}
	return nil
}

func viewAccess(private, write, exec, image bool) uint32 {
	if image {
		return host.FileMapRead
	}
	var access uint32
	switch {
	case private:
		access = host.FileMapCopy
	case write:
		access = host.FileMapWrite
	default:
		access = host.FileMapRead
	}
	if exec {
		access |= host.FileMapExecute
	}
	return access
}

// initialViewProtect is the protection a view starts with for access.
func initialViewProtect(access uint32) uint32 {
	exec := access&host.FileMapExecute != 0
	switch {
	case access&host.FileMapCopy != 0:
		if exec {
			return host.PageExecuteWriteCopy
		}
		return host.PageWriteCopy
	case access&host.FileMapWrite != 0:
		if exec {
			return host.PageExecuteReadWrite
		}
		return host.PageReadWrite
	case exec:
		return host.PageExecuteRead
	}
	return host.PageReadOnly
}

// afterMap applies the flags that act on a mapping once it exists.
func (e *Engine) afterMap(base, length uintptr, flags Flag) {
	if flags&MapConceal != 0 {
		err := e.exclude(base, length)
		e.logger.LogBestEffort("conceal", base, length, err)
	}

	e.mu.Lock()
	future := e.lockFuture
	e.mu.Unlock()
	if future && !e.emergency.Load() {
		err := e.lockRange("mmap", e.pageRange(base, length))
		e.logger.LogBestEffort("future lock", base, length, err)
	}
}
