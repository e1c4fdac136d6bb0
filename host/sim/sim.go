package sim

import (
	"os"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/memmap/host"
)

// Host is a simulated Windows-style virtual-memory host. It is safe for
// concurrent use.
type Host struct {
	mu  sync.Mutex
	cfg Config

	allocs   []*allocation // sorted by base
	files    map[host.Handle]*file
	byFile   map[*os.File]host.Handle
	sections map[host.Handle]*section
	next     host.Handle

	excluded    map[uintptr]uintptr
	lockedBytes uintptr
}

var (
	_ host.Host       = (*Host)(nil)
	_ host.DumpFilter = (*Host)(nil)
)

// New returns a simulated host.
func New(optFns ...Option) *Host {
	cfg := DefaultConfig()
	for _, fn := range optFns {
		fn(&cfg)
	}
	if cfg.AllocationGranularity < cfg.PageSize {
		cfg.AllocationGranularity = cfg.PageSize
	}

	return &Host{
		cfg:      cfg,
		files:    make(map[host.Handle]*file),
		byFile:   make(map[*os.File]host.Handle),
		sections: make(map[host.Handle]*section),
		next:     0x100,
		excluded: make(map[uintptr]uintptr),
	}
}

type allocation struct {
	base, size   uintptr
	typ          host.Type
	allocProtect uint32

	protect   []uint32 // per page, 0 when not committed
	locked    *roaring.Bitmap
	offered   *roaring.Bitmap
	discarded *roaring.Bitmap
	data      []byte

	view *view
}

func (a *allocation) end() uintptr { return a.base + a.size }

func (a *allocation) ensureData() {
	if a.data == nil {
		a.data = make([]byte, a.size)
	}
}

func (a *allocation) committed(i uint32) bool { return a.protect[i] != 0 }

type view struct {
	section *section
	offset  uint64
	shared  bool
	write   bool
	cow     bool
	exec    bool
}

// SystemInfo implements host.Host.
func (h *Host) SystemInfo() host.SystemInfo {
	return host.SystemInfo{
		PageSize:                  h.cfg.PageSize,
		AllocationGranularity:     h.cfg.AllocationGranularity,
		LargePageMinimum:          h.cfg.LargePageMinimum,
		MinimumApplicationAddress: h.cfg.MinAddress,
		MaximumApplicationAddress: h.cfg.MaxAddress,
	}
}

func (h *Host) pageDown(addr uintptr) uintptr { return addr &^ (h.cfg.PageSize - 1) }

func (h *Host) pageUp(addr uintptr) uintptr {
	return (addr + h.cfg.PageSize - 1) &^ (h.cfg.PageSize - 1)
}

func (h *Host) granUp(addr uintptr) uintptr {
	g := h.cfg.AllocationGranularity
	return (addr + g - 1) / g * g
}

// find returns the allocation containing addr.
func (h *Host) find(addr uintptr) *allocation {
	i := sort.Search(len(h.allocs), func(i int) bool { return h.allocs[i].end() > addr })
	if i < len(h.allocs) && h.allocs[i].base <= addr {
		return h.allocs[i]
	}
	return nil
}

// nextBase returns the base of the first allocation above addr, or the
// address past the application ceiling.
func (h *Host) nextBase(addr uintptr) uintptr {
	i := sort.Search(len(h.allocs), func(i int) bool { return h.allocs[i].base > addr })
	if i < len(h.allocs) {
		return h.allocs[i].base
	}
	return h.cfg.MaxAddress + 1
}

func (h *Host) rangeFree(base, end uintptr) bool {
	if base < h.cfg.MinAddress || end-1 > h.cfg.MaxAddress || end <= base {
		return false
	}
	for _, a := range h.allocs {
		if a.base < end && base < a.end() {
			return false
		}
	}
	return true
}

func (h *Host) findGap(size uintptr) (uintptr, bool) {
	cursor := h.granUp(h.cfg.MinAddress)
	for _, a := range h.allocs {
		if cursor+size <= a.base {
			return cursor, true
		}
		if a.end() > cursor {
			cursor = h.granUp(a.end())
		}
	}
	if cursor+size-1 <= h.cfg.MaxAddress && cursor+size > cursor {
		return cursor, true
	}
	return 0, false
}

func (h *Host) insert(a *allocation) {
	i := sort.Search(len(h.allocs), func(i int) bool { return h.allocs[i].base > a.base })
	h.allocs = append(h.allocs, nil)
	copy(h.allocs[i+1:], h.allocs[i:])
	h.allocs[i] = a
}

func (h *Host) remove(a *allocation) {
	for i, b := range h.allocs {
		if b == a {
			h.allocs = append(h.allocs[:i], h.allocs[i+1:]...)
			break
		}
	}
	h.lockedBytes -= uintptr(a.locked.GetCardinality()) * h.cfg.PageSize
	if a.view != nil {
		h.releaseSection(a.view.section)
	}
}

func (h *Host) newAllocation(base, size uintptr, typ host.Type, allocProtect uint32) *allocation {
	a := &allocation{
		base:         base,
		size:         size,
		typ:          typ,
		allocProtect: allocProtect,
		protect:      make([]uint32, size/h.cfg.PageSize),
		locked:       roaring.New(),
		offered:      roaring.New(),
		discarded:    roaring.New(),
	}
	h.insert(a)
	return a
}

// pages returns the page indices of a covering [addr, addr+size).
func (h *Host) pages(a *allocation, addr, size uintptr) (uint32, uint32, bool) {
	lo := h.pageDown(addr)
	hi := h.pageUp(addr + size)
	if hi < lo || lo < a.base || hi > a.end() || hi == lo {
		return 0, 0, false
	}
	return uint32((lo - a.base) / h.cfg.PageSize), uint32((hi - a.base) / h.cfg.PageSize), true
}

// VirtualAlloc implements host.Host.
func (h *Host) VirtualAlloc(addr, size uintptr, allocType, protect uint32) (uintptr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if size == 0 {
		return 0, host.ErrInvalidParameter
	}

	switch {
	case allocType&(host.MemReset|host.MemResetUndo) != 0:
		return h.reset(addr, size)
	case allocType&host.MemReserve != 0 || addr == 0:
		return h.reserve(addr, size, allocType, protect)
	case allocType&host.MemCommit != 0:
		return h.commit(addr, size, protect)
	}

	return 0, host.ErrInvalidParameter
}

func (h *Host) reserve(addr, size uintptr, allocType, protect uint32) (uintptr, error) {
	if !host.ValidProtect(protect) || host.IsWriteCopy(protect) {
		return 0, host.ErrInvalidParameter
	}

	if allocType&host.MemLargePages != 0 {
		lp := h.cfg.LargePageMinimum
		if lp == 0 || !h.cfg.LargePagePrivilege {
			return 0, host.ErrPrivilegeNotHeld
		}
		if allocType&host.MemCommit == 0 || size%lp != 0 || addr%lp != 0 {
			return 0, host.ErrInvalidParameter
		}
	}

	var base, end uintptr
	if addr != 0 {
		base = addr / h.cfg.AllocationGranularity * h.cfg.AllocationGranularity
		end = h.pageUp(addr + size)
		if !h.rangeFree(base, end) {
			return 0, host.ErrInvalidAddress
		}
	} else {
		var ok bool
		base, ok = h.findGap(h.pageUp(size))
		if !ok {
			return 0, host.ErrNotEnoughMemory
		}
		end = base + h.pageUp(size)
	}

	a := h.newAllocation(base, end-base, host.TypePrivate, protect)
	if allocType&host.MemCommit != 0 || addr == 0 && allocType&host.MemReserve == 0 {
		a.ensureData()
		for i := range a.protect {
			a.protect[i] = protect
		}
	}

	return base, nil
}

func (h *Host) commit(addr, size uintptr, protect uint32) (uintptr, error) {
	if !host.ValidProtect(protect) || host.IsWriteCopy(protect) {
		return 0, host.ErrInvalidParameter
	}

	a := h.find(addr)
	if a == nil || a.typ != host.TypePrivate {
		return 0, host.ErrInvalidAddress
	}
	first, last, ok := h.pages(a, addr, size)
	if !ok {
		return 0, host.ErrInvalidAddress
	}

	a.ensureData()
	ps := h.cfg.PageSize
	for i := first; i < last; i++ {
		if !a.committed(i) {
			clear(a.data[uintptr(i)*ps : uintptr(i+1)*ps])
		}
		a.protect[i] = protect
	}

	return h.pageDown(addr), nil
}

func (h *Host) reset(addr, size uintptr) (uintptr, error) {
	a := h.find(addr)
	if a == nil {
		return 0, host.ErrInvalidAddress
	}
	if a.typ != host.TypePrivate {
		return 0, host.ErrInvalidParameter
	}
	first, last, ok := h.pages(a, addr, size)
	if !ok {
		return 0, host.ErrInvalidAddress
	}
	for i := first; i < last; i++ {
		if !a.committed(i) {
			return 0, host.ErrInvalidAddress
		}
	}
	return h.pageDown(addr), nil
}

// VirtualFree implements host.Host.
func (h *Host) VirtualFree(addr, size uintptr, freeType uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	a := h.find(addr)
	if a == nil {
		return host.ErrInvalidAddress
	}
	if a.typ != host.TypePrivate {
		return host.ErrInvalidParameter
	}

	switch freeType {
	case host.MemRelease:
		if size != 0 || addr != a.base {
			return host.ErrInvalidParameter
		}
		h.remove(a)
		h.dropExclusions(a.base, a.end())
		return nil

	case host.MemDecommit:
		first, last := uint32(0), uint32(len(a.protect))
		if size == 0 {
			if addr != a.base {
				return host.ErrInvalidParameter
			}
		} else {
			var ok bool
			if first, last, ok = h.pages(a, addr, size); !ok {
				return host.ErrInvalidAddress
			}
		}
		for i := first; i < last; i++ {
			a.protect[i] = 0
			if a.locked.Contains(i) {
				a.locked.Remove(i)
				h.lockedBytes -= h.cfg.PageSize
			}
		}
		a.offered.RemoveRange(uint64(first), uint64(last))
		a.discarded.RemoveRange(uint64(first), uint64(last))
		return nil
	}

	return host.ErrInvalidParameter
}

// VirtualProtect implements host.Host.
func (h *Host) VirtualProtect(addr, size uintptr, protect uint32) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !host.ValidProtect(protect) {
		return 0, host.ErrInvalidParameter
	}

	a := h.find(addr)
	if a == nil {
		return 0, host.ErrInvalidAddress
	}
	first, last, ok := h.pages(a, addr, size)
	if !ok {
		return 0, host.ErrInvalidAddress
	}
	for i := first; i < last; i++ {
		if !a.committed(i) {
			return 0, host.ErrInvalidAddress
		}
	}

	if err := checkViewProtect(a, protect); err != nil {
		return 0, err
	}

	old := a.protect[first]
	for i := first; i < last; i++ {
		a.protect[i] = protect
	}
	return old, nil
}

func checkViewProtect(a *allocation, protect uint32) error {
	base := host.BaseProtect(protect)
	if a.view == nil {
		if host.IsWriteCopy(base) {
			return host.ErrInvalidParameter
		}
		return nil
	}

	v := a.view
	switch base {
	case host.PageReadWrite, host.PageExecuteReadWrite:
		if !v.shared || !v.write {
			return host.ErrAccessDenied
		}
	case host.PageWriteCopy, host.PageExecuteWriteCopy:
		if !v.cow && !v.write {
			return host.ErrAccessDenied
		}
	}
	if host.IsExecutable(base) && !v.exec {
		return host.ErrAccessDenied
	}
	return nil
}

// VirtualQuery implements host.Host.
func (h *Host) VirtualQuery(addr uintptr) (host.Region, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if addr > h.cfg.MaxAddress {
		return host.Region{}, host.ErrInvalidParameter
	}

	page := h.pageDown(addr)
	a := h.find(page)
	if a == nil {
		return host.Region{
			BaseAddress: page,
			RegionSize:  h.nextBase(page) - page,
			State:       host.StateFree,
			Protect:     host.PageNoAccess,
		}, nil
	}

	ps := h.cfg.PageSize
	i := uint32((page - a.base) / ps)
	j := i + 1
	for int(j) < len(a.protect) && a.protect[j] == a.protect[i] {
		j++
	}

	r := host.Region{
		BaseAddress:       a.base + uintptr(i)*ps,
		AllocationBase:    a.base,
		AllocationProtect: a.allocProtect,
		RegionSize:        uintptr(j-i) * ps,
		State:             host.StateReserve,
		Type:              a.typ,
	}
	if a.committed(i) {
		r.State = host.StateCommit
		r.Protect = a.protect[i]
	}
	return r, nil
}

// each calls fn for every allocation overlapping [lo, hi) with the covered
// page span. It fails with ErrInvalidAddress on any gap.
func (h *Host) each(addr, size uintptr, fn func(a *allocation, first, last uint32) error) error {
	lo, hi := h.pageDown(addr), h.pageUp(addr+size)
	for lo < hi {
		a := h.find(lo)
		if a == nil {
			return host.ErrInvalidAddress
		}
		end := min(hi, a.end())
		first, last, _ := h.pages(a, lo, end-lo)
		if err := fn(a, first, last); err != nil {
			return err
		}
		lo = end
	}
	return nil
}

// VirtualLock implements host.Host.
func (h *Host) VirtualLock(addr, size uintptr) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var added uintptr
	err := h.each(addr, size, func(a *allocation, first, last uint32) error {
		for i := first; i < last; i++ {
			if !host.IsAccessible(a.protect[i]) {
				return host.ErrNoAccess
			}
			if !a.locked.Contains(i) {
				added += h.cfg.PageSize
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if h.cfg.WorkingSetLimit > 0 && h.lockedBytes+added > h.cfg.WorkingSetLimit {
		return host.ErrWorkingSetQuota
	}

	_ = h.each(addr, size, func(a *allocation, first, last uint32) error {
		a.locked.AddRange(uint64(first), uint64(last))
		return nil
	})
	h.lockedBytes += added
	return nil
}

// VirtualUnlock implements host.Host. Pages that were not locked are
// reported with ErrNotLocked after the locked ones are released.
func (h *Host) VirtualUnlock(addr, size uintptr) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	err := h.each(addr, size, func(a *allocation, _, _ uint32) error { return nil })
	if err != nil {
		return err
	}

	notLocked := false
	_ = h.each(addr, size, func(a *allocation, first, last uint32) error {
		for i := first; i < last; i++ {
			if a.locked.Contains(i) {
				a.locked.Remove(i)
				h.lockedBytes -= h.cfg.PageSize
			} else {
				notLocked = true
			}
		}
		return nil
	})
	if notLocked {
		return host.ErrNotLocked
	}
	return nil
}

// OfferVirtualMemory implements host.Host.
func (h *Host) OfferVirtualMemory(addr, size uintptr, priority uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.cfg.Offer {
		return host.ErrNotSupported
	}
	if priority < host.OfferPriorityVeryLow || priority > host.OfferPriorityNormal {
		return host.ErrInvalidParameter
	}

	a := h.find(addr)
	if a == nil {
		return host.ErrInvalidAddress
	}
	if a.typ != host.TypePrivate {
		return host.ErrInvalidParameter
	}
	first, last, ok := h.pages(a, addr, size)
	if !ok {
		return host.ErrInvalidAddress
	}
	for i := first; i < last; i++ {
		if !a.committed(i) {
			return host.ErrInvalidAddress
		}
	}

	a.offered.AddRange(uint64(first), uint64(last))
	if h.cfg.DiscardOfferedPages {
		a.discarded.AddRange(uint64(first), uint64(last))
		ps := h.cfg.PageSize
		clear(a.data[uintptr(first)*ps : uintptr(last)*ps])
	}
	return nil
}

// ReclaimVirtualMemory implements host.Host. ErrBusy reports that offered
// contents were discarded.
func (h *Host) ReclaimVirtualMemory(addr, size uintptr) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.cfg.Offer {
		return host.ErrNotSupported
	}

	a := h.find(addr)
	if a == nil {
		return host.ErrInvalidAddress
	}
	first, last, ok := h.pages(a, addr, size)
	if !ok {
		return host.ErrInvalidAddress
	}

	lost := false
	for i := first; i < last; i++ {
		if a.discarded.Contains(i) {
			lost = true
		}
	}
	a.offered.RemoveRange(uint64(first), uint64(last))
	a.discarded.RemoveRange(uint64(first), uint64(last))
	if lost {
		return host.ErrBusy
	}
	return nil
}

// PrefetchVirtualMemory implements host.Host.
func (h *Host) PrefetchVirtualMemory(addr, size uintptr) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.cfg.Prefetch {
		return host.ErrNotSupported
	}
	return h.each(addr, size, func(*allocation, uint32, uint32) error { return nil })
}

// Bytes implements host.Host.
func (h *Host) Bytes(addr, size uintptr) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	a := h.find(addr)
	if a == nil {
		return nil, host.ErrInvalidAddress
	}
	if size == 0 {
		return nil, nil
	}
	first, last, ok := h.pages(a, addr, size)
	if !ok {
		return nil, host.ErrInvalidAddress
	}
	for i := first; i < last; i++ {
		if !host.IsAccessible(a.protect[i]) || a.offered.Contains(i) {
			return nil, host.ErrNoAccess
		}
	}

	off := addr - a.base
	return a.data[off : off+size : off+size], nil
}

// DumpFilterAvailable implements host.DumpFilter.
func (h *Host) DumpFilterAvailable() bool { return h.cfg.DumpFilter }

// ExcludeFromDump implements host.DumpFilter.
func (h *Host) ExcludeFromDump(addr, size uintptr) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.cfg.DumpFilter {
		return host.ErrNotSupported
	}
	if _, ok := h.excluded[addr]; ok {
		return host.ErrAlreadyExists
	}
	h.excluded[addr] = size
	return nil
}

// IncludeInDump implements host.DumpFilter.
func (h *Host) IncludeInDump(addr uintptr) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.cfg.DumpFilter {
		return host.ErrNotSupported
	}
	if _, ok := h.excluded[addr]; !ok {
		return host.ErrNotFound
	}
	delete(h.excluded, addr)
	return nil
}

func (h *Host) dropExclusions(lo, hi uintptr) {
	for addr := range h.excluded {
		if addr >= lo && addr < hi {
			delete(h.excluded, addr)
		}
	}
}

// Excluded returns a copy of the registered dump exclusions.
func (h *Host) Excluded() map[uintptr]uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[uintptr]uintptr, len(h.excluded))
	for k, v := range h.excluded {
		out[k] = v
	}
	return out
}

// Locked reports whether the page containing addr is locked.
func (h *Host) Locked(addr uintptr) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	a := h.find(addr)
	if a == nil {
		return false
	}
	return a.locked.Contains(uint32((addr - a.base) / h.cfg.PageSize))
}

// LockedBytes returns the number of bytes currently locked.
func (h *Host) LockedBytes() uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lockedBytes
}

// Offered reports whether the page containing addr is offered.
func (h *Host) Offered(addr uintptr) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	a := h.find(addr)
	if a == nil {
		return false
	}
	return a.offered.Contains(uint32((addr - a.base) / h.cfg.PageSize))
}

// Allocations returns the number of live allocations and views.
func (h *Host) Allocations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.allocs)
}

// Sections returns the number of live section objects.
func (h *Host) Sections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sections)
}
