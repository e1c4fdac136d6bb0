package win

import (
	"errors"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/hupe1980/memmap/host"
)

// Host drives the native Windows virtual-memory API. It holds no state
// besides the system geometry and is safe for concurrent use.
type Host struct {
	info host.SystemInfo
}

var (
	_ host.Host       = (*Host)(nil)
	_ host.DumpFilter = (*Host)(nil)
)

// New queries the system geometry and returns the native host.
func New() (*Host, error) {
	if err := procGetSystemInfo.Find(); err != nil {
		return nil, err
	}

	var si systemInfo
	_, _, _ = procGetSystemInfo.Call(uintptr(unsafe.Pointer(&si)))

	info := host.SystemInfo{
		PageSize:                  uintptr(si.PageSize),
		AllocationGranularity:     uintptr(si.AllocationGranularity),
		MinimumApplicationAddress: si.MinimumApplicationAddress,
		MaximumApplicationAddress: si.MaximumApplicationAddress,
	}
	if procGetLargePageMinimum.Find() == nil {
		r, _, _ := procGetLargePageMinimum.Call()
		info.LargePageMinimum = r
	}
	if info.PageSize == 0 {
		return nil, errors.New("win: GetSystemInfo reported a zero page size")
	}

	return &Host{info: info}, nil
}

func (h *Host) SystemInfo() host.SystemInfo { return h.info }

func (h *Host) VirtualAlloc(addr, size uintptr, allocType, protect uint32) (uintptr, error) {
	p, err := windows.VirtualAlloc(addr, size, allocType, protect)
	if err != nil {
		return 0, native(err)
	}
	return p, nil
}

func (h *Host) VirtualFree(addr, size uintptr, freeType uint32) error {
	return native(windows.VirtualFree(addr, size, freeType))
}

func (h *Host) VirtualProtect(addr, size uintptr, protect uint32) (uint32, error) {
	var old uint32
	if err := windows.VirtualProtect(addr, size, protect, &old); err != nil {
		return 0, native(err)
	}
	return old, nil
}

func (h *Host) VirtualQuery(addr uintptr) (host.Region, error) {
	var mbi windows.MemoryBasicInformation
	if err := windows.VirtualQuery(addr, &mbi, unsafe.Sizeof(mbi)); err != nil {
		return host.Region{}, native(err)
	}

	r := host.Region{
		BaseAddress:       mbi.BaseAddress,
		AllocationBase:    mbi.AllocationBase,
		AllocationProtect: mbi.AllocationProtect,
		RegionSize:        mbi.RegionSize,
		State:             host.State(mbi.State),
		Protect:           mbi.Protect,
		Type:              host.Type(mbi.Type),
	}
	if r.State == host.StateFree {
		r.Type = 0
	}
	return r, nil
}

func (h *Host) VirtualLock(addr, size uintptr) error {
	return native(windows.VirtualLock(addr, size))
}

func (h *Host) VirtualUnlock(addr, size uintptr) error {
	return native(windows.VirtualUnlock(addr, size))
}

func (h *Host) CreateFileMapping(file host.Handle, protect uint32, size uint64) (host.Handle, error) {
	s, err := windows.CreateFileMapping(windows.Handle(file), nil, protect, uint32(size>>32), uint32(size), nil)
	if err != nil {
		return host.InvalidHandle, native(err)
	}
	return host.Handle(s), nil
}

func (h *Host) MapViewOfFile(section host.Handle, access uint32, offset uint64, size, base uintptr) (uintptr, error) {
	if base == 0 {
		p, err := windows.MapViewOfFile(windows.Handle(section), access, uint32(offset>>32), uint32(offset), size)
		if err != nil {
			return 0, native(err)
		}
		return p, nil
	}

	if err := procMapViewOfFileEx.Find(); err != nil {
		return 0, host.ErrNotSupported
	}
	p, _, err := procMapViewOfFileEx.Call(
		uintptr(section),
		uintptr(access),
		uintptr(uint32(offset>>32)),
		uintptr(uint32(offset)),
		size,
		base,
	)
	if p == 0 {
		return 0, native(err)
	}
	return p, nil
}

func (h *Host) UnmapViewOfFile(addr uintptr) error {
	return native(windows.UnmapViewOfFile(addr))
}

func (h *Host) FlushViewOfFile(addr, size uintptr) error {
	return native(windows.FlushViewOfFile(addr, size))
}

func (h *Host) FlushFileBuffers(file host.Handle) error {
	return native(windows.FlushFileBuffers(windows.Handle(file)))
}

func (h *Host) CloseHandle(hd host.Handle) error {
	return native(windows.CloseHandle(windows.Handle(hd)))
}

func (h *Host) FileHandle(f *os.File) (host.Handle, error) {
	if f == nil {
		return host.InvalidHandle, host.ErrInvalidHandle
	}
	fd := f.Fd()
	if windows.Handle(fd) == windows.InvalidHandle {
		return host.InvalidHandle, host.ErrInvalidHandle
	}
	return host.Handle(fd), nil
}

func (h *Host) FileSize(file host.Handle) (int64, error) {
	var fi windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(windows.Handle(file), &fi); err != nil {
		return 0, native(err)
	}
	return int64(fi.FileSizeHigh)<<32 | int64(fi.FileSizeLow), nil
}

// OfferVirtualMemory and ReclaimVirtualMemory return the error code
// directly instead of through the thread's last error.
func (h *Host) OfferVirtualMemory(addr, size uintptr, priority uint32) error {
	if err := procOfferVirtualMemory.Find(); err != nil {
		return host.ErrNotSupported
	}
	r, _, _ := procOfferVirtualMemory.Call(addr, size, uintptr(priority))
	return code(r)
}

func (h *Host) ReclaimVirtualMemory(addr, size uintptr) error {
	if err := procReclaimVirtualMemory.Find(); err != nil {
		return host.ErrNotSupported
	}
	r, _, _ := procReclaimVirtualMemory.Call(addr, size)
	return code(r)
}

func (h *Host) PrefetchVirtualMemory(addr, size uintptr) error {
	if err := procPrefetchVirtualMemory.Find(); err != nil {
		return host.ErrNotSupported
	}
	entry := memoryRangeEntry{VirtualAddress: addr, NumberOfBytes: size}
	r, _, err := procPrefetchVirtualMemory.Call(
		uintptr(windows.CurrentProcess()),
		1,
		uintptr(unsafe.Pointer(&entry)),
		0,
	)
	if r == 0 {
		return native(err)
	}
	return nil
}

// Bytes exposes live process memory. Every page of the range must be
// committed and readable, otherwise touching the slice would fault.
func (h *Host) Bytes(addr, size uintptr) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	end := addr + size
	if end < addr {
		return nil, host.ErrInvalidParameter
	}
	for cur := addr; cur < end; {
		r, err := h.VirtualQuery(cur)
		if err != nil {
			return nil, err
		}
		if r.State != host.StateCommit || !host.IsReadable(r.Protect) {
			return nil, host.ErrNoAccess
		}
		cur = r.End()
	}
	// addr is process memory owned by the host, not a Go pointer; vet's
	// unsafe.Pointer warning is expected here.
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func (h *Host) DumpFilterAvailable() bool {
	return procWerRegisterExcludedMemoryBlock.Find() == nil &&
		procWerUnregisterExcludedMemoryBlock.Find() == nil
}

func (h *Host) ExcludeFromDump(addr, size uintptr) error {
	if !h.DumpFilterAvailable() {
		return host.ErrNotSupported
	}
	if uint64(size) > 0xffffffff {
		return host.ErrInvalidParameter
	}
	r, _, _ := procWerRegisterExcludedMemoryBlock.Call(addr, size)
	return hresult(r)
}

func (h *Host) IncludeInDump(addr uintptr) error {
	if !h.DumpFilterAvailable() {
		return host.ErrNotSupported
	}
	r, _, _ := procWerUnregisterExcludedMemoryBlock.Call(addr)
	return hresult(r)
}

// native converts an x/sys error into a host.Errno.
func native(err error) error {
	if err == nil {
		return nil
	}
	var en windows.Errno
	if errors.As(err, &en) {
		if en == 0 {
			return host.ErrInvalidParameter
		}
		return host.Errno(en)
	}
	return err
}

func code(r uintptr) error {
	if r == 0 {
		return nil
	}
	return host.Errno(uint32(r))
}

// hresult unpacks HRESULT_FROM_WIN32 values.
func hresult(r uintptr) error {
	hr := uint32(r)
	switch {
	case hr == 0:
		return nil
	case hr&0xffff0000 == 0x80070000:
		return host.Errno(hr & 0xffff)
	case hr == 0x80004001: // E_NOTIMPL
		return host.ErrNotSupported
	default:
		return host.Errno(hr)
	}
}
