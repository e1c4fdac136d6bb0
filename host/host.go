package host

import "os"

// Handle is an opaque native handle (file or section object).
type Handle uintptr

// InvalidHandle is the value hosts never hand out.
const InvalidHandle = ^Handle(0)

// SystemInfo holds the memory geometry reported by the host.
type SystemInfo struct {
	PageSize                  uintptr
	AllocationGranularity     uintptr
	LargePageMinimum          uintptr // 0 if large pages are unsupported
	MinimumApplicationAddress uintptr
	MaximumApplicationAddress uintptr
}

// Host is the set of native virtual-memory primitives the engine relies on.
//
// Addresses and sizes are passed through unchanged; hosts apply the native
// rounding rules (page size for commit, allocation granularity for reserve).
type Host interface {
	SystemInfo() SystemInfo

	VirtualAlloc(addr, size uintptr, allocType, protect uint32) (uintptr, error)
	VirtualFree(addr, size uintptr, freeType uint32) error
	VirtualProtect(addr, size uintptr, protect uint32) (uint32, error)
	VirtualQuery(addr uintptr) (Region, error)
	VirtualLock(addr, size uintptr) error
	VirtualUnlock(addr, size uintptr) error

	// CreateFileMapping creates a section over file. A size of 0 uses the
	// current file size.
	CreateFileMapping(file Handle, protect uint32, size uint64) (Handle, error)
	// MapViewOfFile maps size bytes of section at offset. A base of 0 lets the
	// host choose the address; a size of 0 maps to the end of the section.
	MapViewOfFile(section Handle, access uint32, offset uint64, size, base uintptr) (uintptr, error)
	UnmapViewOfFile(addr uintptr) error
	FlushViewOfFile(addr, size uintptr) error
	FlushFileBuffers(file Handle) error
	CloseHandle(h Handle) error

	// FileHandle returns the native handle backing f.
	FileHandle(f *os.File) (Handle, error)
	// FileSize returns the current size of the file behind a native handle.
	FileSize(file Handle) (int64, error)

	OfferVirtualMemory(addr, size uintptr, priority uint32) error
	ReclaimVirtualMemory(addr, size uintptr) error
	PrefetchVirtualMemory(addr, size uintptr) error

	// Bytes exposes size committed bytes at addr for direct access.
	Bytes(addr, size uintptr) ([]byte, error)
}

// DumpFilter is implemented by hosts that can exclude memory from
// diagnostic dumps.
type DumpFilter interface {
	// DumpFilterAvailable reports whether the facility exists at runtime.
	DumpFilterAvailable() bool
	ExcludeFromDump(addr, size uintptr) error
	IncludeInDump(addr uintptr) error
}
