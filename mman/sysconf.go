package mman

import "syscall"

// Sysconf names.
const (
	ScPageSize = 30
	ScPagesize = ScPageSize
	// ScLargePageSize reports the minimum large page size.
	ScLargePageSize = 0x1000
	// ScAllocationGranularity reports the reservation granularity.
	ScAllocationGranularity = 0x1001
)

// Getpagesize returns the page size.
func Getpagesize() int {
	e, ok := engine()
	if !ok {
		return -1
	}
	return int(e.PageSize())
}

// Gethugepagesize returns the minimum large page size, or 0 when large
// pages are unavailable.
func Gethugepagesize() int {
	e, ok := engine()
	if !ok {
		return -1
	}
	return int(e.LargePageSize())
}

// AllocationGranularity returns the granularity of address reservations.
func AllocationGranularity() int {
	e, ok := engine()
	if !ok {
		return -1
	}
	return int(e.AllocationGranularity())
}

// Sysconf returns a system limit, or -1 with EINVAL for unknown names.
func Sysconf(name int) int64 {
	switch name {
	case ScPageSize:
		return int64(Getpagesize())
	case ScLargePageSize:
		return int64(Gethugepagesize())
	case ScAllocationGranularity:
		return int64(AllocationGranularity())
	}
	errno.Store(int32(syscall.EINVAL))
	return -1
}
