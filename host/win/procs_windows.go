package win

import "golang.org/x/sys/windows"

var (
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procGetSystemInfo                    = kernel32.NewProc("GetSystemInfo")
	procGetLargePageMinimum              = kernel32.NewProc("GetLargePageMinimum")
	procMapViewOfFileEx                  = kernel32.NewProc("MapViewOfFileEx")
	procOfferVirtualMemory               = kernel32.NewProc("OfferVirtualMemory")
	procReclaimVirtualMemory             = kernel32.NewProc("ReclaimVirtualMemory")
	procPrefetchVirtualMemory            = kernel32.NewProc("PrefetchVirtualMemory")
	procWerRegisterExcludedMemoryBlock   = kernel32.NewProc("WerRegisterExcludedMemoryBlock")
	procWerUnregisterExcludedMemoryBlock = kernel32.NewProc("WerUnregisterExcludedMemoryBlock")
)

// systemInfo mirrors SYSTEM_INFO.
type systemInfo struct {
	ProcessorArchitecture     uint16
	Reserved                  uint16
	PageSize                  uint32
	MinimumApplicationAddress uintptr
	MaximumApplicationAddress uintptr
	ActiveProcessorMask       uintptr
	NumberOfProcessors        uint32
	ProcessorType             uint32
	AllocationGranularity     uint32
	ProcessorLevel            uint16
	ProcessorRevision         uint16
}

// memoryRangeEntry mirrors WIN32_MEMORY_RANGE_ENTRY.
type memoryRangeEntry struct {
	VirtualAddress uintptr
	NumberOfBytes  uintptr
}
