package host

// Allocation types for VirtualAlloc and VirtualFree.
const (
	MemCommit     uint32 = 0x1000
	MemReserve    uint32 = 0x2000
	MemDecommit   uint32 = 0x4000
	MemRelease    uint32 = 0x8000
	MemReset      uint32 = 0x80000
	MemResetUndo  uint32 = 0x1000000
	MemLargePages uint32 = 0x20000000
)

// Page protection values.
const (
	PageNoAccess         uint32 = 0x01
	PageReadOnly         uint32 = 0x02
	PageReadWrite        uint32 = 0x04
	PageWriteCopy        uint32 = 0x08
	PageExecute          uint32 = 0x10
	PageExecuteRead      uint32 = 0x20
	PageExecuteReadWrite uint32 = 0x40
	PageExecuteWriteCopy uint32 = 0x80
	PageGuard            uint32 = 0x100
	PageNoCache          uint32 = 0x200

	// PageModifierMask covers the bits that may be combined with a base
	// protection value.
	PageModifierMask = PageGuard | PageNoCache
)

// Section attributes for CreateFileMapping.
const (
	SecImage  uint32 = 0x1000000
	SecCommit uint32 = 0x8000000
)

// View access for MapViewOfFile.
const (
	FileMapCopy    uint32 = 0x01
	FileMapWrite   uint32 = 0x02
	FileMapRead    uint32 = 0x04
	FileMapExecute uint32 = 0x20
)

// Offer priorities for OfferVirtualMemory.
const (
	OfferPriorityVeryLow     uint32 = 1
	OfferPriorityLow         uint32 = 2
	OfferPriorityBelowNormal uint32 = 3
	OfferPriorityNormal      uint32 = 4
)

// BaseProtect strips modifier bits from a protection value.
func BaseProtect(p uint32) uint32 {
	return p &^ PageModifierMask
}

// IsWriteCopy reports whether p is one of the copy-on-write protections.
func IsWriteCopy(p uint32) bool {
	switch BaseProtect(p) {
	case PageWriteCopy, PageExecuteWriteCopy:
		return true
	}
	return false
}

// IsAccessible reports whether pages with protection p can be touched
// without faulting.
func IsAccessible(p uint32) bool {
	return p != 0 && p&PageGuard == 0 && BaseProtect(p) != PageNoAccess
}

// IsReadable reports whether p permits reads.
func IsReadable(p uint32) bool {
	if !IsAccessible(p) {
		return false
	}
	return BaseProtect(p) != PageExecute
}

// IsWritable reports whether p permits writes (shared or copy-on-write).
func IsWritable(p uint32) bool {
	switch BaseProtect(p) {
	case PageReadWrite, PageWriteCopy, PageExecuteReadWrite, PageExecuteWriteCopy:
		return p&PageGuard == 0
	}
	return false
}

// IsExecutable reports whether p permits execution.
func IsExecutable(p uint32) bool {
	return BaseProtect(p)&(PageExecute|PageExecuteRead|PageExecuteReadWrite|PageExecuteWriteCopy) != 0
}

// ValidProtect reports whether p is a single base protection value with
// optional modifiers.
func ValidProtect(p uint32) bool {
	switch BaseProtect(p) {
	case PageNoAccess, PageReadOnly, PageReadWrite, PageWriteCopy,
		PageExecute, PageExecuteRead, PageExecuteReadWrite, PageExecuteWriteCopy:
		return true
	}
	return false
}
