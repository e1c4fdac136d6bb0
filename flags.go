package memmap

// Flag is a set of mapping flags.
type Flag uint32

const (
	MapShared         Flag = 0x1
	MapPrivate        Flag = 0x2
	MapSharedValidate Flag = MapShared
	MapFixed          Flag = 0x10
	MapFixedNoReplace Flag = 0x800
	MapAnonymous      Flag = 0x1000
	MapStack          Flag = 0x4000
	MapConceal        Flag = 0x200000
	MapPopulate       Flag = 0x8000
	MapNonBlock       Flag = 0x10000
	MapHugeTLB        Flag = 0x40000
	MapSync           Flag = 0x80000
	MapUninitialized  Flag = 0x4000000

	MapAnon = MapAnonymous
)

// SyncFlag selects msync behavior.
type SyncFlag uint32

const (
	MsSync       SyncFlag = 0x1
	MsInvalidate SyncFlag = 0x2
	MsAsync      SyncFlag = 0x4
)

// Advice is a madvise hint.
type Advice int

const (
	MadvNormal   Advice = 0
	MadvDontNeed Advice = 1
	MadvWillNeed Advice = 2
	MadvDontDump Advice = 0x10
	MadvDoDump   Advice = 0x11
)

func (a Advice) String() string {
	switch a {
	case MadvNormal:
		return "normal"
	case MadvDontNeed:
		return "dontneed"
	case MadvWillNeed:
		return "willneed"
	case MadvDontDump:
		return "dontdump"
	case MadvDoDump:
		return "dodump"
	default:
		return "unknown"
	}
}

// LockFlag is an mlock2 flag.
type LockFlag uint32

// MlockOnFault locks pages as they are faulted in.
const MlockOnFault LockFlag = 0x10

// LockAllFlag is an mlockall flag.
type LockAllFlag uint32

const (
	McCurrent LockAllFlag = 0x1
	McFuture  LockAllFlag = 0x2
	McOnFault LockAllFlag = 0x4
)

// MapFailed is the address returned by the C-shaped API on failure.
const MapFailed = ^uintptr(0)
