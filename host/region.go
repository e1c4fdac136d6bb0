package host

// State is the commit state of a region (MEM_COMMIT, MEM_RESERVE, MEM_FREE).
type State uint32

const (
	StateCommit  State = 0x1000
	StateReserve State = 0x2000
	StateFree    State = 0x10000
)

func (s State) String() string {
	switch s {
	case StateCommit:
		return "commit"
	case StateReserve:
		return "reserve"
	case StateFree:
		return "free"
	default:
		return "unknown"
	}
}

// Type is the kind of backing of a region (MEM_PRIVATE, MEM_MAPPED, MEM_IMAGE).
type Type uint32

const (
	TypePrivate Type = 0x20000
	TypeMapped  Type = 0x40000
	TypeImage   Type = 0x1000000
)

func (t Type) String() string {
	switch t {
	case TypePrivate:
		return "private"
	case TypeMapped:
		return "mapped"
	case TypeImage:
		return "image"
	case 0:
		return "none"
	default:
		return "unknown"
	}
}

// Region is a snapshot of one homogeneous range of the address space, as
// returned by VirtualQuery.
type Region struct {
	BaseAddress       uintptr
	AllocationBase    uintptr
	AllocationProtect uint32
	RegionSize        uintptr
	State             State
	Protect           uint32
	Type              Type
}

// End returns the first address past the region.
func (r Region) End() uintptr {
	end := r.BaseAddress + r.RegionSize
	if end < r.BaseAddress {
		return ^uintptr(0)
	}
	return end
}

// Contains reports whether addr lies inside the region.
func (r Region) Contains(addr uintptr) bool {
	return addr >= r.BaseAddress && addr < r.End()
}
