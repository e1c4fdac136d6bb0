package walk

import "fmt"

// Range is the half-open address range [Lower, Upper).
type Range struct {
	Lower uintptr
	Upper uintptr
}

// Span returns the range starting at base covering size bytes. The upper
// bound saturates at the top of the address space.
func Span(base, size uintptr) Range {
	upper := base + size
	if upper < base {
		upper = ^uintptr(0)
	}
	return Range{Lower: base, Upper: upper}
}

// Len returns the number of bytes in r; it is never negative.
func (r Range) Len() uintptr {
	if r.Upper <= r.Lower {
		return 0
	}
	return r.Upper - r.Lower
}

// Empty reports whether r covers no bytes.
func (r Range) Empty() bool {
	return r.Len() == 0
}

// Contains reports whether addr lies inside r.
func (r Range) Contains(addr uintptr) bool {
	return addr >= r.Lower && addr < r.Upper
}

// Intersect returns the overlap of r and o (possibly empty).
func (r Range) Intersect(o Range) Range {
	out := Range{Lower: max(r.Lower, o.Lower), Upper: min(r.Upper, o.Upper)}
	if out.Upper < out.Lower {
		out.Upper = out.Lower
	}
	return out
}

func (r Range) String() string {
	return fmt.Sprintf("[%#x, %#x)", r.Lower, r.Upper)
}
