package memmap

import (
	"fmt"
	"strings"

	"github.com/hupe1980/memmap/host"
)

// Prot is a POSIX protection vector.
type Prot uint32

const (
	ProtNone  Prot = 0x0
	ProtRead  Prot = 0x1
	ProtWrite Prot = 0x2
	ProtExec  Prot = 0x4

	protMask = ProtRead | ProtWrite | ProtExec
)

// protTable is indexed by (exec<<2)|(write<<1)|read.
var protTable = [8]uint32{
	host.PageNoAccess,         // ---
	host.PageReadOnly,         // r--
	host.PageReadWrite,        // -w-
	host.PageReadWrite,        // rw-
	host.PageExecute,          // --x
	host.PageExecuteRead,      // r-x
	host.PageExecuteReadWrite, // -wx
	host.PageExecuteReadWrite, // rwx
}

// Translate returns the native protection for p. With cow set, writable
// entries become their copy-on-write counterparts. Bits outside the
// protection mask are ignored.
func Translate(p Prot, cow bool) uint32 {
	native := protTable[p&protMask]
	if cow {
		switch native {
		case host.PageReadWrite:
			native = host.PageWriteCopy
		case host.PageExecuteReadWrite:
			native = host.PageExecuteWriteCopy
		}
	}
	return native
}

// TranslateStrict is Translate, rejecting bits outside the protection mask.
func TranslateStrict(p Prot, cow bool) (uint32, error) {
	if p&^protMask != 0 {
		return 0, fmt.Errorf("%w: protection %#x", ErrInvalidArgument, uint32(p))
	}
	return Translate(p, cow), nil
}

// DecodeProt maps a native protection value back to a protection vector.
// Copy-on-write values decode as writable; modifier bits are ignored.
func DecodeProt(native uint32) Prot {
	switch host.BaseProtect(native) {
	case host.PageReadOnly:
		return ProtRead
	case host.PageReadWrite, host.PageWriteCopy:
		return ProtRead | ProtWrite
	case host.PageExecute:
		return ProtExec
	case host.PageExecuteRead:
		return ProtRead | ProtExec
	case host.PageExecuteReadWrite, host.PageExecuteWriteCopy:
		return ProtRead | ProtWrite | ProtExec
	default:
		return ProtNone
	}
}

func (p Prot) String() string {
	var b strings.Builder
	for _, f := range []struct {
		bit Prot
		c   byte
	}{{ProtRead, 'r'}, {ProtWrite, 'w'}, {ProtExec, 'x'}} {
		if p&f.bit != 0 {
			b.WriteByte(f.c)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// normalizeProt masks unknown protection bits, or reports false when the
// policy is strict and p carries any.
func normalizeProt(p Prot, pol *Policy) (Prot, bool) {
	if p&^protMask != 0 {
		if pol.Strict {
			return 0, false
		}
		p &= protMask
	}
	return p, true
}
