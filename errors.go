package memmap

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrInvalidArgument reports bad flags, disallowed misalignment or
	// inconsistent arguments (EINVAL).
	ErrInvalidArgument = errors.New("memmap: invalid argument")

	// ErrBadDescriptor reports a descriptor that cannot be resolved (EBADF).
	ErrBadDescriptor = errors.New("memmap: bad file descriptor")

	// ErrOutOfMemory reports allocation, view or flush failures and
	// unmapped pages where mapped ones are required (ENOMEM).
	ErrOutOfMemory = errors.New("memmap: cannot allocate memory")

	// ErrPermissionDenied reports a protection the host refuses (EACCES).
	ErrPermissionDenied = errors.New("memmap: permission denied")

	// ErrTryAgain reports a lock or unlock rejection (EAGAIN).
	ErrTryAgain = errors.New("memmap: resource temporarily unavailable")
)

// OpError describes a failed operation.
//
// It unwraps to both the taxonomy sentinel (Kind) and the host cause (Err),
// so errors.Is works against either:
//
//	if errors.Is(err, memmap.ErrOutOfMemory) { ... }
//	if errors.Is(err, host.ErrInvalidAddress) { ... }
type OpError struct {
	Op   string
	Addr uintptr
	Len  uintptr
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	msg := fmt.Sprintf("%s %#x+%#x: %v", e.Op, e.Addr, e.Len, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opError(op string, addr, length uintptr, kind, cause error) error {
	return &OpError{Op: op, Addr: addr, Len: length, Kind: kind, Err: cause}
}

// Errno maps an error to the POSIX error number of its kind. It returns 0
// for nil and EINVAL for errors outside the taxonomy.
func Errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInvalidArgument):
		return syscall.EINVAL
	case errors.Is(err, ErrBadDescriptor):
		return syscall.EBADF
	case errors.Is(err, ErrOutOfMemory):
		return syscall.ENOMEM
	case errors.Is(err, ErrPermissionDenied):
		return syscall.EACCES
	case errors.Is(err, ErrTryAgain):
		return syscall.EAGAIN
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return syscall.EINVAL
}
