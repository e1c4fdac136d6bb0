package host

import "strconv"

// Errno is a native error code.
type Errno uint32

// Native error codes the engine classifies.
const (
	ErrNotSupported     Errno = 50   // ERROR_NOT_SUPPORTED
	ErrAccessDenied     Errno = 5    // ERROR_ACCESS_DENIED
	ErrInvalidHandle    Errno = 6    // ERROR_INVALID_HANDLE
	ErrNotEnoughMemory  Errno = 8    // ERROR_NOT_ENOUGH_MEMORY
	ErrInvalidParameter Errno = 87   // ERROR_INVALID_PARAMETER
	ErrNotLocked        Errno = 158  // ERROR_NOT_LOCKED
	ErrBusy             Errno = 170  // ERROR_BUSY
	ErrAlreadyExists    Errno = 183  // ERROR_ALREADY_EXISTS
	ErrBadExeFormat     Errno = 193  // ERROR_BAD_EXE_FORMAT
	ErrInvalidAddress   Errno = 487  // ERROR_INVALID_ADDRESS
	ErrNoAccess         Errno = 998  // ERROR_NOACCESS
	ErrFileInvalid      Errno = 1006 // ERROR_FILE_INVALID
	ErrMappedAlignment  Errno = 1132 // ERROR_MAPPED_ALIGNMENT
	ErrNotFound         Errno = 1168 // ERROR_NOT_FOUND
	ErrPrivilegeNotHeld Errno = 1314 // ERROR_PRIVILEGE_NOT_HELD
	ErrWorkingSetQuota  Errno = 1453 // ERROR_WORKING_SET_QUOTA
)

var errnoText = map[Errno]string{
	ErrNotSupported:     "the request is not supported",
	ErrAccessDenied:     "access is denied",
	ErrInvalidHandle:    "the handle is invalid",
	ErrNotEnoughMemory:  "not enough memory resources are available",
	ErrInvalidParameter: "the parameter is incorrect",
	ErrNotLocked:        "the segment is already unlocked",
	ErrBusy:             "the requested resource is in use",
	ErrAlreadyExists:    "cannot create a file when that file already exists",
	ErrBadExeFormat:     "not a valid application",
	ErrInvalidAddress:   "attempt to access invalid address",
	ErrNoAccess:         "invalid access to memory location",
	ErrFileInvalid:      "the volume for a file has been externally altered",
	ErrMappedAlignment:  "the base address or the file offset specified does not have the proper alignment",
	ErrNotFound:         "element not found",
	ErrPrivilegeNotHeld: "a required privilege is not held by the client",
	ErrWorkingSetQuota:  "insufficient quota to complete the requested service",
}

func (e Errno) Error() string {
	if s, ok := errnoText[e]; ok {
		return s
	}
	return "native error " + strconv.FormatUint(uint64(e), 10)
}
