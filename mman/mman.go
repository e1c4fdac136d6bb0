package mman

import (
	"os"
	"sync/atomic"
	"syscall"

	"github.com/hupe1980/memmap"
	"github.com/hupe1980/memmap/shm"
)

// Mapping constants, with the values of the Linux headers.
const (
	ProtNone  = int(memmap.ProtNone)
	ProtRead  = int(memmap.ProtRead)
	ProtWrite = int(memmap.ProtWrite)
	ProtExec  = int(memmap.ProtExec)

	MapShared         = int(memmap.MapShared)
	MapPrivate        = int(memmap.MapPrivate)
	MapSharedValidate = int(memmap.MapSharedValidate)
	MapFixed          = int(memmap.MapFixed)
	MapFixedNoReplace = int(memmap.MapFixedNoReplace)
	MapAnonymous      = int(memmap.MapAnonymous)
	MapAnon           = MapAnonymous
	MapStack          = int(memmap.MapStack)
	MapConceal        = int(memmap.MapConceal)
	MapPopulate       = int(memmap.MapPopulate)
	MapNonBlock       = int(memmap.MapNonBlock)
	MapHugeTLB        = int(memmap.MapHugeTLB)
	MapSync           = int(memmap.MapSync)
	MapUninitialized  = int(memmap.MapUninitialized)

	MsSync       = int(memmap.MsSync)
	MsAsync      = int(memmap.MsAsync)
	MsInvalidate = int(memmap.MsInvalidate)

	MadvNormal   = int(memmap.MadvNormal)
	MadvDontNeed = int(memmap.MadvDontNeed)
	MadvWillNeed = int(memmap.MadvWillNeed)
	MadvDontDump = int(memmap.MadvDontDump)
	MadvDoDump   = int(memmap.MadvDoDump)

	MlockOnFault = int(memmap.MlockOnFault)

	McCurrent = int(memmap.McCurrent)
	McFuture  = int(memmap.McFuture)
	McOnFault = int(memmap.McOnFault)
)

// MapFailed is returned by Mmap on failure.
const MapFailed = memmap.MapFailed

// Fd access inference policies for SetExecInference and SetWriteInference.
const (
	FdAccessEager = int(memmap.InferEager)
	FdAccessProbe = int(memmap.InferProbe)
	FdAccessAsReq = int(memmap.InferAsRequested)
)

var (
	errno    atomic.Int32
	override atomic.Pointer[memmap.Engine]
)

// Errno returns the error number of the last failed call. Successful calls
// leave it unchanged.
func Errno() syscall.Errno { return syscall.Errno(errno.Load()) }

// SetErrno overwrites the error number.
func SetErrno(e syscall.Errno) { errno.Store(int32(e)) }

// SetEngine routes all calls to e instead of the process-wide default
// engine. Passing nil restores the default.
func SetEngine(e *memmap.Engine) { override.Store(e) }

func engine() (*memmap.Engine, bool) {
	if e := override.Load(); e != nil {
		return e, true
	}
	e, err := memmap.Default()
	if err != nil {
		errno.Store(int32(memmap.Errno(err)))
		return nil, false
	}
	return e, true
}

// status converts err to the C convention of 0 or -1 with errno set.
func status(err error) int {
	if err != nil {
		errno.Store(int32(memmap.Errno(err)))
		return -1
	}
	return 0
}

// Mmap maps length bytes and returns the address, or MapFailed.
func Mmap(addr, length uintptr, prot, flags, fd int, off int64) uintptr {
	e, ok := engine()
	if !ok {
		return MapFailed
	}
	base, err := e.Mmap(addr, length, memmap.Prot(prot), memmap.Flag(flags), fd, off)
	if err != nil {
		status(err)
		return MapFailed
	}
	return base
}

// Munmap removes mappings in [addr, addr+length).
func Munmap(addr, length uintptr) int {
	e, ok := engine()
	if !ok {
		return -1
	}
	return status(e.Munmap(addr, length))
}

// Mprotect changes the protection of mapped pages.
func Mprotect(addr, length uintptr, prot int) int {
	e, ok := engine()
	if !ok {
		return -1
	}
	return status(e.Mprotect(addr, length, memmap.Prot(prot)))
}

// Msync flushes file-backed pages.
func Msync(addr, length uintptr, flags int) int {
	e, ok := engine()
	if !ok {
		return -1
	}
	return status(e.Msync(addr, length, memmap.SyncFlag(flags)))
}

// Madvise passes usage advice for a range.
func Madvise(addr, length uintptr, advice int) int {
	e, ok := engine()
	if !ok {
		return -1
	}
	return status(e.Madvise(addr, length, memmap.Advice(advice)))
}

// Mlock locks pages into the working set.
func Mlock(addr, length uintptr) int {
	e, ok := engine()
	if !ok {
		return -1
	}
	return status(e.Mlock(addr, length))
}

// Mlock2 is Mlock with flags.
func Mlock2(addr, length uintptr, flags int) int {
	e, ok := engine()
	if !ok {
		return -1
	}
	return status(e.Mlock2(addr, length, memmap.LockFlag(flags)))
}

// Munlock unlocks pages.
func Munlock(addr, length uintptr) int {
	e, ok := engine()
	if !ok {
		return -1
	}
	return status(e.Munlock(addr, length))
}

// Mlockall locks every accessible page of the process.
func Mlockall(flags int) int {
	e, ok := engine()
	if !ok {
		return -1
	}
	return status(e.Mlockall(memmap.LockAllFlag(flags)))
}

// Munlockall unlocks every page of the process.
func Munlockall() int {
	e, ok := engine()
	if !ok {
		return -1
	}
	return status(e.Munlockall())
}

// Mincore reports page residency into vec.
func Mincore(addr, length uintptr, vec []byte) int {
	e, ok := engine()
	if !ok {
		return -1
	}
	return status(e.Mincore(addr, length, vec))
}

// Fileno registers f with the default descriptor table and returns the
// descriptor to pass to Mmap.
func Fileno(f *os.File) int {
	e, ok := engine()
	if !ok {
		return -1
	}
	fd, err := e.Files().Register(f)
	if err != nil {
		return status(err)
	}
	return fd
}

func configure(opt memmap.Option) int {
	e, ok := engine()
	if !ok {
		return -1
	}
	return status(e.Configure(opt))
}

// SetStrict toggles strict argument checking.
func SetStrict(strict bool) { configure(memmap.WithStrict(strict)) }

// SetMincoreStrict toggles strict residency queries.
func SetMincoreStrict(strict bool) { configure(memmap.WithStrictMincore(strict)) }

// SetExecInference sets the exec-bit inference policy (FdAccess*).
func SetExecInference(policy int) int {
	return configure(memmap.WithExecInference(memmap.Inference(policy)))
}

// SetWriteInference sets the write-bit inference policy (FdAccess*).
func SetWriteInference(policy int) int {
	return configure(memmap.WithWriteInference(memmap.Inference(policy)))
}

// SetImageSections maps files the way a loader maps executables.
func SetImageSections(enabled bool) { configure(memmap.WithImageSections(enabled)) }

// SetAdviseDecommits makes MadvDontNeed offer pages back to the host.
func SetAdviseDecommits(enabled bool) { configure(memmap.WithAdviseDecommits(enabled)) }

// SetOfferResoluteness sets the offer resoluteness, 0 to 3.
func SetOfferResoluteness(n int) int {
	return configure(memmap.WithOfferResoluteness(n))
}

// SetResolver replaces the descriptor resolver. It fails after the first
// mapping.
func SetResolver(r memmap.Resolver) int {
	return configure(memmap.WithResolver(r))
}

// EmergencyModeAssumeUnreliableHeap stops all bookkeeping for good.
func EmergencyModeAssumeUnreliableHeap() {
	if e, ok := engine(); ok {
		e.EnterEmergencyMode()
	}
}

// SetSharedMemoryDir validates and sets the shared-memory directory.
func SetSharedMemoryDir(path string) int {
	return status(shm.SetDir(path))
}

// SharedMemoryDir returns the shared-memory directory.
func SharedMemoryDir() string { return shm.Dir() }

// DefSharedMemoryDir returns the default shared-memory directory.
func DefSharedMemoryDir() string { return shm.DefaultDir() }

// TmpSharedMemoryDir returns the system temporary directory.
func TmpSharedMemoryDir() string { return shm.TempDir() }
