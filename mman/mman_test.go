package mman

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/memmap"
	"github.com/hupe1980/memmap/host/sim"
)

const ps = 4096

func useSim(t *testing.T, opts ...memmap.Option) *memmap.Engine {
	t.Helper()
	e, err := memmap.New(append([]memmap.Option{memmap.WithHost(sim.New())}, opts...)...)
	require.NoError(t, err)
	SetEngine(e)
	SetErrno(0)
	t.Cleanup(func() { SetEngine(nil) })
	return e
}

func TestMmapMunmap(t *testing.T) {
	e := useSim(t)

	addr := Mmap(0, 2*ps, ProtRead|ProtWrite, MapPrivate|MapAnonymous, -1, 0)
	require.NotEqual(t, MapFailed, addr)

	b, err := e.Bytes(addr, 2*ps)
	require.NoError(t, err)
	b[0] = 1

	vec := make([]byte, 2)
	assert.Equal(t, 0, Mincore(addr, 2*ps, vec))
	assert.Equal(t, 0, Mprotect(addr, ps, ProtRead))
	assert.Equal(t, 0, Madvise(addr, 2*ps, MadvWillNeed))
	assert.Equal(t, 0, Mlock(addr, ps))
	assert.Equal(t, 0, Munlock(addr, ps))
	assert.Equal(t, 0, Munmap(addr, 2*ps))
	assert.Equal(t, syscall.Errno(0), Errno())
}

func TestErrno(t *testing.T) {
	useSim(t, memmap.WithStrict(true))

	assert.Equal(t, MapFailed, Mmap(0, 0, ProtRead, MapPrivate|MapAnonymous, -1, 0))
	assert.Equal(t, syscall.EINVAL, Errno())

	assert.Equal(t, MapFailed, Mmap(0, ps, ProtRead, MapShared, 42, 0))
	assert.Equal(t, syscall.EBADF, Errno())

	// Errno survives successful calls.
	addr := Mmap(0, ps, ProtRead, MapPrivate|MapAnonymous, -1, 0)
	require.NotEqual(t, MapFailed, addr)
	assert.Equal(t, syscall.EBADF, Errno())

	assert.Equal(t, -1, Msync(addr, ps, MsSync|MsAsync))
	assert.Equal(t, syscall.EINVAL, Errno())

	assert.Equal(t, -1, Munlock(addr+0x100000, ps))
	assert.Equal(t, syscall.EAGAIN, Errno())

	assert.Equal(t, -1, Mlock2(addr, ps, 0x80))
	assert.Equal(t, syscall.EINVAL, Errno())
}

func TestFileMapping(t *testing.T) {
	useSim(t)

	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 2*ps), 0o600))
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	fd := Fileno(f)
	require.GreaterOrEqual(t, fd, 0)

	addr := Mmap(0, 2*ps, ProtRead|ProtWrite, MapShared, fd, 0)
	require.NotEqual(t, MapFailed, addr, Errno())
	assert.Equal(t, 0, Msync(addr, 2*ps, MsSync))
	assert.Equal(t, 0, Munmap(addr, 2*ps))
}

func TestSetters(t *testing.T) {
	e := useSim(t)

	SetStrict(true)
	SetMincoreStrict(true)
	SetImageSections(true)
	SetAdviseDecommits(true)
	assert.Equal(t, 0, SetOfferResoluteness(3))
	assert.Equal(t, 0, SetExecInference(FdAccessEager))
	assert.Equal(t, 0, SetWriteInference(FdAccessProbe))

	pol := e.Policy()
	assert.True(t, pol.Strict)
	assert.True(t, pol.StrictMincore)
	assert.True(t, pol.ImageSections)
	assert.True(t, pol.AdviseDecommits)
	assert.Equal(t, 3, pol.OfferResoluteness)
	assert.Equal(t, memmap.InferEager, pol.ExecInference)
	assert.Equal(t, memmap.InferProbe, pol.WriteInference)

	assert.Equal(t, -1, SetOfferResoluteness(7))
	assert.Equal(t, syscall.EINVAL, Errno())
	assert.Equal(t, 3, e.Policy().OfferResoluteness)

	assert.Equal(t, -1, SetResolver(nil))
	assert.Equal(t, syscall.EINVAL, Errno())

	EmergencyModeAssumeUnreliableHeap()
	assert.True(t, e.Emergency())
}

func TestSysconf(t *testing.T) {
	useSim(t)

	assert.Equal(t, ps, Getpagesize())
	assert.Equal(t, int64(ps), Sysconf(ScPageSize))
	assert.Equal(t, 64*1024, AllocationGranularity())
	assert.Equal(t, int64(64*1024), Sysconf(ScAllocationGranularity))
	assert.Equal(t, int64(Gethugepagesize()), Sysconf(ScLargePageSize))

	assert.Equal(t, int64(-1), Sysconf(12345))
	assert.Equal(t, syscall.EINVAL, Errno())
}

func TestSharedMemoryDir(t *testing.T) {
	SetErrno(0)
	assert.NotEmpty(t, DefSharedMemoryDir())
	assert.NotEmpty(t, TmpSharedMemoryDir())

	dir := t.TempDir()
	assert.Equal(t, 0, SetSharedMemoryDir(dir))
	assert.Equal(t, filepath.Clean(dir), SharedMemoryDir())

	assert.Equal(t, -1, SetSharedMemoryDir(filepath.Join(dir, "missing")))
	assert.Equal(t, syscall.ENOENT, Errno())
	assert.Equal(t, filepath.Clean(dir), SharedMemoryDir())
}
