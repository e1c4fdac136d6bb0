package win

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/memmap/host"
)

func newHost(t *testing.T) *Host {
	t.Helper()
	h, err := New()
	require.NoError(t, err)
	return h
}

func TestSystemInfo(t *testing.T) {
	info := newHost(t).SystemInfo()
	assert.NotZero(t, info.PageSize)
	assert.GreaterOrEqual(t, info.AllocationGranularity, info.PageSize)
	assert.Less(t, info.MinimumApplicationAddress, info.MaximumApplicationAddress)
}

func TestReserveCommit(t *testing.T) {
	h := newHost(t)
	ps := h.SystemInfo().PageSize

	base, err := h.VirtualAlloc(0, 4*ps, host.MemReserve, host.PageNoAccess)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.VirtualFree(base, 0, host.MemRelease) })

	r, err := h.VirtualQuery(base)
	require.NoError(t, err)
	assert.Equal(t, host.StateReserve, r.State)
	assert.Equal(t, host.TypePrivate, r.Type)

	_, err = h.Bytes(base, ps)
	assert.ErrorIs(t, err, host.ErrNoAccess)

	p, err := h.VirtualAlloc(base+ps, ps, host.MemCommit, host.PageReadWrite)
	require.NoError(t, err)
	assert.Equal(t, base+ps, p)

	b, err := h.Bytes(p, ps)
	require.NoError(t, err)
	b[0] = 0x5a
	assert.Equal(t, byte(0x5a), b[0])

	old, err := h.VirtualProtect(p, ps, host.PageReadOnly)
	require.NoError(t, err)
	assert.Equal(t, host.PageReadWrite, old)

	r, err = h.VirtualQuery(p)
	require.NoError(t, err)
	assert.Equal(t, host.StateCommit, r.State)
	assert.Equal(t, host.PageReadOnly, r.Protect)
	assert.Equal(t, ps, r.RegionSize)
}

func TestInvalidAddress(t *testing.T) {
	h := newHost(t)
	err := h.VirtualFree(h.SystemInfo().AllocationGranularity, 0, host.MemRelease)
	assert.Error(t, err)

	var en host.Errno
	assert.ErrorAs(t, err, &en)
}

func TestFileView(t *testing.T) {
	h := newHost(t)
	ps := h.SystemInfo().PageSize

	path := filepath.Join(t.TempDir(), "view.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, ps), 0o600))
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	fh, err := h.FileHandle(f)
	require.NoError(t, err)
	size, err := h.FileSize(fh)
	require.NoError(t, err)
	assert.Equal(t, int64(ps), size)

	sec, err := h.CreateFileMapping(fh, host.PageReadWrite, 0)
	require.NoError(t, err)
	defer h.CloseHandle(sec)

	addr, err := h.MapViewOfFile(sec, host.FileMapWrite, 0, ps, 0)
	require.NoError(t, err)

	b, err := h.Bytes(addr, ps)
	require.NoError(t, err)
	copy(b, "hello")

	require.NoError(t, h.FlushViewOfFile(addr, ps))
	require.NoError(t, h.FlushFileBuffers(fh))
	require.NoError(t, h.UnmapViewOfFile(addr))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got[:5]))
}

func TestLock(t *testing.T) {
	h := newHost(t)
	ps := h.SystemInfo().PageSize

	addr, err := h.VirtualAlloc(0, ps, host.MemReserve|host.MemCommit, host.PageReadWrite)
	require.NoError(t, err)
	defer h.VirtualFree(addr, 0, host.MemRelease)

	require.NoError(t, h.VirtualLock(addr, ps))
	require.NoError(t, h.VirtualUnlock(addr, ps))
	assert.ErrorIs(t, h.VirtualUnlock(addr, ps), host.ErrNotLocked)
}

func TestDumpFilter(t *testing.T) {
	h := newHost(t)
	if !h.DumpFilterAvailable() {
		t.Skip("WER exclusion list not available")
	}
	ps := h.SystemInfo().PageSize

	addr, err := h.VirtualAlloc(0, ps, host.MemReserve|host.MemCommit, host.PageReadWrite)
	require.NoError(t, err)
	defer h.VirtualFree(addr, 0, host.MemRelease)

	require.NoError(t, h.ExcludeFromDump(addr, ps))
	require.NoError(t, h.IncludeInDump(addr))
}
