package memmap

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/memmap/host"
	"github.com/hupe1980/memmap/host/sim"
	"github.com/hupe1980/memmap/internal/resource"
)

func TestMlock(t *testing.T) {
	h := sim.New()
	e := newTestEngine(t, h)
	addr := mapAnon(t, e, 3*pageSize, rw)

	require.NoError(t, e.Mlock(addr+100, pageSize))
	assert.True(t, h.Locked(addr))
	assert.True(t, h.Locked(addr+pageSize))
	assert.False(t, h.Locked(addr+2*pageSize))
	assert.Equal(t, uintptr(2*pageSize), e.LockedBytes())

	// Locking again charges nothing new.
	require.NoError(t, e.Mlock(addr, pageSize))
	assert.Equal(t, uintptr(2*pageSize), e.LockedBytes())

	require.NoError(t, e.Munlock(addr, 3*pageSize))
	assert.Zero(t, e.LockedBytes())
	assert.Zero(t, h.LockedBytes())

	// Unlocking pages that are not locked is fine.
	assert.NoError(t, e.Munlock(addr, pageSize))
}

func TestMlock_Budget(t *testing.T) {
	e := newTestEngine(t, sim.New(), WithLockLimit(2*pageSize))
	addr := mapAnon(t, e, 3*pageSize, rw)

	require.NoError(t, e.Mlock(addr, 2*pageSize))

	err := e.Mlock(addr, 3*pageSize)
	assert.ErrorIs(t, err, ErrTryAgain)
	assert.ErrorIs(t, err, resource.ErrLockLimitExceeded)
	assert.Equal(t, syscall.EAGAIN, Errno(err))

	require.NoError(t, e.Munlock(addr, pageSize))
	assert.NoError(t, e.Mlock(addr+2*pageSize, pageSize))
}

func TestMlock_WorkingSetQuota(t *testing.T) {
	e := newTestEngine(t, sim.New(sim.WithWorkingSetLimit(pageSize)))
	addr := mapAnon(t, e, 2*pageSize, rw)

	err := e.Mlock(addr, 2*pageSize)
	assert.ErrorIs(t, err, ErrTryAgain)
	assert.ErrorIs(t, err, host.ErrWorkingSetQuota)
	assert.Zero(t, e.LockedBytes())

	assert.NoError(t, e.Mlock(addr, pageSize))
}

func TestMlock_NoAccess(t *testing.T) {
	e := newTestEngine(t, sim.New())
	addr := mapAnon(t, e, pageSize, ProtNone)

	assert.ErrorIs(t, e.Mlock(addr, pageSize), ErrTryAgain)
	assert.ErrorIs(t, e.Mlock(0x300000, pageSize), ErrTryAgain)
	assert.ErrorIs(t, e.Munlock(0x300000, pageSize), ErrTryAgain)
}

func TestMlock_Arguments(t *testing.T) {
	e := newTestEngine(t, sim.New(), WithStrict(true))
	addr := mapAnon(t, e, pageSize, rw)

	assert.ErrorIs(t, e.Mlock(addr+1, pageSize), ErrInvalidArgument)
	assert.ErrorIs(t, e.Munlock(addr+1, pageSize), ErrInvalidArgument)
	assert.NoError(t, e.Mlock(addr, 0))

	assert.ErrorIs(t, e.Mlock2(addr, pageSize, 0x1), ErrInvalidArgument)
	require.NoError(t, e.Mlock2(addr, pageSize, MlockOnFault))
	assert.Equal(t, uintptr(pageSize), e.LockedBytes())
}

func TestMlockall(t *testing.T) {
	h := sim.New()
	e := newTestEngine(t, h)
	a := mapAnon(t, e, 2*pageSize, rw)
	b := mapAnon(t, e, pageSize, ProtRead)
	none := mapAnon(t, e, pageSize, ProtNone)

	require.NoError(t, e.Mlockall(McCurrent))
	assert.True(t, h.Locked(a))
	assert.True(t, h.Locked(a+pageSize))
	assert.True(t, h.Locked(b))
	assert.False(t, h.Locked(none))

	require.NoError(t, e.Munlockall())
	assert.Zero(t, h.LockedBytes())
	assert.Zero(t, e.LockedBytes())
}

func TestMlockall_Flags(t *testing.T) {
	strict := newTestEngine(t, sim.New(), WithStrict(true))
	assert.ErrorIs(t, strict.Mlockall(0), ErrInvalidArgument)
	assert.ErrorIs(t, strict.Mlockall(McOnFault), ErrInvalidArgument)
	assert.ErrorIs(t, strict.Mlockall(McCurrent|0x80), ErrInvalidArgument)
	assert.NoError(t, strict.Mlockall(McCurrent|McOnFault))

	h := sim.New()
	lenient := newTestEngine(t, h)
	addr := mapAnon(t, lenient, pageSize, rw)
	require.NoError(t, lenient.Mlockall(0))
	assert.True(t, h.Locked(addr))
}

func TestMlockall_FirstFailure(t *testing.T) {
	h := sim.New()
	e := newTestEngine(t, h, WithLockLimit(pageSize))
	a := mapAnon(t, e, pageSize, rw)
	b := mapAnon(t, e, pageSize, rw)

	err := e.Mlockall(McCurrent)
	assert.ErrorIs(t, err, ErrTryAgain)
	// The walk continues after a failure.
	assert.True(t, h.Locked(a) != h.Locked(b))
	assert.Equal(t, uintptr(pageSize), e.LockedBytes())
}
