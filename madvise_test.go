package memmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/memmap/host"
	"github.com/hupe1980/memmap/host/sim"
	"github.com/hupe1980/memmap/walk"
)

func TestMadvise_DontNeedReset(t *testing.T) {
	h := sim.New()
	e := newTestEngine(t, h)
	addr := mapAnon(t, e, 2*pageSize, rw)

	require.NoError(t, e.Madvise(addr, 2*pageSize, MadvDontNeed))

	// Reset pages stay accessible.
	_, err := e.Bytes(addr, 2*pageSize)
	require.NoError(t, err)
	assert.False(t, h.Offered(addr))
}

func TestMadvise_DontNeedOffer(t *testing.T) {
	t.Run("contents survive", func(t *testing.T) {
		h := sim.New()
		e := newTestEngine(t, h, WithAdviseDecommits(true))
		addr := mapAnon(t, e, pageSize, rw)

		b, err := e.Bytes(addr, 1)
		require.NoError(t, err)
		b[0] = 42

		require.NoError(t, e.Madvise(addr, pageSize, MadvDontNeed))
		assert.True(t, h.Offered(addr))
		_, err = e.Bytes(addr, 1)
		assert.ErrorIs(t, err, host.ErrNoAccess)

		require.NoError(t, e.Madvise(addr, pageSize, MadvWillNeed))
		assert.False(t, h.Offered(addr))
		b, err = e.Bytes(addr, 1)
		require.NoError(t, err)
		assert.Equal(t, byte(42), b[0])
	})

	t.Run("contents discarded", func(t *testing.T) {
		h := sim.New(sim.WithDiscardOfferedPages())
		e := newTestEngine(t, h, WithAdviseDecommits(true))
		addr := mapAnon(t, e, pageSize, rw)

		b, err := e.Bytes(addr, 1)
		require.NoError(t, err)
		b[0] = 42

		require.NoError(t, e.Madvise(addr, pageSize, MadvDontNeed))
		require.NoError(t, e.Madvise(addr, pageSize, MadvWillNeed))

		b, err = e.Bytes(addr, 1)
		require.NoError(t, err)
		assert.Equal(t, byte(0), b[0])
	})

	t.Run("offer unavailable", func(t *testing.T) {
		h := sim.New(sim.WithoutOffer())
		e := newTestEngine(t, h, WithAdviseDecommits(true))
		addr := mapAnon(t, e, pageSize, rw)

		require.NoError(t, e.Madvise(addr, pageSize, MadvDontNeed))
		_, err := e.Bytes(addr, 1)
		assert.NoError(t, err)
	})

	t.Run("unmapping forgets the offer", func(t *testing.T) {
		h := sim.New()
		e := newTestEngine(t, h, WithAdviseDecommits(true))
		addr := mapAnon(t, e, pageSize, rw)

		require.NoError(t, e.Madvise(addr, pageSize, MadvDontNeed))
		require.NoError(t, e.Munmap(addr, pageSize))

		again, err := e.Mmap(addr, pageSize, rw, MapPrivate|MapAnonymous|MapFixed, -1, 0)
		require.NoError(t, err)
		require.NoError(t, e.Madvise(again, pageSize, MadvWillNeed))
		_, err = e.Bytes(again, 1)
		assert.NoError(t, err)
	})
}

func TestMadvise_DontNeedLocked(t *testing.T) {
	e := newTestEngine(t, sim.New())
	addr := mapAnon(t, e, 2*pageSize, rw)

	require.NoError(t, e.Mlock(addr+pageSize, pageSize))
	assert.ErrorIs(t, e.Madvise(addr, 2*pageSize, MadvDontNeed), ErrInvalidArgument)
	assert.NoError(t, e.Madvise(addr, pageSize, MadvDontNeed))
}

func TestMadvise_DontNeedView(t *testing.T) {
	e := newTestEngine(t, sim.New())
	_, fd := registerFile(t, e, pattern(pageSize))
	addr, err := e.Mmap(0, pageSize, ProtRead, MapShared, fd, 0)
	require.NoError(t, err)

	require.NoError(t, e.Madvise(addr, pageSize, MadvDontNeed))
	b, err := e.Bytes(addr, 4)
	require.NoError(t, err)
	assert.Equal(t, pattern(4), b)
}

func TestMadvise_WillNeedWithoutPrefetch(t *testing.T) {
	e := newTestEngine(t, sim.New(sim.WithoutPrefetch()))
	addr := mapAnon(t, e, pageSize, rw)
	assert.NoError(t, e.Madvise(addr, pageSize, MadvWillNeed))
}

func TestMadvise_Dump(t *testing.T) {
	h := sim.New()
	e := newTestEngine(t, h)
	addr := mapAnon(t, e, 4*pageSize, rw)

	require.NoError(t, e.Madvise(addr, 2*pageSize, MadvDontDump))
	require.NoError(t, e.Madvise(addr+2*pageSize, pageSize, MadvDontDump))
	// Excluding twice is not an error.
	require.NoError(t, e.Madvise(addr, 2*pageSize, MadvDontDump))

	assert.Equal(t, []walk.Range{
		walk.Span(addr, 2*pageSize),
		walk.Span(addr+2*pageSize, pageSize),
	}, e.Excluded())
	assert.Equal(t, map[uintptr]uintptr{addr: 2 * pageSize, addr + 2*pageSize: pageSize}, h.Excluded())

	require.NoError(t, e.Madvise(addr, pageSize, MadvDoDump))
	assert.Equal(t, []walk.Range{walk.Span(addr+2*pageSize, pageSize)}, e.Excluded())
	assert.Len(t, h.Excluded(), 1)

	require.NoError(t, e.Munmap(addr, 4*pageSize))
	assert.Empty(t, e.Excluded())
	assert.Empty(t, h.Excluded())
}

func TestMadvise_DumpFilterUnavailable(t *testing.T) {
	h := sim.New(sim.WithoutDumpFilter())

	strict := newTestEngine(t, h, WithStrict(true))
	addr := mapAnon(t, strict, pageSize, rw)
	err := strict.Madvise(addr, pageSize, MadvDontDump)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, err, host.ErrNotSupported)

	lenient := newTestEngine(t, h)
	addr = mapAnon(t, lenient, pageSize, rw)
	require.NoError(t, lenient.Madvise(addr, pageSize, MadvDontDump))
	assert.Equal(t, []walk.Range{walk.Span(addr, pageSize)}, lenient.Excluded())
}

func TestMadvise_Arguments(t *testing.T) {
	strict := newTestEngine(t, sim.New(), WithStrict(true))
	addr := mapAnon(t, strict, pageSize, rw)

	assert.ErrorIs(t, strict.Madvise(addr, pageSize, Advice(77)), ErrInvalidArgument)
	assert.ErrorIs(t, strict.Madvise(addr+1, pageSize, MadvNormal), ErrInvalidArgument)
	assert.NoError(t, strict.Madvise(addr, 0, Advice(77)))
	assert.NoError(t, strict.Madvise(addr, pageSize, MadvNormal))

	lenient := newTestEngine(t, sim.New())
	addr = mapAnon(t, lenient, pageSize, rw)
	assert.NoError(t, lenient.Madvise(addr, pageSize, Advice(77)))
}

func TestMadvise_DontNeedResidency(t *testing.T) {
	const pages = 4

	resident := func(t *testing.T, e *Engine, addr uintptr) int {
		t.Helper()
		status := make([]byte, pages)
		require.NoError(t, e.Mincore(addr, pages*pageSize, status))
		n := 0
		for _, s := range status {
			n += int(s)
		}
		return n
	}

	for _, decommit := range []bool{false, true} {
		name := "reset"
		if decommit {
			name = "offer"
		}
		t.Run(name, func(t *testing.T) {
			e := newTestEngine(t, sim.New(), WithAdviseDecommits(decommit))
			addr := mapAnon(t, e, pages*pageSize, rw)

			b, err := e.Bytes(addr, pages*pageSize)
			require.NoError(t, err)
			for i := range b {
				b[i] = byte(i)
			}

			before := resident(t, e, addr)
			assert.Equal(t, pages, before)

			require.NoError(t, e.Madvise(addr, pages*pageSize, MadvDontNeed))
			assert.LessOrEqual(t, resident(t, e, addr), before)

			// Advising again never brings pages back.
			after := resident(t, e, addr)
			require.NoError(t, e.Madvise(addr, pages*pageSize, MadvDontNeed))
			assert.LessOrEqual(t, resident(t, e, addr), after)
		})
	}
}
