package walk

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/memmap/host"
	"github.com/hupe1980/memmap/host/sim"
)

type fakeQuerier struct {
	regions []host.Region
	fail    uintptr
}

func (q *fakeQuerier) VirtualQuery(addr uintptr) (host.Region, error) {
	if q.fail != 0 && addr >= q.fail {
		return host.Region{}, host.ErrInvalidParameter
	}
	for _, r := range q.regions {
		if r.Contains(addr) {
			return r, nil
		}
	}
	return host.Region{BaseAddress: addr, State: host.StateFree}, nil
}

func TestRange(t *testing.T) {
	r := Span(0x1000, 0x2000)
	assert.Equal(t, uintptr(0x2000), r.Len())
	assert.True(t, r.Contains(0x1000))
	assert.False(t, r.Contains(0x3000))
	assert.Equal(t, "[0x1000, 0x3000)", r.String())

	assert.Equal(t, Range{Lower: 0x2000, Upper: 0x3000}, r.Intersect(Span(0x2000, 0x5000)))
	assert.True(t, r.Intersect(Span(0x8000, 0x1000)).Empty())

	top := Span(^uintptr(0)-0xfff, 0x2000)
	assert.Equal(t, ^uintptr(0), top.Upper)
	assert.Zero(t, Range{Lower: 5, Upper: 1}.Len())
}

func TestWalker_Sim(t *testing.T) {
	h := sim.New()
	base, err := h.VirtualAlloc(0, 3*4096, host.MemReserve|host.MemCommit, host.PageReadWrite)
	require.NoError(t, err)
	_, err = h.VirtualProtect(base+4096, 4096, host.PageNoAccess)
	require.NoError(t, err)

	r := Span(base, 3*4096)

	regions, ranges, err := Collect(New(h, r, nil))
	require.NoError(t, err)
	assert.Len(t, regions, 3)
	assert.Equal(t, Span(base+4096, 4096), ranges[1])

	_, ranges, err = Collect(New(h, r, Accessible))
	require.NoError(t, err)
	assert.Equal(t, []Range{Span(base, 4096), Span(base+2*4096, 4096)}, ranges)

	_, ranges, err = Collect(New(h, Span(base+100, 200), Committed))
	require.NoError(t, err)
	assert.Equal(t, []Range{Span(base+100, 200)}, ranges)

	_, ranges, err = Collect(Process(h, Reserved))
	require.NoError(t, err)
	assert.Len(t, ranges, 3)
}

func TestWalker_Stalled(t *testing.T) {
	q := &fakeQuerier{regions: []host.Region{
		{BaseAddress: 0x1000, RegionSize: 0x1000, State: host.StateCommit},
		{BaseAddress: 0x2000, RegionSize: 0, State: host.StateCommit},
	}}
	// A zero-size descriptor at 0x2000 cannot advance the walk.
	w := New(q, Span(0x1000, 0x2000), Addressable)
	regions, _, err := Collect(w)
	assert.ErrorIs(t, err, ErrStalled)
	assert.Len(t, regions, 1)
}

func TestWalker_QueryError(t *testing.T) {
	q := &fakeQuerier{
		regions: []host.Region{{BaseAddress: 0x1000, RegionSize: 0x1000, State: host.StateCommit}},
		fail:    0x2000,
	}
	w := New(q, Span(0x1000, 0x2000), Committed)
	regions, _, err := Collect(w)
	assert.Len(t, regions, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, host.ErrInvalidParameter))
}

func TestWalker_SingleUse(t *testing.T) {
	h := sim.New()
	_, err := h.VirtualAlloc(0, 4096, host.MemReserve|host.MemCommit, host.PageReadOnly)
	require.NoError(t, err)

	w := Process(h, Committed)
	n := 0
	for range w.All() {
		n++
	}
	assert.Equal(t, 1, n)
	for range w.All() {
		n++
	}
	assert.Equal(t, 1, n)
}

func TestWalker_EarlyStop(t *testing.T) {
	h := sim.New()
	for range 3 {
		_, err := h.VirtualAlloc(0, 4096, host.MemReserve|host.MemCommit, host.PageReadOnly)
		require.NoError(t, err)
	}

	n := 0
	for range Process(h, Committed).All() {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestPredicates(t *testing.T) {
	free := host.Region{State: host.StateFree}
	reserved := host.Region{State: host.StateReserve}
	guard := host.Region{State: host.StateCommit, Protect: host.PageReadWrite | host.PageGuard}
	execOnly := host.Region{State: host.StateCommit, Protect: host.PageExecute}

	assert.True(t, Addressable(free))
	assert.False(t, Reserved(free))
	assert.True(t, Reserved(reserved))
	assert.False(t, Committed(reserved))
	assert.False(t, Accessible(guard))
	assert.True(t, Accessible(execOnly))
	assert.False(t, Readable(execOnly))
}
