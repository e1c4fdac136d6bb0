package dump

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/memmap"
	"github.com/hupe1980/memmap/blobstore"
	"github.com/hupe1980/memmap/host"
	"github.com/hupe1980/memmap/host/sim"
	"github.com/hupe1980/memmap/walk"
)

const ps = 4096

func newEngine(t *testing.T) *memmap.Engine {
	t.Helper()
	e, err := memmap.New(memmap.WithHost(sim.New()))
	require.NoError(t, err)
	return e
}

// mapFilled maps n anonymous pages and fills them with fill(i).
func mapFilled(t *testing.T, e *memmap.Engine, n int, flags memmap.Flag, fill func(i int) byte) uintptr {
	t.Helper()
	length := uintptr(n * ps)
	addr, err := e.Mmap(0, length, memmap.ProtRead|memmap.ProtWrite, memmap.MapPrivate|memmap.MapAnonymous|flags, -1, 0)
	require.NoError(t, err)
	b, err := e.Bytes(addr, length)
	require.NoError(t, err)
	for i := range b {
		b[i] = fill(i)
	}
	return addr
}

func readAll(t *testing.T, r io.Reader) (Header, []Record) {
	t.Helper()
	var recs []Record
	hdr, err := Read(r, func(rec Record) error {
		recs = append(recs, rec)
		return nil
	})
	require.NoError(t, err)
	return hdr, recs
}

// coalesce joins adjacent records into contiguous ranges of bytes.
func coalesce(recs []Record) map[uintptr][]byte {
	out := make(map[uintptr][]byte)
	var base uintptr
	var end uintptr
	for _, r := range recs {
		if len(out) == 0 || r.Addr != end {
			base = r.Addr
			out[base] = nil
		}
		out[base] = append(out[base], r.Data...)
		end = r.End()
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecLZ4, CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			e := newEngine(t)
			a := mapFilled(t, e, 3, 0, func(i int) byte { return byte(i % 251) })
			b := mapFilled(t, e, 2, 0, func(int) byte { return 0 })

			var buf bytes.Buffer
			st, err := Write(context.Background(), e, &buf, WithCodec(codec), WithChunkSize(2*ps))
			require.NoError(t, err)
			assert.Equal(t, 2, st.Regions)
			assert.Equal(t, int64(5*ps), st.RawBytes)
			assert.Equal(t, 3, st.Records) // 2+1 pages, then 2 pages
			assert.Equal(t, int64(buf.Len()), st.StoredBytes)
			if codec != CodecNone {
				assert.Less(t, st.StoredBytes, st.RawBytes)
			}

			hdr, recs := readAll(t, &buf)
			assert.Equal(t, codec, hdr.Codec)
			assert.Equal(t, uint32(2*ps), hdr.ChunkSize)
			assert.Equal(t, uint32(ps), hdr.PageSize)

			wa, err := e.Bytes(a, 3*ps)
			require.NoError(t, err)
			wb, err := e.Bytes(b, 2*ps)
			require.NoError(t, err)
			assert.Equal(t, map[uintptr][]byte{a: wa, b: wb}, coalesce(recs))
		})
	}
}

func TestParallelPreservesOrder(t *testing.T) {
	e := newEngine(t)
	mapFilled(t, e, 16, 0, func(i int) byte { return byte(i / ps) })

	var buf bytes.Buffer
	st, err := Write(context.Background(), e, &buf, WithChunkSize(ps), WithWorkers(4), WithCodec(CodecLZ4))
	require.NoError(t, err)
	assert.Equal(t, 16, st.Records)

	_, recs := readAll(t, &buf)
	require.Len(t, recs, 16)
	for i := 1; i < len(recs); i++ {
		assert.Equal(t, recs[i-1].End(), recs[i].Addr)
		assert.Equal(t, byte(i), recs[i].Data[0])
	}
}

func TestExclusion(t *testing.T) {
	e := newEngine(t)
	a := mapFilled(t, e, 4, 0, func(i int) byte { return 0xAA })
	mapFilled(t, e, 2, memmap.MapConceal, func(i int) byte { return 0xCC })
	require.NoError(t, e.Madvise(a+ps, ps, memmap.MadvDontDump))

	ranges, err := Plan(e)
	require.NoError(t, err)
	assert.Equal(t, []walk.Range{
		{Lower: a, Upper: a + ps},
		{Lower: a + 2*ps, Upper: a + 4*ps},
	}, ranges)

	var buf bytes.Buffer
	st, err := Write(context.Background(), e, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(3*ps), st.ExcludedBytes)
	assert.Equal(t, int64(3*ps), st.RawBytes)

	_, recs := readAll(t, &buf)
	for _, r := range recs {
		assert.NotContains(t, r.Data, byte(0xCC))
	}

	// Re-enabling brings the page back.
	require.NoError(t, e.Madvise(a+ps, ps, memmap.MadvDoDump))
	ranges, err = Plan(e)
	require.NoError(t, err)
	assert.Equal(t, []walk.Range{{Lower: a, Upper: a + 4*ps}}, ranges)
}

func TestPredicate(t *testing.T) {
	e := newEngine(t)
	a := mapFilled(t, e, 1, 0, func(int) byte { return 1 })
	mapFilled(t, e, 1, 0, func(int) byte { return 2 })

	ranges, err := Plan(e, WithPredicate(func(r host.Region) bool { return r.AllocationBase == a }))
	require.NoError(t, err)
	assert.Equal(t, []walk.Range{{Lower: a, Upper: a + ps}}, ranges)
}

func TestSubtract(t *testing.T) {
	r := walk.Range{Lower: 0x1000, Upper: 0x9000}
	excl := []walk.Range{
		{Lower: 0x0, Upper: 0x2000},
		{Lower: 0x3000, Upper: 0x4000},
		{Lower: 0x3800, Upper: 0x5000},
		{Lower: 0x8000, Upper: 0xa000},
	}
	assert.Equal(t, []walk.Range{
		{Lower: 0x2000, Upper: 0x3000},
		{Lower: 0x5000, Upper: 0x8000},
	}, subtract(r, excl))

	assert.Equal(t, []walk.Range{r}, subtract(r, nil))
	assert.Empty(t, subtract(r, []walk.Range{{Lower: 0, Upper: 0x10000}}))
}

func TestSplit(t *testing.T) {
	got := split([]walk.Range{{Lower: 0, Upper: 0x2800}, {Lower: 0x8000, Upper: 0x9000}}, 0x1000)
	assert.Equal(t, []walk.Range{
		{Lower: 0, Upper: 0x1000},
		{Lower: 0x1000, Upper: 0x2000},
		{Lower: 0x2000, Upper: 0x2800},
		{Lower: 0x8000, Upper: 0x9000},
	}, got)
}

func TestCorruption(t *testing.T) {
	e := newEngine(t)
	mapFilled(t, e, 1, 0, func(i int) byte { return byte(i) })

	var buf bytes.Buffer
	_, err := Write(context.Background(), e, &buf, WithCodec(CodecNone))
	require.NoError(t, err)
	good := buf.Bytes()

	t.Run("checksum", func(t *testing.T) {
		bad := bytes.Clone(good)
		bad[headerSize+recordSize+10] ^= 0xFF
		_, err := Read(bytes.NewReader(bad), func(Record) error { return nil })
		assert.ErrorIs(t, err, ErrChecksum)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := Read(bytes.NewReader(good[:len(good)-recordSize]), func(Record) error { return nil })
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("magic", func(t *testing.T) {
		bad := bytes.Clone(good)
		bad[0] = 'X'
		_, err := NewReader(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrFormat)

		_, err = NewReader(bytes.NewReader(good[:4]))
		assert.ErrorIs(t, err, ErrFormat)
	})

	t.Run("trailer count", func(t *testing.T) {
		bad := bytes.Clone(good)
		bad[len(bad)-recordSize] = 7
		_, err := Read(bytes.NewReader(bad), func(Record) error { return nil })
		assert.ErrorIs(t, err, ErrFormat)
	})

	t.Run("callback error", func(t *testing.T) {
		stop := errors.New("stop")
		_, err := Read(bytes.NewReader(good), func(Record) error { return stop })
		assert.ErrorIs(t, err, stop)
	})

	t.Run("next after end", func(t *testing.T) {
		r, err := NewReader(bytes.NewReader(good))
		require.NoError(t, err)
		_, err = r.Next()
		require.NoError(t, err)
		_, err = r.Next()
		assert.ErrorIs(t, err, io.EOF)
		_, err = r.Next()
		assert.ErrorIs(t, err, io.EOF)
	})
}

func TestEmptyDump(t *testing.T) {
	var buf bytes.Buffer
	st, err := Write(context.Background(), newEngine(t), &buf)
	require.NoError(t, err)
	assert.Zero(t, st.Records)
	assert.Equal(t, headerSize+recordSize, buf.Len())

	_, recs := readAll(t, &buf)
	assert.Empty(t, recs)
}

func TestOptions(t *testing.T) {
	for name, opt := range map[string]Option{
		"codec":   WithCodec(Codec(9)),
		"chunk":   WithChunkSize(0),
		"workers": WithWorkers(0),
		"io":      WithIOLimit(-1),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Write(context.Background(), newEngine(t), io.Discard, opt)
			assert.Error(t, err)
		})
	}
}

func TestIOLimit(t *testing.T) {
	e := newEngine(t)
	mapFilled(t, e, 4, 0, func(i int) byte { return byte(i) })

	var buf bytes.Buffer
	st, err := Write(context.Background(), e, &buf, WithCodec(CodecNone), WithIOLimit(1<<20))
	require.NoError(t, err)
	assert.Equal(t, int64(4*ps), st.RawBytes)
}

type fakeSource struct {
	regions []host.Region
	mem     map[uintptr][]byte
}

func (s *fakeSource) SystemInfo() host.SystemInfo {
	return host.SystemInfo{PageSize: ps, MinimumApplicationAddress: 0x10000, MaximumApplicationAddress: 0x7ffff}
}

func (s *fakeSource) VirtualQuery(addr uintptr) (host.Region, error) {
	next := uintptr(0x80000)
	for _, r := range s.regions {
		if r.Contains(addr) {
			return r, nil
		}
		if r.BaseAddress > addr && r.BaseAddress < next {
			next = r.BaseAddress
		}
	}
	return host.Region{BaseAddress: addr, RegionSize: next - addr, State: host.StateFree}, nil
}

func (s *fakeSource) WalkProcess(pred walk.Predicate) *walk.Walker { return walk.Process(s, pred) }
func (s *fakeSource) Excluded() []walk.Range                       { return nil }
func (s *fakeSource) PageSize() uintptr                            { return ps }

func (s *fakeSource) Bytes(addr, length uintptr) ([]byte, error) {
	b, ok := s.mem[addr]
	if !ok {
		return nil, host.ErrNoAccess
	}
	return b[:length], nil
}

func TestSkippedChunks(t *testing.T) {
	committed := func(base uintptr) host.Region {
		return host.Region{BaseAddress: base, AllocationBase: base, RegionSize: ps, State: host.StateCommit, Protect: host.PageReadWrite, Type: host.TypePrivate}
	}
	src := &fakeSource{
		regions: []host.Region{committed(0x20000), committed(0x30000)},
		mem:     map[uintptr][]byte{0x30000: bytes.Repeat([]byte{7}, ps)},
	}

	var buf bytes.Buffer
	st, err := Write(context.Background(), src, &buf, WithLogger(memmap.NoopLogger()))
	require.NoError(t, err)
	assert.Equal(t, 2, st.Regions)
	assert.Equal(t, 1, st.Records)
	assert.Equal(t, int64(ps), st.SkippedBytes)

	_, recs := readAll(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, uintptr(0x30000), recs[0].Addr)
}

func TestBlob(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a := mapFilled(t, e, 2, 0, func(i int) byte { return byte(i * 3) })
	store := blobstore.NewMemoryStore()

	st, err := WriteBlob(ctx, e, store, "core.mmd", WithCodec(CodecZstd))
	require.NoError(t, err)
	assert.Equal(t, 1, st.Records)

	var got []Record
	hdr, err := ReadBlob(ctx, store, "core.mmd", func(r Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, CodecZstd, hdr.Codec)
	require.Len(t, got, 1)
	assert.Equal(t, a, got[0].Addr)
	want, err := e.Bytes(a, 2*ps)
	require.NoError(t, err)
	assert.Equal(t, want, got[0].Data)

	t.Run("canceled is not published", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := WriteBlob(cctx, e, store, "partial.mmd")
		require.ErrorIs(t, err, context.Canceled)

		names, err := store.List(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"core.mmd"}, names)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := ReadBlob(ctx, store, "none.mmd", func(Record) error { return nil })
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("local store", func(t *testing.T) {
		local := blobstore.NewLocalStore(t.TempDir())
		_, err := WriteBlob(ctx, e, local, "dumps/core.mmd", WithCodec(CodecLZ4))
		require.NoError(t, err)

		var n int
		_, err = ReadBlob(ctx, local, "dumps/core.mmd", func(Record) error { n++; return nil })
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}
