package dump

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/hupe1980/memmap"
	"github.com/hupe1980/memmap/blobstore"
	"github.com/hupe1980/memmap/internal/hash"
	"github.com/hupe1980/memmap/internal/resource"
	"github.com/hupe1980/memmap/walk"
	"golang.org/x/sync/errgroup"
)

// Source is the address space a dump is taken from.
type Source interface {
	WalkProcess(pred walk.Predicate) *walk.Walker
	Excluded() []walk.Range
	Bytes(addr, length uintptr) ([]byte, error)
	PageSize() uintptr
}

var _ Source = (*memmap.Engine)(nil)

// Stats summarizes a written dump.
type Stats struct {
	Regions       int   // regions accepted by the predicate
	Records       int   // records written
	RawBytes      int64 // memory captured
	StoredBytes   int64 // bytes written, headers included
	ExcludedBytes int64 // bytes dropped by the exclusion set
	SkippedBytes  int64 // bytes that could not be read
}

// Plan returns the ranges a dump of src captures, in address order.
func Plan(src Source, opts ...Option) ([]walk.Range, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	ranges, _, err := plan(src, o.pred)
	return ranges, err
}

func plan(src Source, pred walk.Predicate) ([]walk.Range, Stats, error) {
	var st Stats

	excl := src.Excluded()
	slices.SortFunc(excl, func(a, b walk.Range) int {
		switch {
		case a.Lower < b.Lower:
			return -1
		case a.Lower > b.Lower:
			return 1
		}
		return 0
	})

	w := src.WalkProcess(pred)
	var ranges []walk.Range
	for _, r := range w.All() {
		st.Regions++
		kept := subtract(r, excl)
		var n uintptr
		for _, k := range kept {
			n += k.Len()
		}
		st.ExcludedBytes += int64(r.Len() - n)
		ranges = append(ranges, kept...)
	}
	if err := w.Err(); err != nil {
		return nil, st, fmt.Errorf("dump: %w", err)
	}
	return ranges, st, nil
}

// subtract removes the sorted ranges excl from r.
func subtract(r walk.Range, excl []walk.Range) []walk.Range {
	var out []walk.Range
	cur := r.Lower
	for _, x := range excl {
		if x.Upper <= cur {
			continue
		}
		if x.Lower >= r.Upper {
			break
		}
		if x.Lower > cur {
			out = append(out, walk.Range{Lower: cur, Upper: x.Lower})
		}
		cur = max(cur, x.Upper)
		if cur >= r.Upper {
			return out
		}
	}
	if cur < r.Upper {
		out = append(out, walk.Range{Lower: cur, Upper: r.Upper})
	}
	return out
}

func split(ranges []walk.Range, size uintptr) []walk.Range {
	var out []walk.Range
	for _, r := range ranges {
		for lo := r.Lower; lo < r.Upper; {
			hi := r.Upper
			if hi-lo > size {
				hi = lo + size
			}
			out = append(out, walk.Range{Lower: lo, Upper: hi})
			lo = hi
		}
	}
	return out
}

type encodedChunk struct {
	hdr     recordHeader
	payload []byte
	skipped bool
}

func encodeChunk(c Codec, addr uintptr, live []byte) (encodedChunk, error) {
	raw := bytes.Clone(live)
	hdr := recordHeader{
		addr:   uint64(addr),
		rawLen: uint32(len(raw)),
		crc:    hash.CRC32C(raw),
	}
	packed, err := compress(c, raw)
	if err != nil {
		return encodedChunk{}, err
	}
	if packed == nil {
		return encodedChunk{hdr: hdr, payload: raw}, nil
	}
	hdr.storedLen = uint32(len(packed))
	return encodedChunk{hdr: hdr, payload: packed}, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Write streams a dump of src to w. Chunks are compressed in parallel and
// written in address order; output is throttled by WithIOLimit. Chunks that
// can no longer be read are skipped and counted.
func Write(ctx context.Context, src Source, w io.Writer, opts ...Option) (Stats, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return Stats{}, err
	}

	rc := resource.NewController(resource.Config{
		MaxWorkers:         o.workers,
		IOLimitBytesPerSec: o.ioLimit,
	})

	ranges, st, err := plan(src, o.pred)
	if err != nil {
		return st, err
	}

	cw := &countingWriter{w: resource.NewRateLimitedWriter(ctx, w, rc)}
	bw := bufio.NewWriterSize(cw, 64*1024)

	hdr := Header{Codec: o.codec, ChunkSize: uint32(o.chunkSize), PageSize: uint32(src.PageSize())}
	if _, err := bw.Write(hdr.marshal()); err != nil {
		return st, err
	}

	chunks := split(ranges, uintptr(o.chunkSize))
	workers := rc.MaxWorkers()
	window := workers * 2
	var rec [recordSize]byte

	for start := 0; start < len(chunks); start += window {
		batch := chunks[start:min(start+window, len(chunks))]
		encoded := make([]encodedChunk, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i, c := range batch {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				live, err := src.Bytes(c.Lower, c.Len())
				if err != nil {
					o.logger.LogBestEffort("dump read", c.Lower, c.Len(), err)
					encoded[i] = encodedChunk{skipped: true}
					return nil
				}
				e, err := encodeChunk(o.codec, c.Lower, live)
				if err != nil {
					return fmt.Errorf("dump: encode %s: %w", c, err)
				}
				encoded[i] = e
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return st, err
		}

		for i, e := range encoded {
			if e.skipped {
				st.SkippedBytes += int64(batch[i].Len())
				continue
			}
			e.hdr.marshal(rec[:])
			if _, err := bw.Write(rec[:]); err != nil {
				return st, err
			}
			if _, err := bw.Write(e.payload); err != nil {
				return st, err
			}
			st.Records++
			st.RawBytes += int64(e.hdr.rawLen)
		}
	}

	recordHeader{addr: uint64(st.Records)}.marshal(rec[:])
	if _, err := bw.Write(rec[:]); err != nil {
		return st, err
	}
	if err := bw.Flush(); err != nil {
		return st, err
	}
	st.StoredBytes = cw.n

	o.logger.DebugContext(ctx, "dump completed",
		"codec", o.codec.String(),
		"regions", st.Regions,
		"records", st.Records,
		"raw", st.RawBytes,
		"stored", st.StoredBytes,
		"excluded", st.ExcludedBytes,
		"skipped", st.SkippedBytes,
	)
	return st, nil
}

// WriteBlob writes a dump of src to a new blob in store. A failed dump is
// aborted where the blob supports it, so no partial dump is published.
func WriteBlob(ctx context.Context, src Source, store blobstore.Store, name string, opts ...Option) (Stats, error) {
	wb, err := store.Create(ctx, name)
	if err != nil {
		return Stats{}, fmt.Errorf("dump: create %s: %w", name, err)
	}

	st, err := Write(ctx, src, wb, opts...)
	if err != nil {
		if a, ok := wb.(blobstore.Aborter); ok {
			_ = a.Abort()
		} else {
			_ = wb.Close()
			_ = store.Delete(ctx, name)
		}
		return st, err
	}
	if err := wb.Close(); err != nil {
		return st, fmt.Errorf("dump: publish %s: %w", name, err)
	}
	return st, nil
}
