package walk

import (
	"errors"
	"fmt"
	"iter"

	"github.com/hupe1980/memmap/host"
)

// ErrStalled is reported when the host returns a descriptor that does not
// advance the walk.
var ErrStalled = errors.New("walk: region query did not advance")

// Querier returns the region descriptor covering an address.
type Querier interface {
	VirtualQuery(addr uintptr) (host.Region, error)
}

// ProcessQuerier is a Querier that also reports the application address
// bounds of the process.
type ProcessQuerier interface {
	Querier
	SystemInfo() host.SystemInfo
}

// Predicate decides whether a region is yielded.
type Predicate func(host.Region) bool

// Addressable accepts every region, free ones included.
func Addressable(host.Region) bool { return true }

// Reserved accepts reserved or committed regions.
func Reserved(r host.Region) bool { return r.State != host.StateFree }

// Committed accepts committed regions only.
func Committed(r host.Region) bool { return r.State == host.StateCommit }

// Accessible accepts committed regions whose protection can be touched
// (neither PAGE_NOACCESS nor PAGE_GUARD).
func Accessible(r host.Region) bool {
	return Committed(r) && host.IsAccessible(r.Protect)
}

// Readable accepts committed regions whose contents can be read.
func Readable(r host.Region) bool {
	return Committed(r) && host.IsReadable(r.Protect)
}

// Walker walks the descriptors of one range.
type Walker struct {
	q    Querier
	r    Range
	pred Predicate
	used bool
	err  error
}

// New returns a Walker over r. A nil predicate means Committed.
func New(q Querier, r Range, pred Predicate) *Walker {
	if pred == nil {
		pred = Committed
	}
	return &Walker{q: q, r: r, pred: pred}
}

// Process returns a Walker over the whole application address space of q.
func Process(q ProcessQuerier, pred Predicate) *Walker {
	info := q.SystemInfo()
	upper := info.MaximumApplicationAddress + 1
	if upper < info.MaximumApplicationAddress {
		upper = ^uintptr(0)
	}
	return New(q, Range{Lower: info.MinimumApplicationAddress, Upper: upper}, pred)
}

// Range returns the bounds of the walk.
func (w *Walker) Range() Range { return w.r }

// All yields (descriptor, clipped range) pairs in ascending order. The
// sequence can be consumed once; later calls yield nothing.
func (w *Walker) All() iter.Seq2[host.Region, Range] {
	return func(yield func(host.Region, Range) bool) {
		if w.used {
			return
		}
		w.used = true

		lower := w.r.Lower
		for lower < w.r.Upper {
			region, err := w.q.VirtualQuery(lower)
			if err != nil {
				w.err = fmt.Errorf("walk: query %#x: %w", lower, err)
				return
			}

			end := region.End()
			if region.RegionSize == 0 || end <= lower {
				w.err = fmt.Errorf("%w at %#x", ErrStalled, lower)
				return
			}

			if w.pred(region) {
				if !yield(region, Range{Lower: lower, Upper: min(end, w.r.Upper)}) {
					return
				}
			}
			lower = end
		}
	}
}

// Err returns the query failure that ended the walk, if any.
func (w *Walker) Err() error { return w.err }

// Collect drains w into a slice.
func Collect(w *Walker) ([]host.Region, []Range, error) {
	var (
		regions []host.Region
		ranges  []Range
	)
	for region, r := range w.All() {
		regions = append(regions, region)
		ranges = append(ranges, r)
	}
	return regions, ranges, w.Err()
}
