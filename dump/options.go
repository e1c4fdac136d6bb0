package dump

import (
	"fmt"

	"github.com/hupe1980/memmap"
	"github.com/hupe1980/memmap/host"
	"github.com/hupe1980/memmap/walk"
)

// DefaultChunkSize is the raw size of a dump record.
const DefaultChunkSize = 1 << 20

// Option configures a dump.
type Option func(*options)

type options struct {
	codec     Codec
	chunkSize int
	workers   int64
	ioLimit   int64
	pred      walk.Predicate
	logger    *memmap.Logger
}

// WithCodec sets the chunk compression. Default: CodecZstd.
func WithCodec(c Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithChunkSize sets the raw size of each record. Chunks never cross a
// region boundary, so records may be shorter.
func WithChunkSize(n int) Option {
	return func(o *options) { o.chunkSize = n }
}

// WithWorkers sets the number of chunks compressed in parallel. Default: 1.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = int64(n) }
}

// WithIOLimit throttles output to bytesPerSec. 0 means unlimited.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) { o.ioLimit = bytesPerSec }
}

// WithPredicate narrows the regions written. Regions must still be
// readable.
func WithPredicate(pred walk.Predicate) Option {
	return func(o *options) { o.pred = pred }
}

// WithLogger sets the logger for skipped regions and the summary.
func WithLogger(l *memmap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) (options, error) {
	o := options{
		codec:     CodecZstd,
		chunkSize: DefaultChunkSize,
		workers:   1,
		logger:    memmap.NoopLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if !o.codec.valid() {
		return o, fmt.Errorf("dump: unknown codec %d", o.codec)
	}
	if o.chunkSize <= 0 || o.chunkSize > maxChunkLen {
		return o, fmt.Errorf("dump: chunk size %d out of range", o.chunkSize)
	}
	if o.workers <= 0 {
		return o, fmt.Errorf("dump: workers must be positive, got %d", o.workers)
	}
	if o.ioLimit < 0 {
		return o, fmt.Errorf("dump: negative io limit %d", o.ioLimit)
	}
	if o.logger == nil {
		o.logger = memmap.NoopLogger()
	}

	readable := walk.Readable
	if pred := o.pred; pred != nil {
		o.pred = func(r host.Region) bool { return readable(r) && pred(r) }
	} else {
		o.pred = readable
	}
	return o, nil
}
