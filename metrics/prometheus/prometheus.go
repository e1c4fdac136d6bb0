package prometheus

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/memmap"
)

const (
	resultOK    = "ok"
	resultError = "error"
)

// Collector exports engine operations as Prometheus metrics. It implements
// memmap.MetricsCollector and prometheus.Collector.
type Collector struct {
	ops     *prom.CounterVec
	bytes   *prom.CounterVec
	latency *prom.HistogramVec
	pages   prom.Counter
	advice  *prom.CounterVec
}

var (
	_ memmap.MetricsCollector = (*Collector)(nil)
	_ prom.Collector          = (*Collector)(nil)
)

// Options configures a Collector.
type Options struct {
	Namespace   string
	Subsystem   string
	Buckets     []float64
	ConstLabels prom.Labels
}

// Option configures Options.
type Option func(o *Options)

// WithNamespace sets the metric namespace. Default "memmap".
func WithNamespace(ns string) Option {
	return func(o *Options) { o.Namespace = ns }
}

// WithSubsystem sets the metric subsystem.
func WithSubsystem(sub string) Option {
	return func(o *Options) { o.Subsystem = sub }
}

// WithBuckets sets the latency histogram buckets in seconds.
func WithBuckets(b []float64) Option {
	return func(o *Options) { o.Buckets = b }
}

// WithConstLabels attaches constant labels to every metric.
func WithConstLabels(l prom.Labels) Option {
	return func(o *Options) { o.ConstLabels = l }
}

// New creates an unregistered Collector.
func New(optFns ...Option) *Collector {
	o := Options{
		Namespace: "memmap",
		Buckets:   prom.ExponentialBuckets(1e-6, 4, 10),
	}
	for _, fn := range optFns {
		fn(&o)
	}

	return &Collector{
		ops: prom.NewCounterVec(prom.CounterOpts{
			Namespace:   o.Namespace,
			Subsystem:   o.Subsystem,
			Name:        "operations_total",
			Help:        "Number of memory management calls by operation and result.",
			ConstLabels: o.ConstLabels,
		}, []string{"op", "result"}),
		bytes: prom.NewCounterVec(prom.CounterOpts{
			Namespace:   o.Namespace,
			Subsystem:   o.Subsystem,
			Name:        "bytes_total",
			Help:        "Bytes covered by successful calls by operation.",
			ConstLabels: o.ConstLabels,
		}, []string{"op"}),
		latency: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace:   o.Namespace,
			Subsystem:   o.Subsystem,
			Name:        "operation_duration_seconds",
			Help:        "Latency of memory management calls.",
			Buckets:     o.Buckets,
			ConstLabels: o.ConstLabels,
		}, []string{"op"}),
		pages: prom.NewCounter(prom.CounterOpts{
			Namespace:   o.Namespace,
			Subsystem:   o.Subsystem,
			Name:        "mincore_pages_total",
			Help:        "Page status entries written by mincore.",
			ConstLabels: o.ConstLabels,
		}),
		advice: prom.NewCounterVec(prom.CounterOpts{
			Namespace:   o.Namespace,
			Subsystem:   o.Subsystem,
			Name:        "advice_total",
			Help:        "madvise calls by advice.",
			ConstLabels: o.ConstLabels,
		}, []string{"advice"}),
	}
}

// NewRegistered creates a Collector and registers it with reg.
func NewRegistered(reg prom.Registerer, optFns ...Option) (*Collector, error) {
	c := New(optFns...)
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prom.Desc) {
	c.ops.Describe(ch)
	c.bytes.Describe(ch)
	c.latency.Describe(ch)
	c.pages.Describe(ch)
	c.advice.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prom.Metric) {
	c.ops.Collect(ch)
	c.bytes.Collect(ch)
	c.latency.Collect(ch)
	c.pages.Collect(ch)
	c.advice.Collect(ch)
}

func (c *Collector) record(op string, length uintptr, d time.Duration, err error) {
	c.latency.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		c.ops.WithLabelValues(op, resultError).Inc()
		return
	}
	c.ops.WithLabelValues(op, resultOK).Inc()
	if length > 0 {
		c.bytes.WithLabelValues(op).Add(float64(length))
	}
}

// RecordMap implements memmap.MetricsCollector.
func (c *Collector) RecordMap(length uintptr, d time.Duration, err error) {
	c.record("mmap", length, d, err)
}

// RecordUnmap implements memmap.MetricsCollector.
func (c *Collector) RecordUnmap(length uintptr, d time.Duration, err error) {
	c.record("munmap", length, d, err)
}

// RecordProtect implements memmap.MetricsCollector.
func (c *Collector) RecordProtect(length uintptr, d time.Duration, err error) {
	c.record("mprotect", length, d, err)
}

// RecordSync implements memmap.MetricsCollector.
func (c *Collector) RecordSync(length uintptr, d time.Duration, err error) {
	c.record("msync", length, d, err)
}

// RecordAdvise implements memmap.MetricsCollector.
func (c *Collector) RecordAdvise(advice memmap.Advice, length uintptr, d time.Duration, err error) {
	c.advice.WithLabelValues(advice.String()).Inc()
	c.record("madvise", length, d, err)
}

// RecordLock implements memmap.MetricsCollector.
func (c *Collector) RecordLock(locked bool, length uintptr, d time.Duration, err error) {
	op := "munlock"
	if locked {
		op = "mlock"
	}
	c.record(op, length, d, err)
}

// RecordQuery implements memmap.MetricsCollector.
func (c *Collector) RecordQuery(pages int, d time.Duration, err error) {
	c.record("mincore", 0, d, err)
	if err == nil && pages > 0 {
		c.pages.Add(float64(pages))
	}
}
