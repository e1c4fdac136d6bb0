package prometheus

import (
	"errors"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/memmap"
	"github.com/hupe1980/memmap/host/sim"
)

func TestCollector_Record(t *testing.T) {
	c := New()

	c.RecordMap(8192, time.Millisecond, nil)
	c.RecordMap(4096, time.Millisecond, errors.New("boom"))
	c.RecordUnmap(8192, time.Microsecond, nil)
	c.RecordAdvise(memmap.MadvDontDump, 4096, time.Microsecond, nil)
	c.RecordLock(true, 4096, 0, nil)
	c.RecordLock(false, 4096, 0, nil)
	c.RecordQuery(3, time.Microsecond, nil)
	c.RecordQuery(5, time.Microsecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.ops.WithLabelValues("mmap", resultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ops.WithLabelValues("mmap", resultError)))
	assert.Equal(t, 8192.0, testutil.ToFloat64(c.bytes.WithLabelValues("mmap")))
	assert.Equal(t, 8192.0, testutil.ToFloat64(c.bytes.WithLabelValues("munmap")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.advice.WithLabelValues("dontdump")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ops.WithLabelValues("mlock", resultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ops.WithLabelValues("munlock", resultOK)))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.pages))
}

func TestCollector_Registry(t *testing.T) {
	reg := prom.NewRegistry()
	c, err := NewRegistered(reg, WithNamespace("test"), WithConstLabels(prom.Labels{"host": "sim"}))
	require.NoError(t, err)

	_, err = NewRegistered(reg, WithNamespace("test"), WithConstLabels(prom.Labels{"host": "sim"}))
	assert.Error(t, err, "duplicate registration")

	c.RecordSync(4096, time.Millisecond, nil)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["test_operations_total"])
	assert.True(t, names["test_operation_duration_seconds"])
	assert.True(t, names["test_bytes_total"])
}

func TestCollector_Engine(t *testing.T) {
	c := New()
	e, err := memmap.New(memmap.WithHost(sim.New()), memmap.WithMetricsCollector(c))
	require.NoError(t, err)

	ps := e.PageSize()
	addr, err := e.Mmap(0, 2*ps, memmap.ProtRead|memmap.ProtWrite, memmap.MapPrivate|memmap.MapAnonymous, -1, 0)
	require.NoError(t, err)

	status := make([]byte, 2)
	require.NoError(t, e.Mincore(addr, 2*ps, status))
	require.NoError(t, e.Munmap(addr, 2*ps))

	_, err = e.Mmap(0, 0, memmap.ProtRead, memmap.MapPrivate|memmap.MapAnonymous, -1, 0)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.ops.WithLabelValues("mmap", resultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ops.WithLabelValues("mmap", resultError)))
	assert.Equal(t, float64(2*ps), testutil.ToFloat64(c.bytes.WithLabelValues("mmap")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ops.WithLabelValues("mincore", resultOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.pages))
	assert.Equal(t, 1, testutil.CollectAndCount(c.latency.WithLabelValues("munmap").(prom.Histogram)))
}
