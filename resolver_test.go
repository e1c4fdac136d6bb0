package memmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/memmap/host/sim"
)

func TestFileTable(t *testing.T) {
	h := sim.New()
	table := NewFileTable(h)
	f := tempFile(t, pattern(pageSize))

	fd, err := table.Register(f)
	require.NoError(t, err)
	assert.Equal(t, int(f.Fd()), fd)

	handle, err := table.Resolve(fd)
	require.NoError(t, err)
	size, err := h.FileSize(handle)
	require.NoError(t, err)
	assert.Equal(t, int64(pageSize), size)

	table.Unregister(fd)
	_, err = table.Resolve(fd)
	assert.ErrorIs(t, err, ErrBadDescriptor)

	_, err = table.Register(nil)
	assert.ErrorIs(t, err, ErrBadDescriptor)
}

func TestFileTable_UnregisterKeepsMappings(t *testing.T) {
	e := newTestEngine(t, sim.New())
	_, fd := registerFile(t, e, pattern(pageSize))

	addr, err := e.Mmap(0, pageSize, ProtRead, MapShared, fd, 0)
	require.NoError(t, err)
	e.Files().Unregister(fd)

	b, err := e.Bytes(addr, 4)
	require.NoError(t, err)
	assert.Equal(t, pattern(4), b)

	_, err = e.Mmap(0, pageSize, ProtRead, MapShared, fd, 0)
	assert.ErrorIs(t, err, ErrBadDescriptor)
}

func TestPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.False(t, p.Strict)
	assert.Equal(t, InferAsRequested, p.ExecInference)
	assert.Equal(t, 2, p.OfferResoluteness)
	assert.NoError(t, p.validate())

	p.OfferResoluteness = 4
	assert.Error(t, p.validate())

	assert.Equal(t, "probe", InferProbe.String())
	assert.Equal(t, "Inference(7)", Inference(7).String())
}
