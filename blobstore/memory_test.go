package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	data := []byte("0123456789")
	require.NoError(t, store.Put(ctx, "b", data))
	data[0] = 'X' // stored copy is independent

	w, err := store.Create(ctx, "a")
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names)

	require.NoError(t, w.Close())
	_, err = w.Write([]byte("d"))
	assert.ErrorIs(t, err, ErrClosed)

	names, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	blob, err := store.Open(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(10), blob.Size())

	buf := make([]byte, 4)
	n, err := blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "0123", string(buf))

	n, err = blob.ReadAt(ctx, buf, 8)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, n)

	r, err := blob.ReadRange(ctx, 7, 100)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "789", string(got))

	_, err = blob.ReadRange(ctx, 10, 1)
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, blob.Close())

	require.NoError(t, store.Delete(ctx, "b"))
	_, err = store.Open(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReader(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, "x", []byte("hello")))

	blob, err := store.Open(ctx, "x")
	require.NoError(t, err)

	buf := make([]byte, 3)
	_, err = io.NewSectionReader(Reader(ctx, blob), 1, 3).Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ell", string(buf))
}
