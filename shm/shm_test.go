package shm

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/memmap/internal/fs"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefault(t *testing.T) {
	d := NewDirectory(WithGetenv(env(map[string]string{"TEMP": "/a/temp", "TMP": "/a/tmp"})))
	assert.Equal(t, filepath.FromSlash("/a/temp"), d.Default())
	assert.Equal(t, d.Default(), d.Path())

	d = NewDirectory(WithGetenv(env(map[string]string{"TMP": "/a/tmp"})))
	assert.Equal(t, filepath.FromSlash("/a/tmp"), d.Default())

	d = NewDirectory(WithGetenv(env(nil)))
	assert.Equal(t, TempDir(), d.Default())
}

func TestSet(t *testing.T) {
	dir := t.TempDir()
	d := NewDirectory()

	require.NoError(t, d.Set(filepath.ToSlash(dir)))
	assert.Equal(t, filepath.Clean(dir), d.Path())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "probe file must be removed")

	d.Reset()
	assert.Equal(t, d.Default(), d.Path())
}

func TestSetErrors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	d := NewDirectory()
	require.NoError(t, d.Set(dir))

	tests := []struct {
		name string
		path string
		want syscall.Errno
	}{
		{"empty", "", syscall.ENOENT},
		{"missing", filepath.Join(dir, "missing"), syscall.ENOENT},
		{"not a directory", file, syscall.ENOTDIR},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.Set(tt.path)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, filepath.Clean(dir), d.Path(), "previous value kept")
		})
	}
}

func TestSetNotWritable(t *testing.T) {
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(".memmap-probe-", fs.Fault{FailOnOpen: true, Err: os.ErrPermission})

	d := NewDirectory(WithFileSystem(ffs))
	err := d.Set(dir)
	assert.ErrorIs(t, err, syscall.EACCES)

	var pe *os.PathError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "shm", pe.Op)
}

func TestPackageLevel(t *testing.T) {
	t.Cleanup(std.Reset)

	assert.Equal(t, DefaultDir(), Dir())
	dir := t.TempDir()
	require.NoError(t, SetDir(dir))
	assert.Equal(t, filepath.Clean(dir), Dir())
}
