package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/hupe1980/memmap/internal/fs"
)

// Directory holds the directory for files backing shared memory.
type Directory struct {
	mu     sync.RWMutex
	path   string
	fs     fs.FileSystem
	getenv func(string) string
}

// Option configures a Directory.
type Option func(*Directory)

// WithFileSystem replaces the file system used for validation.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(d *Directory) {
		if fsys != nil {
			d.fs = fsys
		}
	}
}

// WithGetenv replaces the environment lookup used for the default.
func WithGetenv(getenv func(string) string) Option {
	return func(d *Directory) {
		if getenv != nil {
			d.getenv = getenv
		}
	}
}

// NewDirectory returns a Directory that starts at its default.
func NewDirectory(opts ...Option) *Directory {
	d := &Directory{fs: fs.Default, getenv: os.Getenv}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Default returns %TEMP%, or %TMP% if TEMP is unset, or TempDir.
func (d *Directory) Default() string {
	for _, key := range []string{"TEMP", "TMP"} {
		if v := d.getenv(key); v != "" {
			return filepath.Clean(filepath.FromSlash(v))
		}
	}
	return TempDir()
}

// Path returns the configured directory, or Default when none was set.
func (d *Directory) Path() string {
	d.mu.RLock()
	p := d.path
	d.mu.RUnlock()
	if p == "" {
		return d.Default()
	}
	return p
}

// Set validates path and makes it the directory. Forward slashes are
// converted to the platform separator. On failure the previous value is
// kept and the error wraps ENOENT, ENOTDIR or EACCES.
func (d *Directory) Set(path string) error {
	if path == "" {
		return &os.PathError{Op: "shm", Path: path, Err: syscall.ENOENT}
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if err := d.validate(clean); err != nil {
		return &os.PathError{Op: "shm", Path: clean, Err: err}
	}

	d.mu.Lock()
	d.path = clean
	d.mu.Unlock()
	return nil
}

// Reset returns the directory to its default.
func (d *Directory) Reset() {
	d.mu.Lock()
	d.path = ""
	d.mu.Unlock()
}

var probeSeq atomic.Uint64

func (d *Directory) validate(path string) error {
	info, err := d.fs.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return syscall.ENOENT
	case err != nil:
		return syscall.EACCES
	case !info.IsDir():
		return syscall.ENOTDIR
	}

	// Files are created here later, so the directory must accept one.
	probe := filepath.Join(path, fmt.Sprintf(".memmap-probe-%d-%d", os.Getpid(), probeSeq.Add(1)))
	f, err := d.fs.OpenFile(probe, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return syscall.EACCES
	}
	_ = f.Close()
	_ = d.fs.Remove(probe)
	return nil
}

// TempDir returns the system temporary directory.
func TempDir() string {
	return filepath.Clean(os.TempDir())
}

var std = NewDirectory()

// Dir returns the process-wide shared-memory directory.
func Dir() string { return std.Path() }

// SetDir validates and sets the process-wide shared-memory directory.
// It is meant to be called once at startup.
func SetDir(path string) error { return std.Set(path) }

// DefaultDir returns the default shared-memory directory.
func DefaultDir() string { return std.Default() }
