package memmap

import (
	"fmt"
	"os"
	"sync"

	"github.com/hupe1980/memmap/host"
)

// Resolver turns a descriptor into a native file handle.
type Resolver interface {
	Resolve(fd int) (host.Handle, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(fd int) (host.Handle, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(fd int) (host.Handle, error) { return f(fd) }

// FileTable is the default Resolver. Descriptors are the values returned by
// (*os.File).Fd for registered files.
type FileTable struct {
	h     host.Host
	mu    sync.RWMutex
	files map[int]fileEntry
}

type fileEntry struct {
	f      *os.File
	handle host.Handle
}

// NewFileTable returns an empty table resolving through h.
func NewFileTable(h host.Host) *FileTable {
	return &FileTable{h: h, files: make(map[int]fileEntry)}
}

// Register makes f resolvable and returns its descriptor.
func (t *FileTable) Register(f *os.File) (int, error) {
	if f == nil {
		return -1, ErrBadDescriptor
	}

	handle, err := t.h.FileHandle(f)
	if err != nil {
		return -1, fmt.Errorf("%w: %w", ErrBadDescriptor, err)
	}

	fd := int(f.Fd())
	t.mu.Lock()
	t.files[fd] = fileEntry{f: f, handle: handle}
	t.mu.Unlock()
	return fd, nil
}

// Unregister forgets fd. Existing mappings are not affected.
func (t *FileTable) Unregister(fd int) {
	t.mu.Lock()
	delete(t.files, fd)
	t.mu.Unlock()
}

// Resolve implements Resolver.
func (t *FileTable) Resolve(fd int) (host.Handle, error) {
	t.mu.RLock()
	entry, ok := t.files[fd]
	t.mu.RUnlock()
	if !ok {
		return host.InvalidHandle, fmt.Errorf("%w: descriptor %d is not registered", ErrBadDescriptor, fd)
	}
	return entry.handle, nil
}
