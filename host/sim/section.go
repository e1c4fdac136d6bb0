package sim

import (
	"errors"
	"io"
	"os"

	"github.com/hupe1980/memmap/host"
)

type file struct {
	f          *os.File
	writable   bool
	executable bool
}

type section struct {
	file    *file
	protect uint32
	image   bool
	size    uint64
	data    []byte
	layout  []uint32 // per-page protection of image sections
	refs    int
	closed  bool
	handle  host.Handle
}

// FileOption configures an attached file.
type FileOption func(*file)

// ReadOnlyFile marks the file as opened without write access.
func ReadOnlyFile() FileOption {
	return func(f *file) { f.writable = false }
}

// NonExecutableFile marks the file as opened without execute access.
func NonExecutableFile() FileOption {
	return func(f *file) { f.executable = false }
}

// AttachFile registers f with the host and returns its native handle. A file
// that is already attached keeps its handle and access rights.
func (h *Host) AttachFile(f *os.File, optFns ...FileOption) host.Handle {
	h.mu.Lock()
	defer h.mu.Unlock()

	if hd, ok := h.byFile[f]; ok {
		return hd
	}

	fl := &file{f: f, writable: true, executable: true}
	for _, fn := range optFns {
		fn(fl)
	}

	hd := h.newHandle()
	h.files[hd] = fl
	h.byFile[f] = hd
	return hd
}

// FileHandle implements host.Host.
func (h *Host) FileHandle(f *os.File) (host.Handle, error) {
	if f == nil {
		return host.InvalidHandle, host.ErrInvalidHandle
	}
	return h.AttachFile(f), nil
}

// FileSize implements host.Host.
func (h *Host) FileSize(hd host.Handle) (int64, error) {
	h.mu.Lock()
	fl, ok := h.files[hd]
	h.mu.Unlock()
	if !ok {
		return 0, host.ErrInvalidHandle
	}

	st, err := fl.f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func (h *Host) newHandle() host.Handle {
	h.next += 4
	return h.next
}

// CreateFileMapping implements host.Host.
func (h *Host) CreateFileMapping(fh host.Handle, protect uint32, size uint64) (host.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fl, ok := h.files[fh]
	if !ok {
		return host.InvalidHandle, host.ErrInvalidHandle
	}

	image := protect&host.SecImage != 0
	base := protect &^ (host.SecImage | host.SecCommit)
	if !host.ValidProtect(base) || base == host.PageNoAccess || base&host.PageModifierMask != 0 {
		return host.InvalidHandle, host.ErrInvalidParameter
	}

	needWrite := base == host.PageReadWrite || base == host.PageExecuteReadWrite
	if needWrite && !fl.writable {
		return host.InvalidHandle, host.ErrAccessDenied
	}
	if host.IsExecutable(base) && !fl.executable {
		return host.InvalidHandle, host.ErrAccessDenied
	}

	st, err := fl.f.Stat()
	if err != nil {
		return host.InvalidHandle, err
	}
	fsize := uint64(st.Size())

	sec := &section{file: fl, protect: base, image: image}
	if image {
		img, err := loadImage(fl.f, h.cfg.PageSize)
		if err != nil {
			return host.InvalidHandle, err
		}
		sec.data, sec.layout, sec.size = img.data, img.protect, uint64(len(img.data))
	} else {
		if size == 0 {
			if fsize == 0 {
				return host.InvalidHandle, host.ErrFileInvalid
			}
			size = fsize
		}
		if size > fsize {
			if !needWrite {
				return host.InvalidHandle, host.ErrNotEnoughMemory
			}
			if err := fl.f.Truncate(int64(size)); err != nil {
				return host.InvalidHandle, host.ErrAccessDenied
			}
			fsize = size
		}

		sec.size = size
		sec.data = make([]byte, h.pageUp(uintptr(size)))
		if _, err := fl.f.ReadAt(sec.data[:size], 0); err != nil && !errors.Is(err, io.EOF) {
			return host.InvalidHandle, err
		}
	}

	sec.handle = h.newHandle()
	h.sections[sec.handle] = sec
	return sec.handle, nil
}

// MapViewOfFile implements host.Host.
func (h *Host) MapViewOfFile(sh host.Handle, access uint32, offset uint64, size, base uintptr) (uintptr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sec, ok := h.sections[sh]
	if !ok || sec.closed {
		return 0, host.ErrInvalidHandle
	}
	if offset%uint64(h.cfg.AllocationGranularity) != 0 {
		return 0, host.ErrMappedAlignment
	}
	if offset >= sec.size {
		return 0, host.ErrInvalidParameter
	}
	if size == 0 {
		size = uintptr(sec.size - offset)
	}
	if offset+uint64(size) > sec.size {
		return 0, host.ErrAccessDenied
	}

	v := &view{
		section: sec,
		offset:  offset,
		cow:     access&host.FileMapCopy != 0,
		write:   access&host.FileMapWrite != 0,
		exec:    access&host.FileMapExecute != 0,
	}
	v.shared = !v.cow && !sec.image

	sp := sec.protect
	if !sec.image {
		if v.write && !v.cow && sp != host.PageReadWrite && sp != host.PageExecuteReadWrite {
			return 0, host.ErrAccessDenied
		}
		if v.exec && !host.IsExecutable(sp) {
			return 0, host.ErrAccessDenied
		}
	} else {
		v.cow, v.exec = true, true
	}

	viewSize := h.pageUp(size)
	if base != 0 {
		if base%h.cfg.AllocationGranularity != 0 {
			return 0, host.ErrMappedAlignment
		}
		if !h.rangeFree(base, base+viewSize) {
			return 0, host.ErrInvalidAddress
		}
	} else {
		if base, ok = h.findGap(viewSize); !ok {
			return 0, host.ErrNotEnoughMemory
		}
	}

	typ, prot := host.TypeMapped, viewProtect(access)
	if sec.image {
		typ, prot = host.TypeImage, host.PageExecuteWriteCopy
	}

	a := h.newAllocation(base, viewSize, typ, prot)
	a.view = v
	for i := range a.protect {
		a.protect[i] = prot
	}

	window := sec.data[offset : offset+uint64(viewSize)]
	if v.shared {
		a.data = window
	} else {
		a.data = append([]byte(nil), window...)
	}
	if sec.image {
		first := int(offset / uint64(h.cfg.PageSize))
		copy(a.protect, sec.layout[first:])
	}

	sec.refs++
	return base, nil
}

func viewProtect(access uint32) uint32 {
	exec := access&host.FileMapExecute != 0
	switch {
	case access&host.FileMapCopy != 0:
		if exec {
			return host.PageExecuteWriteCopy
		}
		return host.PageWriteCopy
	case access&host.FileMapWrite != 0:
		if exec {
			return host.PageExecuteReadWrite
		}
		return host.PageReadWrite
	default:
		if exec {
			return host.PageExecuteRead
		}
		return host.PageReadOnly
	}
}

// UnmapViewOfFile implements host.Host. Any address inside the view is
// accepted.
func (h *Host) UnmapViewOfFile(addr uintptr) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	a := h.find(addr)
	if a == nil || a.view == nil {
		return host.ErrInvalidAddress
	}
	h.remove(a)
	h.dropExclusions(a.base, a.end())
	return nil
}

// FlushViewOfFile implements host.Host. Copy-on-write views have nothing to
// write back.
func (h *Host) FlushViewOfFile(addr, size uintptr) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	a := h.find(addr)
	if a == nil || a.view == nil {
		return host.ErrInvalidAddress
	}
	v := a.view
	if !v.shared || !v.section.file.writable {
		return nil
	}

	lo := h.pageDown(addr)
	hi := a.end()
	if size != 0 {
		hi = min(hi, h.pageUp(addr+size))
	}

	fileOff := v.offset + uint64(lo-a.base)
	if fileOff >= v.section.size {
		return nil
	}
	n := min(uint64(hi-lo), v.section.size-fileOff)

	start := lo - a.base
	if _, err := v.section.file.f.WriteAt(a.data[start:start+uintptr(n)], int64(fileOff)); err != nil {
		return host.ErrAccessDenied
	}
	return nil
}

// FlushFileBuffers implements host.Host.
func (h *Host) FlushFileBuffers(fh host.Handle) error {
	h.mu.Lock()
	fl, ok := h.files[fh]
	h.mu.Unlock()
	if !ok {
		return host.ErrInvalidHandle
	}
	return fl.f.Sync()
}

// CloseHandle implements host.Host. A section stays alive until its last
// view is unmapped.
func (h *Host) CloseHandle(hd host.Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sec, ok := h.sections[hd]; ok {
		if sec.closed {
			return host.ErrInvalidHandle
		}
		sec.closed = true
		if sec.refs == 0 {
			delete(h.sections, hd)
		}
		return nil
	}

	if fl, ok := h.files[hd]; ok {
		delete(h.files, hd)
		delete(h.byFile, fl.f)
		return nil
	}

	return host.ErrInvalidHandle
}

func (h *Host) releaseSection(sec *section) {
	sec.refs--
	if sec.refs <= 0 && sec.closed {
		delete(h.sections, sec.handle)
	}
}
