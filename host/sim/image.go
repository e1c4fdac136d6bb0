package sim

import (
	"debug/pe"
	"io"

	"github.com/hupe1980/memmap/host"
)

// Section characteristics relevant to page protection.
const (
	scnMemExecute = 0x20000000
	scnMemRead    = 0x40000000
	scnMemWrite   = 0x80000000
)

type image struct {
	data    []byte
	protect []uint32
}

// loadImage lays out a PE file the way the image loader does: headers at the
// base, each section at its virtual address with the protection its
// characteristics ask for.
func loadImage(r io.ReaderAt, pageSize uintptr) (*image, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, host.ErrBadExeFormat
	}
	defer f.Close()

	var sizeOfImage, sizeOfHeaders uint32
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		sizeOfImage, sizeOfHeaders = oh.SizeOfImage, oh.SizeOfHeaders
	case *pe.OptionalHeader64:
		sizeOfImage, sizeOfHeaders = oh.SizeOfImage, oh.SizeOfHeaders
	default:
		return nil, host.ErrBadExeFormat
	}
	if sizeOfImage == 0 || sizeOfHeaders > sizeOfImage {
		return nil, host.ErrBadExeFormat
	}

	size := (uintptr(sizeOfImage) + pageSize - 1) &^ (pageSize - 1)
	img := &image{
		data:    make([]byte, size),
		protect: make([]uint32, size/pageSize),
	}

	if _, err := r.ReadAt(img.data[:sizeOfHeaders], 0); err != nil && err != io.EOF {
		return nil, host.ErrBadExeFormat
	}
	for i := range img.protect {
		img.protect[i] = host.PageReadOnly
	}

	for _, s := range f.Sections {
		va := uintptr(s.VirtualAddress)
		span := uintptr(max(s.VirtualSize, s.Size))
		if va+span > size {
			return nil, host.ErrBadExeFormat
		}

		if s.Size > 0 {
			if _, err := s.ReadAt(img.data[va:va+uintptr(s.Size)], 0); err != nil && err != io.EOF {
				return nil, host.ErrBadExeFormat
			}
		}

		prot := sectionProtect(s.Characteristics)
		first := va / pageSize
		last := (va + span + pageSize - 1) / pageSize
		for p := first; p < last; p++ {
			img.protect[p] = prot
		}
	}

	return img, nil
}

func sectionProtect(c uint32) uint32 {
	exec, read, write := c&scnMemExecute != 0, c&scnMemRead != 0, c&scnMemWrite != 0
	switch {
	case exec && write:
		return host.PageExecuteWriteCopy
	case exec && read:
		return host.PageExecuteRead
	case exec:
		return host.PageExecute
	case write:
		return host.PageWriteCopy
	case read:
		return host.PageReadOnly
	default:
		return host.PageNoAccess
	}
}
