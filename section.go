package memmap

import (
	"errors"

	"github.com/hupe1980/memmap/host"
)

// sectionRequest is the access a file mapping needs from its section.
type sectionRequest struct {
	file  host.Handle
	size  uint64
	write bool
	exec  bool
	image bool
}

// sectionCaps is one candidate access level for a section.
type sectionCaps struct {
	write bool
	exec  bool
	image bool
}

func (c sectionCaps) protect() uint32 {
	if c.image {
		return host.SecImage | host.PageReadOnly
	}
	switch {
	case c.exec && c.write:
		return host.PageExecuteReadWrite
	case c.exec:
		return host.PageExecuteRead
	case c.write:
		return host.PageReadWrite
	default:
		return host.PageReadOnly
	}
}

func inferred(inf Inference, need bool) []bool {
	switch inf {
	case InferEager:
		return []bool{true}
	case InferProbe:
		if need {
			return []bool{true}
		}
		return []bool{true, false}
	default:
		return []bool{need}
	}
}

// candidates lists the section access levels to try for req, most capable
// first.
func candidates(req sectionRequest, pol *Policy) []sectionCaps {
	if req.image {
		return []sectionCaps{{image: true}}
	}

	var out []sectionCaps
	for _, w := range inferred(pol.WriteInference, req.write) {
		for _, x := range inferred(pol.ExecInference, req.exec) {
			out = append(out, sectionCaps{write: w || req.write, exec: x || req.exec})
		}
	}
	return out
}

func sectionKind(err error) error {
	switch {
	case errors.Is(err, host.ErrAccessDenied):
		return ErrPermissionDenied
	case errors.Is(err, host.ErrInvalidHandle):
		return ErrBadDescriptor
	case errors.Is(err, host.ErrBadExeFormat):
		return ErrInvalidArgument
	}
	return ErrOutOfMemory
}

// acquireSection returns a referenced section record covering req, reusing
// the cached one when it suffices. A record that no longer suffices is
// replaced; views already using it keep it alive.
func (e *Engine) acquireSection(req sectionRequest, pol *Policy) (*sectionRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.sections[req.file]
	if old != nil && old.covers(req.write, req.exec, req.image) && old.size >= req.size {
		old.refs++
		return old, nil
	}

	cands := candidates(req, pol)
	if old != nil && old.image == req.image {
		for i := range cands {
			cands[i].write = cands[i].write || old.write
			cands[i].exec = cands[i].exec || old.exec
		}
	}

	var lastErr error
	for _, c := range cands {
		sh, err := e.host.CreateFileMapping(req.file, c.protect(), 0)
		if err != nil {
			lastErr = err
			continue
		}
		rec := &sectionRecord{
			file:   req.file,
			handle: sh,
			size:   req.size,
			write:  c.write,
			exec:   c.exec,
			image:  c.image,
			refs:   1,
		}
		e.sections[req.file] = rec
		return rec, nil
	}

	return nil, opError("mmap", 0, uintptr(req.size), sectionKind(lastErr), lastErr)
}

// releaseSection drops one reference. The last reference closes the
// section handle.
func (e *Engine) releaseSection(rec *sectionRecord) {
	e.mu.Lock()
	rec.refs--
	done := rec.refs <= 0
	if done && e.sections[rec.file] == rec {
		delete(e.sections, rec.file)
	}
	e.mu.Unlock()

	if done {
		err := e.host.CloseHandle(rec.handle)
		e.logger.LogBestEffort("close section", 0, uintptr(rec.size), err)
	}
}
