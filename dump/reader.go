package dump

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/memmap/blobstore"
	"github.com/hupe1980/memmap/internal/hash"
)

// Record is one captured chunk of memory.
type Record struct {
	Addr uintptr
	Data []byte
}

// End returns the first address past the record.
func (r Record) End() uintptr {
	return r.Addr + uintptr(len(r.Data))
}

// Reader decodes a dump stream record by record.
type Reader struct {
	r       io.Reader
	hdr     Header
	records uint64
	done    bool
	buf     [recordSize]byte
}

// NewReader reads the stream header from r.
func NewReader(r io.Reader) (*Reader, error) {
	b := make([]byte, headerSize)
	if _, err := io.ReadFull(r, b); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFormat
		}
		return nil, err
	}
	hdr, err := unmarshalHeader(b)
	if err != nil {
		return nil, err
	}
	return &Reader{r: r, hdr: hdr}, nil
}

// Header returns the stream header.
func (r *Reader) Header() Header {
	return r.hdr
}

// Next returns the next record, or io.EOF after the trailer.
func (r *Reader) Next() (Record, error) {
	if r.done {
		return Record{}, io.EOF
	}

	if err := r.readFull(r.buf[:]); err != nil {
		return Record{}, err
	}
	rh := unmarshalRecord(r.buf[:])

	if rh.rawLen == 0 {
		if rh.storedLen != 0 || rh.crc != 0 || rh.addr != r.records {
			return Record{}, fmt.Errorf("%w: bad trailer", ErrFormat)
		}
		r.done = true
		return Record{}, io.EOF
	}
	if rh.rawLen > maxChunkLen || rh.storedLen > rh.rawLen {
		return Record{}, fmt.Errorf("%w: record at %#x has length %d/%d", ErrFormat, rh.addr, rh.storedLen, rh.rawLen)
	}
	if rh.storedLen != 0 && r.hdr.Codec == CodecNone {
		return Record{}, fmt.Errorf("%w: compressed record in an uncompressed dump", ErrFormat)
	}

	n := rh.rawLen
	if rh.storedLen != 0 {
		n = rh.storedLen
	}
	payload := make([]byte, n)
	if err := r.readFull(payload); err != nil {
		return Record{}, err
	}

	data := payload
	if rh.storedLen != 0 {
		var err error
		data, err = decompress(r.hdr.Codec, payload, int(rh.rawLen))
		if err != nil {
			return Record{}, fmt.Errorf("dump: record at %#x: %w", rh.addr, err)
		}
	}
	if hash.CRC32C(data) != rh.crc {
		return Record{}, fmt.Errorf("%w at %#x", ErrChecksum, rh.addr)
	}

	r.records++
	return Record{Addr: uintptr(rh.addr), Data: data}, nil
}

func (r *Reader) readFull(b []byte) error {
	if _, err := io.ReadFull(r.r, b); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrTruncated
		}
		return err
	}
	return nil
}

// Read decodes every record of the dump in r and calls fn for each.
func Read(r io.Reader, fn func(Record) error) (Header, error) {
	dr, err := NewReader(r)
	if err != nil {
		return Header{}, err
	}
	for {
		rec, err := dr.Next()
		if errors.Is(err, io.EOF) {
			return dr.Header(), nil
		}
		if err != nil {
			return dr.Header(), err
		}
		if err := fn(rec); err != nil {
			return dr.Header(), err
		}
	}
}

// ReadBlob decodes a dump stored in store under name.
func ReadBlob(ctx context.Context, store blobstore.Store, name string, fn func(Record) error) (Header, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return Header{}, fmt.Errorf("dump: open %s: %w", name, err)
	}
	defer blob.Close()

	rc, err := blob.ReadRange(ctx, 0, blob.Size())
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Header{}, ErrFormat
		}
		return Header{}, err
	}
	defer rc.Close()

	return Read(rc, fn)
}
