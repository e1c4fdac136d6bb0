package dump

import (
	"encoding/binary"
	"errors"
)

// Stream layout, little endian:
//
//	header  magic[8] codec u8 reserved[3] chunkSize u32 pageSize u32
//	record  addr u64 rawLen u32 storedLen u32 crc32c u32 data[storedLen or rawLen]
//	trailer addr=records rawLen=0 storedLen=0 crc32c=0
//
// storedLen 0 means the data is stored raw. The CRC covers the raw bytes.
const (
	magic       = "MMDUMP1\n"
	headerSize  = 20
	recordSize  = 20
	maxChunkLen = 1 << 30
)

var (
	// ErrFormat is returned for streams that are not memory dumps.
	ErrFormat = errors.New("dump: not a memmap dump")
	// ErrChecksum is returned when a record does not match its checksum.
	ErrChecksum = errors.New("dump: checksum mismatch")
	// ErrTruncated is returned when the stream ends before the trailer.
	ErrTruncated = errors.New("dump: truncated stream")
)

// Header describes a dump stream.
type Header struct {
	Codec     Codec
	ChunkSize uint32
	PageSize  uint32
}

func (h Header) marshal() []byte {
	b := make([]byte, headerSize)
	copy(b, magic)
	b[8] = byte(h.Codec)
	binary.LittleEndian.PutUint32(b[12:], h.ChunkSize)
	binary.LittleEndian.PutUint32(b[16:], h.PageSize)
	return b
}

func unmarshalHeader(b []byte) (Header, error) {
	if len(b) < headerSize || string(b[:8]) != magic {
		return Header{}, ErrFormat
	}
	h := Header{
		Codec:     Codec(b[8]),
		ChunkSize: binary.LittleEndian.Uint32(b[12:]),
		PageSize:  binary.LittleEndian.Uint32(b[16:]),
	}
	if !h.Codec.valid() {
		return Header{}, ErrFormat
	}
	return h, nil
}

type recordHeader struct {
	addr      uint64
	rawLen    uint32
	storedLen uint32
	crc       uint32
}

func (r recordHeader) marshal(b []byte) {
	binary.LittleEndian.PutUint64(b[0:], r.addr)
	binary.LittleEndian.PutUint32(b[8:], r.rawLen)
	binary.LittleEndian.PutUint32(b[12:], r.storedLen)
	binary.LittleEndian.PutUint32(b[16:], r.crc)
}

func unmarshalRecord(b []byte) recordHeader {
	return recordHeader{
		addr:      binary.LittleEndian.Uint64(b[0:]),
		rawLen:    binary.LittleEndian.Uint32(b[8:]),
		storedLen: binary.LittleEndian.Uint32(b[12:]),
		crc:       binary.LittleEndian.Uint32(b[16:]),
	}
}
