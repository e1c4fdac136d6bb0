package hash

import (
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRC32C returns the Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// Update adds p to a running checksum.
func Update(crc uint32, p []byte) uint32 {
	return crc32.Update(crc, castagnoli, p)
}

// Base64 encodes sum as base64 over its big-endian bytes, the form object
// stores expect in checksum headers.
func Base64(sum uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], sum)
	return base64.StdEncoding.EncodeToString(b[:])
}
