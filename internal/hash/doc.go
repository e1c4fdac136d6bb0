// Package hash holds the CRC32-Castagnoli helpers shared by the dump records
// and the S3 upload checksums.
//
//	crc := hash.CRC32C(chunk)
//	header := hash.Base64(crc)
package hash
