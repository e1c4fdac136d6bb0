package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	assert.Equal(t, uint32(0), CRC32C(nil))
	assert.Equal(t, uint32(0xe3069283), CRC32C([]byte("123456789")))
}

func TestUpdate(t *testing.T) {
	data := []byte("the quick brown fox")
	crc := Update(0, data[:7])
	crc = Update(crc, data[7:])
	assert.Equal(t, CRC32C(data), crc)
}

func TestBase64(t *testing.T) {
	assert.Equal(t, "4waSgw==", Base64(0xe3069283))
	assert.Equal(t, "AAAAAA==", Base64(0))
}
