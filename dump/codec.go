package dump

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects the chunk compression algorithm.
type Codec uint8

const (
	// CodecNone stores chunks uncompressed.
	CodecNone Codec = 0
	// CodecLZ4 uses LZ4 block compression (fast).
	CodecLZ4 Codec = 1
	// CodecZstd uses zstd (better ratio).
	CodecZstd Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

func (c Codec) valid() bool {
	return c <= CodecZstd
}

var errSizeMismatch = errors.New("dump: decompressed size mismatch")

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// compress returns the encoded chunk, or nil when the chunk should be stored
// raw (codec none, or compression saves less than 10%).
func compress(c Codec, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var out []byte
	switch c {
	case CodecNone:
		return nil, nil
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil // incompressible
		}
		out = buf[:n]
	case CodecZstd:
		enc := getZstdEncoder()
		out = enc.EncodeAll(data, nil)
		putZstdEncoder(enc)
	default:
		return nil, fmt.Errorf("dump: unknown codec %d", c)
	}

	if float64(len(out)) > float64(len(data))*0.9 {
		return nil, nil
	}
	return out, nil
}

func decompress(c Codec, data []byte, size int) ([]byte, error) {
	result := make([]byte, size)

	switch c {
	case CodecLZ4:
		n, err := lz4.UncompressBlock(data, result)
		if err != nil {
			return nil, err
		}
		if n != size {
			return nil, errSizeMismatch
		}
		return result, nil
	case CodecZstd:
		dec := getZstdDecoder()
		defer putZstdDecoder(dec)

		decoded, err := dec.DecodeAll(data, result[:0])
		if err != nil {
			return nil, err
		}
		if len(decoded) != size {
			return nil, errSizeMismatch
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("dump: compressed chunk with codec %s", c)
	}
}
