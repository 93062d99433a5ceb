package persistence

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the snapshot payload codec.
type Compression uint8

const (
	// CompressionNone stores the payload as-is.
	CompressionNone Compression = 0
	// CompressionLZ4 is fast with a modest ratio.
	CompressionLZ4 Compression = 1
	// CompressionZSTD trades speed for a better ratio.
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// compress returns the encoded payload for the given codec.
// LZ4 block compression can report "incompressible" (n == 0); the caller
// falls back to storing the payload raw in that case, flagged in the header.
func compress(data []byte, c Compression) ([]byte, bool, error) {
	switch c {
	case CompressionNone:
		return data, false, nil

	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, false, err
		}
		if n == 0 || n >= len(data) {
			return data, false, nil
		}
		return buf[:n], true, nil

	case CompressionZSTD:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, false, err
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), true, nil

	default:
		return nil, false, fmt.Errorf("persistence: unknown compression %d", c)
	}
}

// decompress reverses compress. uncompressedSize is taken from the header so
// LZ4 can allocate its output buffer up front.
func decompress(data []byte, c Compression, compressed bool, uncompressedSize uint64) ([]byte, error) {
	if !compressed {
		return data, nil
	}

	switch c {
	case CompressionLZ4:
		out := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, err
		}
		return out[:n], nil

	case CompressionZSTD:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(data, make([]byte, 0, uncompressedSize))

	default:
		return nil, fmt.Errorf("persistence: unknown compression %d", c)
	}
}
