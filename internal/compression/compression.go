// Package compression implements the pluggable block/blob compression
// codec spec §1 and §6 call for ("compression codecs specified as a
// pluggable codec interface"). Each data/index/filter block and each blob
// file stores a 1-byte codec tag alongside its payload.
package compression

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type identifies which codec compressed a block or blob file.
type Type uint8

const (
	// None stores the payload uncompressed.
	None Type = 0
	// Snappy uses Google's Snappy codec — fast, modest ratio.
	Snappy Type = 1
	// LZ4 uses LZ4 block-format compression — fast, modest ratio.
	LZ4 Type = 2
	// Zstd uses Zstandard — slower, best ratio; used by default for blob
	// files, where amortizing the encoder cost over large values pays off.
	Zstd Type = 3
)

func (t Type) String() string {
	switch t {
	case None:
		return "None"
	case Snappy:
		return "Snappy"
	case LZ4:
		return "LZ4"
	case Zstd:
		return "Zstd"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Compress compresses src with codec t. The returned slice is only valid
// until the next call; callers that retain it must copy.
func Compress(t Type, src []byte) ([]byte, error) {
	switch t {
	case None:
		return src, nil
	case Snappy:
		return snappy.Encode(nil, src), nil
	case LZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		var ht [1 << 16]int
		n, err := lz4.CompressBlock(src, dst, ht[:])
		if err != nil {
			return nil, fmt.Errorf("compression: lz4 compress: %w", err)
		}
		if n == 0 {
			// Incompressible: lz4 declines, fall back to storing raw.
			return src, nil
		}
		return dst[:n], nil
	case Zstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("compression: zstd encoder: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(src, nil), nil
	default:
		return nil, fmt.Errorf("compression: unknown codec %s", t)
	}
}

// Decompress decompresses src, which was compressed with codec t and is
// known to uncompress to exactly uncompressedLen bytes (0 if unknown).
func Decompress(t Type, src []byte, uncompressedLen int) ([]byte, error) {
	switch t {
	case None:
		return src, nil
	case Snappy:
		return snappy.Decode(nil, src)
	case LZ4:
		if uncompressedLen == 0 {
			return nil, fmt.Errorf("compression: lz4 decompress requires known size")
		}
		dst := make([]byte, uncompressedLen)
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return nil, fmt.Errorf("compression: lz4 decompress: %w", err)
		}
		return dst[:n], nil
	case Zstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("compression: zstd decoder: %w", err)
		}
		defer dec.Close()
		return dec.DecodeAll(src, make([]byte, 0, uncompressedLen))
	default:
		return nil, fmt.Errorf("compression: unknown codec %s", t)
	}
}
