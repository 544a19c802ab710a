// Package compress wraps general-purpose byte compressors around an
// already-encoded column block: the codec layer (package codec) squeezes
// the numeric structure out of a column first, and this layer optionally
// squeezes the remaining byte-level redundancy out of the result.
package compress

import (
	"fmt"

	"github.com/CasperHK/SkyPulseDB/format"
)

// Compressor compresses an encoded column block.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
}

// Decompressor decompresses a column block previously produced by a
// matching Compressor.
type Decompressor interface {
	Decompress(data []byte) ([]byte, error)
}

// Codec combines both directions.
type Codec interface {
	Compressor
	Decompressor
}

// Stats describes the outcome of a compress decision for one column block,
// used by the chunk writer to decide whether the wrapped form is worth
// keeping (see minRatioToKeep).
type Stats struct {
	Algorithm      format.CompressionType
	RawSize        int
	CompressedSize int
}

// Ratio returns compressed/raw size; values below 1.0 indicate a win.
func (s Stats) Ratio() float64 {
	if s.RawSize == 0 {
		return 0
	}

	return float64(s.CompressedSize) / float64(s.RawSize)
}

var builtinCodecs = map[format.CompressionType]Codec{
	format.CompressionNone: NewNoOpCodec(),
	format.CompressionZstd: NewZstdCodec(),
	format.CompressionS2:   NewS2Codec(),
	format.CompressionLZ4:  NewLZ4Codec(),
}

// GetCodec retrieves the built-in Codec for a compression type.
func GetCodec(t format.CompressionType) (Codec, error) {
	if c, ok := builtinCodecs[t]; ok {
		return c, nil
	}

	return nil, fmt.Errorf("compress: unsupported compression type %s", t)
}

// minRatioToKeep: a compressed block replaces the raw block only if it is
// at least 10% smaller.
const minRatioToKeep = 0.9

// ChooseBest compresses data with every candidate algorithm and returns the
// smallest result, falling back to CompressionNone if nothing clears
// minRatioToKeep.
func ChooseBest(data []byte, candidates []format.CompressionType) ([]byte, format.CompressionType, error) {
	best := data
	bestType := format.CompressionNone

	for _, t := range candidates {
		if t == format.CompressionNone {
			continue
		}

		c, err := GetCodec(t)
		if err != nil {
			return nil, format.CompressionNone, err
		}

		out, err := c.Compress(data)
		if err != nil {
			return nil, format.CompressionNone, fmt.Errorf("compress: %s: %w", t, err)
		}

		if len(data) > 0 && float64(len(out)) <= float64(len(data))*minRatioToKeep && len(out) < len(best) {
			best = out
			bestType = t
		}
	}

	return best, bestType, nil
}
