// Package format defines the small value types shared by every on-disk
// representation in SkyPulseDB: the observation value kinds, the per-column
// codec tags, and the block-compression tags. These are the building blocks
// the chunk format (package chunkfile), the WAL (package wal) and the
// codecs (package codec) all reference.
package format

// ValueType identifies the physical type of a single observation value, as
// carried in the Observation.Values map and in a column descriptor's
// phys_type byte.
type ValueType uint8

const (
	ValueNull      ValueType = 0x0
	ValueF64       ValueType = 0x1 // IEEE-754 double, encoded with the Gorilla codec
	ValueI64       ValueType = 0x2 // signed 64-bit integer
	ValueU16Angle  ValueType = 0x3 // wind direction, 0-359 degrees, quantized to 9 bits
	ValueU8Percent ValueType = 0x4 // humidity or similar 0-100 percentage, quantized to 7 bits
)

func (v ValueType) String() string {
	switch v {
	case ValueNull:
		return "null"
	case ValueF64:
		return "f64"
	case ValueI64:
		return "i64"
	case ValueU16Angle:
		return "u16angle"
	case ValueU8Percent:
		return "u8percent"
	default:
		return "unknown"
	}
}

// CodecType selects the column encoder/decoder used for a block: the chunk
// format's codec byte selects the variant at read time, with no dynamic
// dispatch on the hot encode path since the column type determines the
// codec at build time.
type CodecType uint8

const (
	CodecRaw          CodecType = 0x0 // fixed-width, uncompressed
	CodecGorillaF64   CodecType = 0x1 // XOR-based float64 compression
	CodecDeltaDeltaI64 CodecType = 0x2 // delta-of-delta timestamp compression
	CodecU16Angle     CodecType = 0x3 // 9-bit quantized angle + RLE
	CodecU8Percent    CodecType = 0x4 // 7-bit quantized percentage + RLE
)

func (c CodecType) String() string {
	switch c {
	case CodecRaw:
		return "raw"
	case CodecGorillaF64:
		return "gorilla-f64"
	case CodecDeltaDeltaI64:
		return "delta-delta-i64"
	case CodecU16Angle:
		return "u16angle"
	case CodecU8Percent:
		return "u8percent"
	default:
		return "unknown"
	}
}

// DefaultCodecFor returns the codec a fresh column of the given value type
// encodes with: the column type determines the codec at build time.
func DefaultCodecFor(vt ValueType) CodecType {
	switch vt {
	case ValueF64:
		return CodecGorillaF64
	case ValueI64:
		return CodecDeltaDeltaI64
	case ValueU16Angle:
		return CodecU16Angle
	case ValueU8Percent:
		return CodecU8Percent
	default:
		return CodecRaw
	}
}

// CompressionType identifies the general-purpose byte compressor optionally
// wrapped around an encoded column block.
type CompressionType uint8

const (
	CompressionNone CompressionType = 0x0
	CompressionZstd CompressionType = 0x1
	CompressionS2   CompressionType = 0x2
	CompressionLZ4  CompressionType = 0x3
)

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionS2:
		return "s2"
	case CompressionLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// BlockRows is the default logical block size for column encoders.
const BlockRows = 1024

// Sentinel values for quantized columns: the out-of-band code that means
// "null" within the quantized bit width itself, used only when the
// surrounding presence bitmap is bypassed for RLE runs of the sentinel.
const (
	AngleNullSentinel   = 511 // 9-bit field, valid range 0-359
	PercentNullSentinel = 127 // 7-bit field, valid range 0-100
)
