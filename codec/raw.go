package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeRawF64 stores float64 values as fixed-width little-endian doubles,
// the fallback codec for columns that opt out of Gorilla compression.
func EncodeRawF64(values []float64) []byte {
	out := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}

	return out
}

// DecodeRawF64 decodes count fixed-width little-endian float64 values.
func DecodeRawF64(data []byte, count int) ([]float64, error) {
	if len(data) < count*8 {
		return nil, fmt.Errorf("codec: raw: f64 block has %d bytes, need %d", len(data), count*8)
	}

	out := make([]float64, count)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}

	return out, nil
}

// EncodeRawI64 stores int64 values as fixed-width little-endian integers.
func EncodeRawI64(values []int64) []byte {
	out := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
	}

	return out
}

// DecodeRawI64 decodes count fixed-width little-endian int64 values.
func DecodeRawI64(data []byte, count int) ([]int64, error) {
	if len(data) < count*8 {
		return nil, fmt.Errorf("codec: raw: i64 block has %d bytes, need %d", len(data), count*8)
	}

	out := make([]int64, count)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(data[i*8:]))
	}

	return out, nil
}
