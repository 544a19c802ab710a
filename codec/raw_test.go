package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRawF64_RoundTrip(t *testing.T) {
	values := []float64{0, -1.5, 3.14159, 1e300, -1e-300}
	data := EncodeRawF64(values)
	decoded, err := DecodeRawF64(data, len(values))
	require.NoError(t, err)
	require.Equal(t, values, decoded)
}

func TestRawI64_RoundTrip(t *testing.T) {
	values := []int64{0, -1, 1 << 40, -(1 << 40)}
	data := EncodeRawI64(values)
	decoded, err := DecodeRawI64(data, len(values))
	require.NoError(t, err)
	require.Equal(t, values, decoded)
}

func TestRawF64_TruncatedDataErrors(t *testing.T) {
	data := EncodeRawF64([]float64{1, 2, 3})
	_, err := DecodeRawF64(data[:4], 3)
	require.Error(t, err)
}

func TestRawI64_TruncatedDataErrors(t *testing.T) {
	data := EncodeRawI64([]int64{1, 2, 3})
	_, err := DecodeRawI64(data[:4], 3)
	require.Error(t, err)
}
