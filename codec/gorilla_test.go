package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeGorilla(t *testing.T, values []float64) []byte {
	t.Helper()

	enc := NewGorillaEncoder()
	defer enc.Finish()

	for _, v := range values {
		require.NoError(t, enc.Write(v))
	}

	data := enc.Bytes()
	out := make([]byte, len(data))
	copy(out, data)

	return out
}

func TestGorilla_RoundTrip_ConstantValue(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = 288.0
	}

	data := encodeGorilla(t, values)
	decoded, err := DecodeGorilla(data, len(values))
	require.NoError(t, err)
	require.Equal(t, values, decoded)
}

func TestGorilla_RoundTrip_Oscillating(t *testing.T) {
	values := make([]float64, 1440) // one reading per minute for 24h
	for i := range values {
		values[i] = 288.0 + 0.5*math.Sin(float64(i)/1440*2*math.Pi*10)
	}

	data := encodeGorilla(t, values)
	decoded, err := DecodeGorilla(data, len(values))
	require.NoError(t, err)
	require.InDeltaSlice(t, values, decoded, 0)

	// A slowly oscillating temperature signal should compress well under
	// Gorilla XOR: well under a byte per value on average.
	bitsPerValue := float64(len(data)*8) / float64(len(values))
	require.LessOrEqual(t, bitsPerValue, 6.0)
}

func TestGorilla_RoundTrip_LargeLeadingZeroJump(t *testing.T) {
	values := []float64{1.0, 1.0 + 1e-300, 1e300, -1e300, 0.0}

	data := encodeGorilla(t, values)
	decoded, err := DecodeGorilla(data, len(values))
	require.NoError(t, err)
	require.Equal(t, values, decoded)
}

func TestGorilla_SingleValue(t *testing.T) {
	data := encodeGorilla(t, []float64{42.5})
	decoded, err := DecodeGorilla(data, 1)
	require.NoError(t, err)
	require.Equal(t, []float64{42.5}, decoded)
}

func TestGorilla_EmptyBlock(t *testing.T) {
	decoded, err := DecodeGorilla(nil, 0)
	require.NoError(t, err)
	require.Empty(t, decoded)
}

func TestGorilla_RejectsNaN(t *testing.T) {
	enc := NewGorillaEncoder()
	defer enc.Finish()

	require.NoError(t, enc.Write(1.0))
	err := enc.Write(math.NaN())
	require.Error(t, err)
}

func TestGorilla_TruncatedDataErrors(t *testing.T) {
	data := encodeGorilla(t, []float64{1.0, 2.0, 3.0})
	_, err := DecodeGorilla(data[:1], 3)
	require.Error(t, err)
}
