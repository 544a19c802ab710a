package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeDeltaDelta(t *testing.T, values []int64) []byte {
	t.Helper()

	enc := NewDeltaDeltaEncoder()
	defer enc.Finish()

	for _, v := range values {
		require.NoError(t, enc.Write(v))
	}

	data := enc.Bytes()
	out := make([]byte, len(data))
	copy(out, data)

	return out
}

func TestDeltaDelta_RoundTrip_RegularInterval(t *testing.T) {
	values := make([]int64, 1000)
	for i := range values {
		values[i] = int64(i) * 60_000_000 // one reading per minute, in microseconds
	}

	data := encodeDeltaDelta(t, values)
	decoded, err := DecodeDeltaDelta(data, len(values))
	require.NoError(t, err)
	require.Equal(t, values, decoded)

	// Constant interval means every dod after the second sample is zero,
	// collapsing to one bit each: this should compress to a tiny fraction
	// of the 8 bytes/value raw encoding.
	bitsPerValue := float64(len(data)*8) / float64(len(values))
	require.Less(t, bitsPerValue, 2.0)
}

func TestDeltaDelta_RoundTrip_SingleValue(t *testing.T) {
	data := encodeDeltaDelta(t, []int64{1_700_000_000_000_000})
	decoded, err := DecodeDeltaDelta(data, 1)
	require.NoError(t, err)
	require.Equal(t, []int64{1_700_000_000_000_000}, decoded)
}

func TestDeltaDelta_RoundTrip_TwoValues(t *testing.T) {
	values := []int64{1000, 61000}
	data := encodeDeltaDelta(t, values)
	decoded, err := DecodeDeltaDelta(data, len(values))
	require.NoError(t, err)
	require.Equal(t, values, decoded)
}

func TestDeltaDelta_RoundTrip_EveryPrefixTier(t *testing.T) {
	// base interval 1,000,000; successive deltas chosen so each dod lands in a
	// different tier of the prefix table (0, 7-bit, 9-bit, 12-bit, 32-bit escape).
	base := int64(1_000_000)
	values := []int64{
		0,
		base,          // delta = base (second-value path)
		2 * base,      // dod = 0
		3*base + 40,   // dod = 40, fits [-63,64]
		4*base + 280,  // dod = 200, fits [-255,256]
		5*base + 2480, // dod = 1960, fits [-2047,2048]
		7*base + 4680, // dod = 1,000,000, needs the 32-bit escape
	}
	// Make the sequence strictly increasing deltas derived from the above.
	ts := make([]int64, len(values))
	copy(ts, values)

	data := encodeDeltaDelta(t, ts)
	decoded, err := DecodeDeltaDelta(data, len(ts))
	require.NoError(t, err)
	require.Equal(t, ts, decoded)
}

func TestDeltaDelta_RoundTrip_SecondDeltaEscape(t *testing.T) {
	// delta between the first two timestamps exceeds the 14-bit zigzag range.
	values := []int64{0, 1 << 20}
	data := encodeDeltaDelta(t, values)
	decoded, err := DecodeDeltaDelta(data, len(values))
	require.NoError(t, err)
	require.Equal(t, values, decoded)
}

func TestDeltaDelta_RoundTrip_NegativeDrift(t *testing.T) {
	// Deltas that shrink over time (clock drift correction), exercising
	// negative dod values: every dod is -5, all in the 7-bit tier.
	values := []int64{0, 1000, 1995, 2985, 3970, 4950}
	data := encodeDeltaDelta(t, values)
	decoded, err := DecodeDeltaDelta(data, len(values))
	require.NoError(t, err)
	require.Equal(t, values, decoded)
}

func TestDeltaDelta_EmptyBlock(t *testing.T) {
	decoded, err := DecodeDeltaDelta(nil, 0)
	require.NoError(t, err)
	require.Empty(t, decoded)
}

func TestDeltaDelta_TruncatedDataErrors(t *testing.T) {
	values := []int64{0, 1000, 2000, 3000}
	data := encodeDeltaDelta(t, values)
	_, err := DecodeDeltaDelta(data[:2], len(values))
	require.Error(t, err)
}

func TestDeltaDelta_EscapeOverflowRejected(t *testing.T) {
	enc := NewDeltaDeltaEncoder()
	defer enc.Finish()

	require.NoError(t, enc.Write(0))
	require.NoError(t, enc.Write(1))
	require.NoError(t, enc.Write(2))

	// A dod larger than the 32-bit zigzag escape can represent.
	err := enc.Write(2 + (int64(1) << 40))
	require.Error(t, err)
}
