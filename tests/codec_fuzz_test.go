package tests

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CasperHK/SkyPulseDB/engine"
)

// TestScenario_CodecFuzzRoundTripsExactly drives a large number of random
// float64 observations (including negative values, fractional deltas, and
// occasional large jumps) through write, flush and scan, and checks every
// value survives byte-exact: the f64 column is Gorilla XOR encoded and must
// never lose precision the way a quantized or lossy codec would.
func TestScenario_CodecFuzzRoundTripsExactly(t *testing.T) {
	e, _ := openEngine(t)

	const stationID = "KPHX"
	const rowCount = 4_000

	rng := rand.New(rand.NewSource(20260730))
	want := make([]float64, rowCount)

	value := 20.0
	for i := 0; i < rowCount; i++ {
		switch {
		case rng.Intn(50) == 0:
			value = rng.Float64()*200 - 100 // occasional large jump
		default:
			value += rng.NormFloat64() * 0.3 // small drift, the common case
		}
		want[i] = value

		_, err := e.Write(engine.Observation{
			StationID: stationID,
			TsMicros:  int64(i) * 1_000_000,
			Values:    map[string]float64{"temp_c": value},
		})
		require.NoError(t, err)
	}

	e.FlushNow(engine.SeriesKey{StationID: stationID, PartitionDay: 0})
	require.Eventually(t, func() bool {
		return e.Stats().CatalogueChunks >= 1
	}, 2*time.Second, 10*time.Millisecond)

	rows, err := e.Scan(context.Background(), stationID, 0, int64(rowCount)*1_000_000, []string{"temp_c"})
	require.NoError(t, err)
	require.Len(t, rows, rowCount)

	for i, row := range rows {
		require.Equal(t, want[i], row.Values["temp_c"], "row %d must decode to the exact bits written", i)
	}
}
