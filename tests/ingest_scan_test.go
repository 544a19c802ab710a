package tests

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CasperHK/SkyPulseDB/engine"
)

func TestScenario_IngestThenScan(t *testing.T) {
	e, _ := openEngine(t)

	const stationID = "KSEA"
	for i := 0; i < 500; i++ {
		_, err := e.Write(engine.Observation{
			StationID: stationID,
			TsMicros:  int64(i) * 1_000_000,
			Values: map[string]float64{
				"temp_c":   15 + float64(i)*0.01,
				"wind_dir": float64(i % 360),
				"humidity": float64(i % 100),
			},
		})
		require.NoError(t, err)
	}

	rows, err := e.Scan(context.Background(), stationID, 0, 499_000_000, nil)
	require.NoError(t, err)
	require.Len(t, rows, 500)

	for i, row := range rows {
		require.Equal(t, int64(i)*1_000_000, row.Ts)
		require.InDelta(t, 15+float64(i)*0.01, row.Values["temp_c"], 1e-9)
		require.InDelta(t, float64(i%360), row.Values["wind_dir"], 1e-9)
		require.InDelta(t, float64(i%100), row.Values["humidity"], 1e-9)
	}

	narrow, err := e.Scan(context.Background(), stationID, 0, 499_000_000, []string{"temp_c"})
	require.NoError(t, err)
	require.Len(t, narrow, 500)
	for _, row := range narrow {
		require.Len(t, row.Values, 1)
		_, ok := row.Values["temp_c"]
		require.True(t, ok)
	}
}
