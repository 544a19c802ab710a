package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEngine_AgeSweep_SealsStaleMemTable(t *testing.T) {
	e := openTestEngine(t, WithMemTableMaxAge(10*time.Millisecond))

	_, err := e.Write(Observation{StationID: "KDEN", TsMicros: 1, Values: map[string]float64{"temp_c": 1}})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	e.sweepAgedMemTables()

	require.Eventually(t, func() bool {
		return e.Stats().CatalogueChunks == 1
	}, time.Second, 10*time.Millisecond, "a MemTable past MemTableMaxAge must be sealed and flushed without waiting on row/byte thresholds")
}

func TestEngine_AgeSweep_DisabledByDefault(t *testing.T) {
	e := openTestEngine(t)

	_, err := e.Write(Observation{StationID: "KDEN", TsMicros: 1, Values: map[string]float64{"temp_c": 1}})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	e.sweepAgedMemTables()

	require.Equal(t, 0, e.Stats().CatalogueChunks, "MemTableMaxAge of 0 must never trigger a seal")
}
