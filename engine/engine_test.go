package engine

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CasperHK/SkyPulseDB/catalogue"
	"github.com/CasperHK/SkyPulseDB/format"
	"github.com/CasperHK/SkyPulseDB/wal"
)

func testColumns() []ColumnDef {
	return []ColumnDef{
		{ID: 1, Name: "temp_c", Type: format.ValueF64},
		{ID: 2, Name: "wind_dir", Type: format.ValueU16Angle},
		{ID: 3, Name: "humidity", Type: format.ValueU8Percent},
	}
}

func openTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig(dir, testColumns(), opts...)
	cfg.WalFsyncPolicy = wal.FsyncOff
	e, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	return e
}

func TestEngine_WriteThenScan_ReturnsRow(t *testing.T) {
	e := openTestEngine(t)

	ack, err := e.Write(Observation{
		StationID: "KSEA",
		TsMicros:  1_000_000,
		Values:    map[string]float64{"temp_c": 18.5, "wind_dir": 270, "humidity": 55},
	})
	require.NoError(t, err)
	require.Equal(t, "KSEA", ack.SeriesKey.StationID)

	rows, err := e.Scan(context.Background(), "KSEA", 0, 2_000_000, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(1_000_000), rows[0].Ts)
	require.InDelta(t, 18.5, rows[0].Values["temp_c"], 0.0001)
	require.InDelta(t, 270, rows[0].Values["wind_dir"], 0.0001)
	require.InDelta(t, 55, rows[0].Values["humidity"], 0.0001)
}

func TestEngine_WriteBatch_AllOrNothing(t *testing.T) {
	e := openTestEngine(t)

	rows := []Observation{
		{StationID: "KSEA", TsMicros: 1_000_000, Values: map[string]float64{"temp_c": 10}},
		{StationID: "KSEA", TsMicros: 2_000_000, Values: map[string]float64{"wind_dir": 999}}, // out of range
	}

	_, err := e.WriteBatch(rows)
	require.Error(t, err)

	scanned, err := e.Scan(context.Background(), "KSEA", 0, 3_000_000, nil)
	require.NoError(t, err)
	require.Empty(t, scanned, "a failed batch must not partially apply")
}

func TestEngine_Write_RejectsUnknownColumn(t *testing.T) {
	e := openTestEngine(t)

	_, err := e.Write(Observation{StationID: "KSEA", TsMicros: 1, Values: map[string]float64{"pressure": 1013}})
	require.Error(t, err)
}

func TestEngine_Write_RejectsNaN(t *testing.T) {
	e := openTestEngine(t)

	_, err := e.Write(Observation{StationID: "KSEA", TsMicros: 1, Values: map[string]float64{"temp_c": nan()}})
	require.Error(t, err)
}

func nan() float64 {
	var zero float64

	return zero / zero
}

func TestEngine_FlushNow_PublishesChunkAndScanStillSees(t *testing.T) {
	e := openTestEngine(t)

	for i := 0; i < 10; i++ {
		_, err := e.Write(Observation{
			StationID: "KSEA",
			TsMicros:  int64(i) * 1_000_000,
			Values:    map[string]float64{"temp_c": float64(i)},
		})
		require.NoError(t, err)
	}

	sk := SeriesKey{StationID: "KSEA", PartitionDay: partitionDay(0)}
	e.FlushNow(sk)

	require.Eventually(t, func() bool {
		return e.Stats().CatalogueChunks == 1
	}, time.Second, 10*time.Millisecond)

	rows, err := e.Scan(context.Background(), "KSEA", 0, 10_000_000, nil)
	require.NoError(t, err)
	require.Len(t, rows, 10)
}

func TestEngine_AdmitWrite_RejectsWhenQueueFull(t *testing.T) {
	// Exercises admitWrite's back-pressure gate directly against a bare
	// Engine value, bypassing Open so the background flusher never drains
	// the queue out from under the test.
	cfg := DefaultConfig(t.TempDir(), testColumns(), func(c *Config) { c.FlushQueueDepth = 1 })
	e := &Engine{cfg: cfg, series: newSeriesShards(), flushQueue: make(chan flushJob, cfg.FlushQueueDepth)}
	e.flushQueue <- flushJob{}

	require.Error(t, e.admitWrite())
}

func TestEngine_Reopen_RecoversFromWAL(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir, testColumns())
	cfg.WalFsyncPolicy = wal.FsyncEveryWrite

	e1, err := Open(cfg)
	require.NoError(t, err)
	_, err = e1.Write(Observation{StationID: "KSEA", TsMicros: 42, Values: map[string]float64{"temp_c": 7.5}})
	require.NoError(t, err)
	require.NoError(t, e1.Close())

	e2, err := Open(cfg)
	require.NoError(t, err)
	defer e2.Close()

	rows, err := e2.Scan(context.Background(), "KSEA", 0, 1000, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.InDelta(t, 7.5, rows[0].Values["temp_c"], 0.0001)
}

func TestEngine_Stats_ReportsQuarantinedChunks(t *testing.T) {
	e := openTestEngine(t)

	_, err := e.Write(Observation{StationID: "KSEA", TsMicros: 1, Values: map[string]float64{"temp_c": 1}})
	require.NoError(t, err)

	sk := SeriesKey{StationID: "KSEA", PartitionDay: partitionDay(1)}
	e.FlushNow(sk)
	require.Eventually(t, func() bool {
		return e.Stats().CatalogueChunks == 1
	}, time.Second, 10*time.Millisecond)

	var chunkName string
	e.cat.Enumerate(func(key catalogue.SeriesKey, entry catalogue.ChunkEntry) {
		chunkName = entry.ChunkName
	})
	require.NotEmpty(t, chunkName)

	path := chunkPathFor(e.cfg.DataDir, "KSEA", partitionDay(1), chunkName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF // flip a footer byte so the CRC check fails
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = e.Scan(context.Background(), "KSEA", 0, 10, nil)
	require.Error(t, err, "a corrupt chunk must surface as a scan error, not be silently skipped")

	require.Equal(t, 1, e.Stats().QuarantinedChunks)
}

func TestEngine_Stats_ReportsLiveRows(t *testing.T) {
	e := openTestEngine(t)

	for i := 0; i < 5; i++ {
		_, err := e.Write(Observation{StationID: "KPDX", TsMicros: int64(i), Values: map[string]float64{"temp_c": 1}})
		require.NoError(t, err)
	}

	stats := e.Stats()
	require.Equal(t, 1, stats.LiveSeries)
	require.Equal(t, 5, stats.LiveRows)
	require.False(t, stats.Degraded)
}
