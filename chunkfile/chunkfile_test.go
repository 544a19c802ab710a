package chunkfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/CasperHK/SkyPulseDB/errs"
	"github.com/CasperHK/SkyPulseDB/format"
	"github.com/stretchr/testify/require"
)

func TestWriteChunk_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.chunk")

	const n = 2500 // spans more than two default-size blocks
	timestamps := make([]int64, n)
	temps := make([]float64, n)
	present := make([]bool, n)
	for i := range timestamps {
		timestamps[i] = int64(i) * 60_000_000
		temps[i] = 288.0 + float64(i%5)*0.1
		present[i] = i%97 != 0 // sprinkle in some nulls
	}

	columns := []ColumnInput{
		{ID: 1, Name: "temperature", Type: format.ValueF64, F64: temps, Present: present},
	}

	res, err := WriteChunk(path, "TPE001", 20122, timestamps, columns, nil, DefaultWriteOptions())
	require.NoError(t, err)
	require.Equal(t, uint32(n), res.RowCount)
	require.Equal(t, timestamps[0], res.FirstTs)
	require.Equal(t, timestamps[n-1], res.LastTs)

	r, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, "TPE001", r.StationID)
	require.Equal(t, int32(20122), r.PartitionDay)
	require.Equal(t, uint32(n), r.RowCount)

	tsCol, ok := r.Column("ts")
	require.True(t, ok)
	decodedTs, tsPresence, err := r.DecodeColumnI64(tsCol)
	require.NoError(t, err)
	require.Equal(t, timestamps, decodedTs)
	for _, p := range tsPresence {
		require.True(t, p)
	}

	tempCol, ok := r.Column("temperature")
	require.True(t, ok)
	decodedTemp, tempPresence, err := r.DecodeColumnF64(tempCol)
	require.NoError(t, err)
	require.Len(t, decodedTemp, n)
	for i := range decodedTemp {
		require.Equal(t, present[i], tempPresence[i])
		if present[i] {
			require.InDelta(t, temps[i], decodedTemp[i], 1e-9)
		}
	}
}

func TestWriteChunk_MultiColumnAllTypes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2.chunk")

	const n = 1200
	timestamps := make([]int64, n)
	humidity := make([]uint8, n)
	windDir := make([]uint16, n)
	for i := range timestamps {
		timestamps[i] = int64(i) * 1_000_000
		humidity[i] = uint8(40 + i%60)
		windDir[i] = uint16(i % 360)
	}

	columns := []ColumnInput{
		{ID: 2, Name: "humidity", Type: format.ValueU8Percent, Percent: humidity},
		{ID: 3, Name: "wind_direction", Type: format.ValueU16Angle, Angle: windDir},
	}

	_, err := WriteChunk(path, "TPE002", 20123, timestamps, columns, nil, DefaultWriteOptions())
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)

	humCol, ok := r.Column("humidity")
	require.True(t, ok)
	decodedHum, _, err := r.DecodeColumnPercent(humCol)
	require.NoError(t, err)
	for i, v := range decodedHum {
		require.Equal(t, humidity[i], v)
	}

	windCol, ok := r.Column("wind_direction")
	require.True(t, ok)
	decodedWind, _, err := r.DecodeColumnAngle(windCol)
	require.NoError(t, err)
	for i, v := range decodedWind {
		require.Equal(t, windDir[i], v)
	}
}

func TestOpen_DetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "3.chunk")

	columns := []ColumnInput{
		{ID: 1, Name: "temperature", Type: format.ValueF64, F64: []float64{1, 2, 3}},
	}
	_, err := WriteChunk(path, "S1", 1, []int64{0, 1, 2}, columns, nil, DefaultWriteOptions())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF // corrupt the trailing magic byte
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Open(path)
	require.ErrorIs(t, err, errs.ErrChunkChecksumFail)
}

func TestWriteChunk_RejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "4.chunk")
	_, err := WriteChunk(path, "S1", 1, nil, nil, nil, DefaultWriteOptions())
	require.Error(t, err)
}

func TestWriteChunk_RejectsTimestampRegression(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "5.chunk")
	_, err := WriteChunk(path, "S1", 1, []int64{10, 5}, nil, nil, DefaultWriteOptions())
	require.Error(t, err)
}
