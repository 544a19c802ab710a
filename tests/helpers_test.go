// Package tests holds end-to-end scenarios that exercise the engine as a
// whole (ingest, crash recovery, flush, retention, WAL reclamation) rather
// than one package's internals, so they live outside any single package's
// _test.go files.
package tests

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CasperHK/SkyPulseDB/engine"
	"github.com/CasperHK/SkyPulseDB/format"
)

func testColumns() []engine.ColumnDef {
	return []engine.ColumnDef{
		{ID: 1, Name: "temp_c", Type: format.ValueF64},
		{ID: 2, Name: "wind_dir", Type: format.ValueU16Angle},
		{ID: 3, Name: "humidity", Type: format.ValueU8Percent},
	}
}

// walSegmentFiles lists the .wal files currently present for an engine's
// data directory, in ascending name (and therefore sequence) order.
func walSegmentFiles(t *testing.T, dataDir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dataDir, "wal", "*.wal"))
	require.NoError(t, err)
	sort.Strings(matches)

	return matches
}

func openEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := engine.DefaultConfig(dir, testColumns(), opts...)
	e, err := engine.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	return e, dir
}

// openEngineWithConfig opens an engine after letting the caller tweak the
// default Config directly, for settings (e.g. WalSegmentBytes) that have no
// dedicated functional option.
func openEngineWithConfig(t *testing.T, mutate func(*engine.Config), opts ...engine.Option) (*engine.Engine, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := engine.DefaultConfig(dir, testColumns(), opts...)
	mutate(&cfg)
	e, err := engine.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	return e, dir
}
