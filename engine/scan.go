package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/CasperHK/SkyPulseDB/catalogue"
	"github.com/CasperHK/SkyPulseDB/chunkfile"
	"github.com/CasperHK/SkyPulseDB/errs"
	"github.com/CasperHK/SkyPulseDB/format"
	"github.com/CasperHK/SkyPulseDB/memtable"
)

// ScanRow is one merged, decoded observation returned by Scan.
type ScanRow struct {
	Ts     int64
	Values map[string]float64
	Note   string
}

// mergedRow is one timestamp's merged, still-typed observation: the shared
// result of folding live MemTable generations and catalogued chunks
// together, before Scan flattens it to float64 or Export transposes it to
// column-oriented typed buffers.
type mergedRow struct {
	Ts     int64
	Values map[string]memtable.Value
	Note   string
}

// Scan reads every row for a station within [t0, t1], merging catalogued
// chunks intersecting the range with any still-live MemTable for that
// series; MemTable rows win on duplicate timestamps. ctx may be cancelled
// between partition days or chunks; columns limits which columns are
// decoded (nil/empty means every configured column).
func (e *Engine) Scan(ctx context.Context, station string, t0, t1 int64, columns []string) ([]ScanRow, error) {
	merged, err := e.mergeRange(ctx, station, t0, t1, columns)
	if err != nil {
		return nil, err
	}

	out := make([]ScanRow, 0, len(merged))
	for _, row := range merged {
		sr := ScanRow{Ts: row.Ts, Note: row.Note, Values: make(map[string]float64, len(row.Values))}
		for name, v := range row.Values {
			sr.Values[name] = valueAsFloat(v)
		}
		out = append(out, sr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ts < out[j].Ts })

	return out, nil
}

// mergeRange folds still-live MemTable generations and catalogued chunks
// intersecting [t0,t1] into one typed, deduplicated row set: MemTable rows
// win on a shared timestamp, and among chunks the most recently flushed one
// wins (catalogue.Lookup already orders its result that way). Both Scan and
// Export build on this single merge so the two read surfaces can never
// disagree on which value a duplicate timestamp resolves to.
func (e *Engine) mergeRange(ctx context.Context, station string, t0, t1 int64, columns []string) (map[int64]*mergedRow, error) {
	wantNames := make(map[string]bool, len(columns))
	for _, c := range columns {
		wantNames[c] = true
	}
	wantAll := len(wantNames) == 0

	merged := make(map[int64]*mergedRow)

	// MemTable rows are merged first: chunk rows below never overwrite a
	// timestamp a live MemTable already populated.
	firstDay, lastDay := partitionDay(t0), partitionDay(t1)
	for day := firstDay; day <= lastDay; day++ {
		if err := ctx.Err(); err != nil {
			return nil, errs.NewFatal("engine: scan cancelled", err)
		}

		sk := SeriesKey{StationID: station, PartitionDay: day}
		mt, ok := e.series.get(sk)
		if !ok {
			continue
		}

		for _, row := range mt.Read(t0, t1) {
			out := mergedRowFor(merged, row.Ts)
			if row.Note != "" {
				out.Note = row.Note
			}
			for id, v := range row.Values {
				if !v.Present {
					continue
				}
				col, ok := e.columnsByID[id]
				if !ok || (!wantAll && !wantNames[col.Name]) {
					continue
				}
				out.Values[col.Name] = v
			}
		}
	}

	for _, entry := range e.cat.Lookup(station, t0, t1) {
		if err := ctx.Err(); err != nil {
			return nil, errs.NewFatal("engine: scan cancelled", err)
		}
		if err := e.mergeChunk(merged, station, entry, t0, t1, wantAll, wantNames); err != nil {
			return nil, err
		}
	}

	return merged, nil
}

func mergedRowFor(merged map[int64]*mergedRow, ts int64) *mergedRow {
	row, ok := merged[ts]
	if !ok {
		row = &mergedRow{Ts: ts, Values: make(map[string]memtable.Value)}
		merged[ts] = row
	}

	return row
}

func valueAsFloat(v memtable.Value) float64 {
	switch v.Type {
	case format.ValueF64:
		return v.F64
	case format.ValueI64:
		return float64(v.I64)
	case format.ValueU16Angle:
		return float64(v.Angle)
	case format.ValueU8Percent:
		return float64(v.Percent)
	default:
		return 0
	}
}

// mergeChunk decodes a catalogued chunk and folds its rows into merged,
// never overwriting a timestamp a MemTable row already populated (those were
// merged first by mergeRange).
func (e *Engine) mergeChunk(merged map[int64]*mergedRow, station string, entry catalogue.ChunkEntry, t0, t1 int64, wantAll bool, wantNames map[string]bool) error {
	path := chunkPathFor(e.cfg.DataDir, station, partitionDay(entry.FirstTs), entry.ChunkName)

	r, err := chunkfile.Open(path)
	if err != nil {
		if _, qerr := chunkfile.Quarantine(e.cfg.DataDir, path); qerr == nil {
			return errs.NewCorruption("engine: chunk failed checksum, quarantined", err)
		}

		return errs.NewCorruption("engine: opening chunk", err)
	}

	tsCD, ok := r.Column("ts")
	if !ok {
		return errs.NewCorruption("engine: chunk missing timestamp column", nil)
	}
	timestamps, _, err := r.DecodeColumnI64(tsCD)
	if err != nil {
		return errs.NewCorruption("engine: decoding chunk timestamps", err)
	}

	lo := sort.Search(len(timestamps), func(i int) bool { return timestamps[i] >= t0 })
	hi := sort.Search(len(timestamps), func(i int) bool { return timestamps[i] > t1 })

	for _, col := range r.Header.Columns {
		if col.Name == "ts" || (!wantAll && !wantNames[col.Name]) {
			continue
		}

		cd, _ := r.Column(col.Name)
		if err := decodeColumnInto(merged, r, cd, timestamps, lo, hi); err != nil {
			return err
		}
	}

	return nil
}

func decodeColumnInto(merged map[int64]*mergedRow, r *chunkfile.Reader, cd chunkfile.ColumnDescriptor, timestamps []int64, lo, hi int) error {
	vt := format.ValueType(cd.PhysType)
	assign := func(i int, v memtable.Value, present bool) {
		if !present {
			return
		}
		row := mergedRowFor(merged, timestamps[i])
		if _, already := row.Values[cd.Name]; already {
			return
		}
		v.Type = vt
		v.Present = true
		row.Values[cd.Name] = v
	}

	switch vt {
	case format.ValueF64:
		vals, present, err := r.DecodeColumnF64(cd)
		if err != nil {
			return errs.NewCorruption("engine: decoding chunk column", err)
		}
		for i := lo; i < hi; i++ {
			assign(i, memtable.Value{F64: vals[i]}, present[i])
		}
	case format.ValueI64:
		vals, present, err := r.DecodeColumnI64(cd)
		if err != nil {
			return errs.NewCorruption("engine: decoding chunk column", err)
		}
		for i := lo; i < hi; i++ {
			assign(i, memtable.Value{I64: vals[i]}, present[i])
		}
	case format.ValueU16Angle:
		vals, present, err := r.DecodeColumnAngle(cd)
		if err != nil {
			return errs.NewCorruption("engine: decoding chunk column", err)
		}
		for i := lo; i < hi; i++ {
			assign(i, memtable.Value{Angle: vals[i]}, present[i])
		}
	case format.ValueU8Percent:
		vals, present, err := r.DecodeColumnPercent(cd)
		if err != nil {
			return errs.NewCorruption("engine: decoding chunk column", err)
		}
		for i := lo; i < hi; i++ {
			assign(i, memtable.Value{Percent: vals[i]}, present[i])
		}
	}

	return nil
}

func chunkPathFor(dataDir, station string, day int32, chunkName string) string {
	return filepath.Join(dataDir, "chunks", station, fmt.Sprint(day), chunkName)
}
