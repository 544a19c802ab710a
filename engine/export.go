package engine

import (
	"context"
	"sort"

	"github.com/CasperHK/SkyPulseDB/format"
	"github.com/CasperHK/SkyPulseDB/memtable"
)

// ColumnData is one column's row-aligned data across a ColumnBatch's
// timestamps, shaped for a downstream encoder (Arrow, Parquet, JSON, TOON)
// to adapt without re-walking the merge: one typed slice plus a validity
// bitmap, mirroring memtable.ColumnSeries.
type ColumnData struct {
	Type    format.ValueType
	F64     []float64
	I64     []int64
	Angle   []uint16
	Percent []uint8
	Present []bool
}

// ColumnBatch is a column-oriented extract of a station's observations over
// a time range: a shared timestamp axis plus one ColumnData per column,
// row-aligned by index against Ts.
type ColumnBatch struct {
	Station string
	Ts      []int64
	Columns map[string]ColumnData
}

// Export returns a station's observations over [t0, t1] in the
// column-oriented, typed-buffer representation an external layer adapts to
// its own wire format, as an alternative to Scan's row-oriented ScanRow
// output. It shares mergeRange with Scan, so the two surfaces never
// disagree on which value wins a duplicate timestamp.
func (e *Engine) Export(ctx context.Context, station string, t0, t1 int64, columns []string) (ColumnBatch, error) {
	merged, err := e.mergeRange(ctx, station, t0, t1, columns)
	if err != nil {
		return ColumnBatch{}, err
	}

	rows := make([]*mergedRow, 0, len(merged))
	for _, row := range merged {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Ts < rows[j].Ts })

	wantNames := make(map[string]bool, len(columns))
	for _, c := range columns {
		wantNames[c] = true
	}
	wantAll := len(wantNames) == 0

	batch := ColumnBatch{
		Station: station,
		Ts:      make([]int64, len(rows)),
		Columns: make(map[string]ColumnData, len(e.cfg.Columns)),
	}
	for _, col := range e.cfg.Columns {
		if !wantAll && !wantNames[col.Name] {
			continue
		}
		batch.Columns[col.Name] = newColumnData(col.Type, len(rows))
	}

	for i, row := range rows {
		batch.Ts[i] = row.Ts
		for name, v := range row.Values {
			cd, ok := batch.Columns[name]
			if !ok {
				continue
			}
			setColumnValue(&cd, i, v)
			batch.Columns[name] = cd
		}
	}

	return batch, nil
}

func newColumnData(vt format.ValueType, n int) ColumnData {
	cd := ColumnData{Type: vt, Present: make([]bool, n)}
	switch vt {
	case format.ValueF64:
		cd.F64 = make([]float64, n)
	case format.ValueI64:
		cd.I64 = make([]int64, n)
	case format.ValueU16Angle:
		cd.Angle = make([]uint16, n)
	case format.ValueU8Percent:
		cd.Percent = make([]uint8, n)
	}

	return cd
}

func setColumnValue(cd *ColumnData, i int, v memtable.Value) {
	if !v.Present {
		return
	}
	cd.Present[i] = true
	switch cd.Type {
	case format.ValueF64:
		cd.F64[i] = v.F64
	case format.ValueI64:
		cd.I64[i] = v.I64
	case format.ValueU16Angle:
		cd.Angle[i] = v.Angle
	case format.ValueU8Percent:
		cd.Percent[i] = v.Percent
	}
}
