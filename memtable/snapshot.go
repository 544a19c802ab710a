package memtable

import (
	"sort"
	"time"

	"github.com/CasperHK/SkyPulseDB/format"
)

// Snapshot is an immutable view over a sealed MemTable's backing arrays,
// produced by Seal. Readers take a Snapshot under a short lock and then
// operate on it lock-free, since it never mutates once taken.
type Snapshot struct {
	key       SeriesKey
	columns   map[uint16]*columnBuffer
	columnIDs []uint16

	rowTs    []int64
	rowNotes []string
	sortedTs []int64
	tsToRow  map[int64]int

	rowNotesEnabled bool
	createdAt       time.Time
}

// Key returns the series key this snapshot buffers.
func (s *Snapshot) Key() SeriesKey { return s.key }

// RowCount returns the number of distinct rows in the snapshot.
func (s *Snapshot) RowCount() int { return len(s.sortedTs) }

// FirstTs and LastTs return the snapshot's timestamp bounds. Both are zero
// if the snapshot is empty.
func (s *Snapshot) FirstTs() int64 {
	if len(s.sortedTs) == 0 {
		return 0
	}

	return s.sortedTs[0]
}

func (s *Snapshot) LastTs() int64 {
	if len(s.sortedTs) == 0 {
		return 0
	}

	return s.sortedTs[len(s.sortedTs)-1]
}

// Row is a decoded observation returned by Read.
type Row struct {
	Ts     int64
	Values map[uint16]Value
	Note   string
}

// Read binary-searches the sorted timestamp index for [t0,t1] and yields
// matching rows in ascending ts order.
func (s *Snapshot) Read(t0, t1 int64) []Row {
	lo := sort.Search(len(s.sortedTs), func(i int) bool { return s.sortedTs[i] >= t0 })
	hi := sort.Search(len(s.sortedTs), func(i int) bool { return s.sortedTs[i] > t1 })

	rows := make([]Row, 0, hi-lo)
	for _, ts := range s.sortedTs[lo:hi] {
		rowIx := s.tsToRow[ts]
		values := make(map[uint16]Value, len(s.columnIDs))
		for _, id := range s.columnIDs {
			values[id] = s.valueAt(id, rowIx)
		}
		row := Row{Ts: ts, Values: values}
		if s.rowNotesEnabled && rowIx < len(s.rowNotes) {
			row.Note = s.rowNotes[rowIx]
		}
		rows = append(rows, row)
	}

	return rows
}

func (s *Snapshot) valueAt(id uint16, rowIx int) Value {
	return s.columns[id].valueAt(rowIx)
}

// ColumnSeries is one column's row-aligned data in timestamp order, shaped
// to feed a chunk writer directly (its fields mirror chunkfile.ColumnInput's
// one-typed-slice-per-column layout).
type ColumnSeries struct {
	ID      uint16
	Name    string
	Type    format.ValueType
	F64     []float64
	I64     []int64
	Angle   []uint16
	Percent []uint8
	Present []bool
}

// Flatten returns the snapshot's full row set as a sorted timestamp array
// plus one ColumnSeries per column, ready for the chunk writer. Rows are
// already deduplicated and ordered by construction (sortedTs is unique and
// ascending), so this performs no additional merge work.
func (s *Snapshot) Flatten() (timestamps []int64, columns []ColumnSeries, notes []string) {
	timestamps = make([]int64, len(s.sortedTs))
	copy(timestamps, s.sortedTs)

	columns = make([]ColumnSeries, 0, len(s.columnIDs))
	for _, id := range s.columnIDs {
		c := s.columns[id]
		cs := ColumnSeries{ID: id, Name: c.name, Type: c.valueType, Present: make([]bool, len(s.sortedTs))}

		switch c.valueType {
		case format.ValueF64:
			cs.F64 = make([]float64, len(s.sortedTs))
		case format.ValueI64:
			cs.I64 = make([]int64, len(s.sortedTs))
		case format.ValueU16Angle:
			cs.Angle = make([]uint16, len(s.sortedTs))
		case format.ValueU8Percent:
			cs.Percent = make([]uint8, len(s.sortedTs))
		}

		for outIx, ts := range s.sortedTs {
			rowIx := s.tsToRow[ts]
			cs.Present[outIx] = c.present[rowIx]
			switch c.valueType {
			case format.ValueF64:
				cs.F64[outIx] = c.f64[rowIx]
			case format.ValueI64:
				cs.I64[outIx] = c.i64[rowIx]
			case format.ValueU16Angle:
				cs.Angle[outIx] = c.angle[rowIx]
			case format.ValueU8Percent:
				cs.Percent[outIx] = c.percent[rowIx]
			}
		}

		columns = append(columns, cs)
	}

	if s.rowNotesEnabled {
		notes = make([]string, len(s.sortedTs))
		for outIx, ts := range s.sortedTs {
			rowIx := s.tsToRow[ts]
			if rowIx < len(s.rowNotes) {
				notes[outIx] = s.rowNotes[rowIx]
			}
		}
	}

	return timestamps, columns, notes
}
