// Package memtable implements the in-memory write buffer: one
// column-oriented, append-only buffer per series key, with a sorted
// timestamp index for range reads and O(1) pointer-swap sealing. The column
// layout mirrors chunkfile's own per-type dispatch (explicit switch over
// format.ValueType, one typed slice per column) rather than a generic or
// reflection-based column store, favoring explicit, allocation-light
// encode/decode paths over abstraction.
package memtable

import (
	"sort"
	"sync"
	"time"

	"github.com/CasperHK/SkyPulseDB/errs"
	"github.com/CasperHK/SkyPulseDB/format"
)

// SeriesKey identifies one MemTable and one chunk file's worth of rows:
// a station and the UTC day its rows partition into.
type SeriesKey struct {
	StationID    string
	PartitionDay int32
}

// ColumnDef declares one column's identity and physical type. A MemTable's
// column set is fixed at construction; schema evolution is additive-only,
// so new columns arrive as a new MemTable generation, not a mutation of a
// live one.
type ColumnDef struct {
	ID   uint16
	Name string
	Type format.ValueType
}

// Value is one column's observation for one row.
type Value struct {
	Type    format.ValueType
	F64     float64
	I64     int64
	Angle   uint16
	Percent uint8
	Present bool
}

// Row is one observation handed to Insert.
type Row struct {
	Ts     int64
	Values map[uint16]Value
	Note   string
}

// Limits configures the capacity thresholds that trigger a seal.
type Limits struct {
	MaxRows  int
	MaxBytes int64
}

// DefaultLimits returns the stock 64K-rows-or-64MiB seal thresholds.
func DefaultLimits() Limits {
	return Limits{MaxRows: 64 * 1024, MaxBytes: 64 << 20}
}

type columnBuffer struct {
	valueType format.ValueType
	name      string
	present   []bool
	f64       []float64
	i64       []int64
	angle     []uint16
	percent   []uint8
}

func newColumnBuffer(def ColumnDef) *columnBuffer {
	return &columnBuffer{valueType: def.Type, name: def.Name}
}

// append writes one row's worth of a single column, keeping every slice in
// lockstep with rowTs (nil/zero-value entries for rows where the column is
// absent).
func (c *columnBuffer) append(v Value) {
	c.present = append(c.present, v.Present)
	switch c.valueType {
	case format.ValueF64:
		c.f64 = append(c.f64, v.F64)
	case format.ValueI64:
		c.i64 = append(c.i64, v.I64)
	case format.ValueU16Angle:
		c.angle = append(c.angle, v.Angle)
	case format.ValueU8Percent:
		c.percent = append(c.percent, v.Percent)
	}
}

// overwrite replaces row_ix's value in place, used when a duplicate ts
// supersedes an earlier row: last arrival wins.
func (c *columnBuffer) overwrite(rowIx int, v Value) {
	c.present[rowIx] = v.Present
	switch c.valueType {
	case format.ValueF64:
		c.f64[rowIx] = v.F64
	case format.ValueI64:
		c.i64[rowIx] = v.I64
	case format.ValueU16Angle:
		c.angle[rowIx] = v.Angle
	case format.ValueU8Percent:
		c.percent[rowIx] = v.Percent
	}
}

// valueAt decodes row_ix's value for this column, shared by MemTable.Read
// (live, unsealed reads) and Snapshot's equivalent.
func (c *columnBuffer) valueAt(rowIx int) Value {
	v := Value{Type: c.valueType, Present: c.present[rowIx]}
	switch c.valueType {
	case format.ValueF64:
		v.F64 = c.f64[rowIx]
	case format.ValueI64:
		v.I64 = c.i64[rowIx]
	case format.ValueU16Angle:
		v.Angle = c.angle[rowIx]
	case format.ValueU8Percent:
		v.Percent = c.percent[rowIx]
	}

	return v
}

func (c *columnBuffer) approxBytes() int64 {
	switch c.valueType {
	case format.ValueF64, format.ValueI64:
		return int64(len(c.present)) * 9 // 8-byte value + 1-byte presence
	case format.ValueU16Angle:
		return int64(len(c.present)) * 3
	case format.ValueU8Percent:
		return int64(len(c.present)) * 2
	default:
		return int64(len(c.present))
	}
}

// MemTable is the mutable write buffer for one series key. Inserts take a
// single exclusive mutator lock; reads go through Seal, which hands the
// flusher an immutable snapshot of the same backing arrays without copying
// them (O(1) pointer swap).
type MemTable struct {
	mu sync.Mutex

	key       SeriesKey
	columns   map[uint16]*columnBuffer
	columnIDs []uint16 // insertion order, stable iteration for flush

	rowTs    []int64
	rowNotes []string
	tsToRow  map[int64]int
	sortedTs []int64 // unique, ascending; parallel lookups via tsToRow

	rowNotesEnabled bool
	limits          Limits
	createdAt       time.Time
	sealed          bool
}

// New creates an empty MemTable for a series key with a fixed column set.
func New(key SeriesKey, columns []ColumnDef, limits Limits, enableRowNotes bool) *MemTable {
	cols := make(map[uint16]*columnBuffer, len(columns))
	ids := make([]uint16, 0, len(columns))
	for _, def := range columns {
		cols[def.ID] = newColumnBuffer(def)
		ids = append(ids, def.ID)
	}

	return &MemTable{
		key:             key,
		columns:         cols,
		columnIDs:       ids,
		tsToRow:         make(map[int64]int),
		rowNotesEnabled: enableRowNotes,
		limits:          limits,
		createdAt:       time.Now(),
	}
}

// Key returns the series key this MemTable buffers.
func (m *MemTable) Key() SeriesKey { return m.key }

// Insert adds or supersedes one row. Returns true if the table has crossed a
// capacity threshold and should be sealed by the caller.
func (m *MemTable) Insert(row Row) (shouldSeal bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sealed {
		return false, errs.NewFatal("memtable: insert after seal", nil)
	}

	for id := range row.Values {
		if _, ok := m.columns[id]; !ok {
			return false, errs.NewValidation("memtable: unknown column id in row")
		}
	}

	if rowIx, exists := m.tsToRow[row.Ts]; exists {
		m.overwriteRow(rowIx, row)

		return m.overCapacity(), nil
	}

	rowIx := len(m.rowTs)
	m.rowTs = append(m.rowTs, row.Ts)
	if m.rowNotesEnabled {
		m.rowNotes = append(m.rowNotes, row.Note)
	}
	for _, id := range m.columnIDs {
		m.columns[id].append(row.Values[id])
	}
	m.tsToRow[row.Ts] = rowIx
	m.insertSorted(row.Ts)

	return m.overCapacity(), nil
}

func (m *MemTable) overwriteRow(rowIx int, row Row) {
	if m.rowNotesEnabled && rowIx < len(m.rowNotes) {
		m.rowNotes[rowIx] = row.Note
	}
	for _, id := range m.columnIDs {
		m.columns[id].overwrite(rowIx, row.Values[id])
	}
}

// insertSorted keeps sortedTs ascending via a binary-search insertion point;
// out-of-order writes are expected to be rare relative to in-order ingest,
// so an O(n) slice insert is acceptable for a buffer bounded at MaxRows.
func (m *MemTable) insertSorted(ts int64) {
	i := sort.Search(len(m.sortedTs), func(i int) bool { return m.sortedTs[i] >= ts })
	m.sortedTs = append(m.sortedTs, 0)
	copy(m.sortedTs[i+1:], m.sortedTs[i:])
	m.sortedTs[i] = ts
}

func (m *MemTable) overCapacity() bool {
	if len(m.sortedTs) >= m.limits.MaxRows {
		return true
	}

	return m.approxBytes() >= m.limits.MaxBytes
}

func (m *MemTable) approxBytes() int64 {
	var total int64
	total += int64(len(m.rowTs)) * 8
	for _, c := range m.columns {
		total += c.approxBytes()
	}
	for _, n := range m.rowNotes {
		total += int64(len(n))
	}

	return total
}

// RowCount returns the number of distinct timestamps currently buffered.
func (m *MemTable) RowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sortedTs)
}

// ApproxBytes returns the current resident-byte estimate used for
// back-pressure accounting against the total MemTable byte ceiling.
func (m *MemTable) ApproxBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.approxBytes()
}

// Seal marks the MemTable immutable and returns a read-only Snapshot over
// its backing arrays. Sealing is O(1): no data is copied, only a boolean
// flip under the mutator lock. Subsequent Insert calls fail; the caller is
// expected to route new writes to a freshly constructed MemTable for the
// same series key.
func (m *MemTable) Seal() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sealed = true

	return &Snapshot{
		key:             m.key,
		columns:         m.columns,
		columnIDs:       m.columnIDs,
		rowTs:           m.rowTs,
		rowNotes:        m.rowNotes,
		sortedTs:        m.sortedTs,
		tsToRow:         m.tsToRow,
		rowNotesEnabled: m.rowNotesEnabled,
		createdAt:       m.createdAt,
	}
}

// IsSealed reports whether Seal has already been called.
func (m *MemTable) IsSealed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sealed
}

// Read returns rows in [t0,t1] from the still-live (unsealed) buffer without
// sealing it, for a scan that must see a generation's latest writes before
// it has crossed a seal threshold. Unlike Seal, this takes only the mutator
// lock for the duration of the copy and leaves the MemTable open for
// further Insert calls.
func (m *MemTable) Read(t0, t1 int64) []Row {
	m.mu.Lock()
	defer m.mu.Unlock()

	lo := sort.Search(len(m.sortedTs), func(i int) bool { return m.sortedTs[i] >= t0 })
	hi := sort.Search(len(m.sortedTs), func(i int) bool { return m.sortedTs[i] > t1 })

	rows := make([]Row, 0, hi-lo)
	for _, ts := range m.sortedTs[lo:hi] {
		rowIx := m.tsToRow[ts]
		values := make(map[uint16]Value, len(m.columnIDs))
		for _, id := range m.columnIDs {
			values[id] = m.columns[id].valueAt(rowIx)
		}
		row := Row{Ts: ts, Values: values}
		if m.rowNotesEnabled && rowIx < len(m.rowNotes) {
			row.Note = m.rowNotes[rowIx]
		}
		rows = append(rows, row)
	}

	return rows
}

// Age returns how long this MemTable has been open, for age-triggered
// sealing (the flusher seals generations older than a configured max age
// even if under the row/byte thresholds).
func (m *MemTable) Age() time.Duration {
	return time.Since(m.createdAt)
}
