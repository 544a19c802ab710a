package engine

import (
	"math"

	"github.com/CasperHK/SkyPulseDB/errs"
	"github.com/CasperHK/SkyPulseDB/format"
	"github.com/CasperHK/SkyPulseDB/memtable"
	"github.com/CasperHK/SkyPulseDB/wal"
)

// Observation is one row of the ingest API: a station, a timestamp, and a
// set of column values. Values is keyed by column name; a column absent
// from the map is null for that row.
type Observation struct {
	StationID string
	TsMicros  int64
	Values    map[string]float64
	Note      string
}

// Ack confirms a successful write.
type Ack struct {
	SeriesKey SeriesKey
}

// Write validates, durably WAL-appends, and MemTable-inserts one row. It
// fails with a Validation, Backpressure, Durability or Fatal-kind error
// without partially mutating state.
func (e *Engine) Write(obs Observation) (Ack, error) {
	if err := e.admitWrite(); err != nil {
		return Ack{}, err
	}

	walValues, err := e.validateAndEncode(obs)
	if err != nil {
		return Ack{}, err
	}

	sk := SeriesKey{StationID: obs.StationID, PartitionDay: partitionDay(obs.TsMicros)}

	if err := e.wal.AppendWrite(wal.WriteRecord{StationID: obs.StationID, Ts: obs.TsMicros, Values: walValues}); err != nil {
		return Ack{}, errs.NewDurability("engine: wal append failed", err)
	}

	mt := e.memtableFor(sk)
	shouldSeal, err := mt.Insert(toMemtableRow(obs, walValues))
	if err != nil {
		return Ack{}, err
	}
	if shouldSeal {
		e.enqueueSeal(sk, mt)
	}

	return Ack{SeriesKey: sk}, nil
}

// WriteBatch validates every row before appending any WAL record, so a batch
// containing an invalid row applies nothing. Valid rows are then appended to
// the WAL and inserted one at a time; a WAL append or MemTable insert failure
// partway through leaves the rows before it applied.
func (e *Engine) WriteBatch(rows []Observation) ([]Ack, error) {
	if err := e.admitWrite(); err != nil {
		return nil, err
	}

	encoded := make([]map[uint16]wal.Value, len(rows))
	for i, obs := range rows {
		walValues, err := e.validateAndEncode(obs)
		if err != nil {
			return nil, err
		}
		encoded[i] = walValues
	}

	acks := make([]Ack, len(rows))
	for i, obs := range rows {
		sk := SeriesKey{StationID: obs.StationID, PartitionDay: partitionDay(obs.TsMicros)}
		if err := e.wal.AppendWrite(wal.WriteRecord{StationID: obs.StationID, Ts: obs.TsMicros, Values: encoded[i]}); err != nil {
			return nil, errs.NewDurability("engine: wal append failed", err)
		}

		mt := e.memtableFor(sk)
		shouldSeal, err := mt.Insert(toMemtableRow(obs, encoded[i]))
		if err != nil {
			return nil, err
		}
		if shouldSeal {
			e.enqueueSeal(sk, mt)
		}
		acks[i] = Ack{SeriesKey: sk}
	}

	return acks, nil
}

func toMemtableRow(obs Observation, walValues map[uint16]wal.Value) memtable.Row {
	values := make(map[uint16]memtable.Value, len(walValues))
	for id, v := range walValues {
		values[id] = memtable.Value{
			Type: format.ValueType(v.Type), F64: v.F64, I64: v.I64,
			Angle: v.U16, Percent: v.U8, Present: !v.IsNull,
		}
	}

	return memtable.Row{Ts: obs.TsMicros, Values: values, Note: obs.Note}
}

// validateAndEncode checks schema membership, value ranges and NaN
// rejection. NaN is rejected at this boundary rather than the codec layer,
// since Gorilla XOR relies on "XOR-equal implies value-equal".
func (e *Engine) validateAndEncode(obs Observation) (map[uint16]wal.Value, error) {
	if obs.StationID == "" {
		return nil, errs.ErrSchemaMismatch
	}

	out := make(map[uint16]wal.Value, len(obs.Values))
	for name, raw := range obs.Values {
		col, ok := e.columnsByName[name]
		if !ok {
			return nil, errs.ErrSchemaMismatch
		}

		v := wal.Value{Type: byte(col.Type)}
		switch col.Type {
		case format.ValueF64:
			if math.IsNaN(raw) {
				return nil, errs.ErrNaNDisallowed
			}
			v.F64 = raw
		case format.ValueI64:
			v.I64 = int64(raw)
		case format.ValueU16Angle:
			if raw < 0 || raw > 359 {
				return nil, errs.ErrOutOfRangeValue
			}
			v.U16 = uint16(raw)
		case format.ValueU8Percent:
			if raw < 0 || raw > 100 {
				return nil, errs.ErrOutOfRangeValue
			}
			v.U8 = uint8(raw)
		default:
			return nil, errs.ErrSchemaMismatch
		}
		out[col.ID] = v
	}

	return out, nil
}

// admitWrite enforces two back-pressure gates: flush queue depth
// (ErrQueueFull) and total MemTable bytes against TotalMemTableByteCeiling
// (reported as ErrDiskLow). Free disk space for the WAL is not checked.
func (e *Engine) admitWrite() error {
	if len(e.flushQueue) >= e.cfg.FlushQueueDepth {
		return errs.ErrQueueFull
	}

	var totalBytes int64
	e.series.forEach(func(mt *memtable.MemTable) {
		totalBytes += mt.ApproxBytes()
	})

	if totalBytes >= e.cfg.TotalMemTableByteCeiling {
		return errs.ErrDiskLow
	}

	return nil
}
