package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// encodeWrite builds a KindWrite payload: length-prefixed station id, a
// zigzag-varint timestamp delta from segmentBaseTs, a uvarint value count,
// then per column in ascending id order its u16 id, type tag, null flag and
// (unless null) its packed value.
func encodeWrite(rec WriteRecord, segmentBaseTs int64) []byte {
	buf := &bytes.Buffer{}

	writeLenPrefixedString(buf, rec.StationID)

	delta := rec.Ts - segmentBaseTs
	var varintBuf [binary.MaxVarintLen64]byte
	n := binary.PutVarint(varintBuf[:], delta)
	buf.Write(varintBuf[:n])

	ids := make([]uint16, 0, len(rec.Values))
	for id := range rec.Values {
		ids = append(ids, id)
	}
	sortUint16(ids)

	var cntBuf [binary.MaxVarintLen64]byte
	cn := binary.PutUvarint(cntBuf[:], uint64(len(ids)))
	buf.Write(cntBuf[:cn])

	for _, id := range ids {
		v := rec.Values[id]
		var idBuf [2]byte
		binary.LittleEndian.PutUint16(idBuf[:], id)
		buf.Write(idBuf[:])
		buf.WriteByte(v.Type)
		if v.IsNull {
			buf.WriteByte(1)

			continue
		}
		buf.WriteByte(0)

		switch v.Type {
		case 0x1: // format.ValueF64
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.F64))
			buf.Write(b[:])
		case 0x2: // format.ValueI64
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(v.I64))
			buf.Write(b[:])
		case 0x3: // format.ValueU16Angle
			var b [2]byte
			binary.LittleEndian.PutUint16(b[:], v.U16)
			buf.Write(b[:])
		case 0x4: // format.ValueU8Percent
			buf.WriteByte(v.U8)
		}
	}

	return buf.Bytes()
}

func decodeWrite(data []byte, segmentBaseTs int64) (WriteRecord, error) {
	r := bytes.NewReader(data)

	stationID, err := readLenPrefixedString(r)
	if err != nil {
		return WriteRecord{}, fmt.Errorf("wal: decoding station_id: %w", err)
	}

	delta, err := binary.ReadVarint(r)
	if err != nil {
		return WriteRecord{}, fmt.Errorf("wal: decoding ts delta: %w", err)
	}

	count, err := binary.ReadUvarint(r)
	if err != nil {
		return WriteRecord{}, fmt.Errorf("wal: decoding value count: %w", err)
	}

	values := make(map[uint16]Value, count)
	for i := uint64(0); i < count; i++ {
		var idBuf [2]byte
		if _, err := r.Read(idBuf[:]); err != nil {
			return WriteRecord{}, fmt.Errorf("wal: decoding column id: %w", err)
		}
		id := binary.LittleEndian.Uint16(idBuf[:])

		vtype, err := r.ReadByte()
		if err != nil {
			return WriteRecord{}, fmt.Errorf("wal: decoding value type: %w", err)
		}
		isNull, err := r.ReadByte()
		if err != nil {
			return WriteRecord{}, fmt.Errorf("wal: decoding null flag: %w", err)
		}
		if isNull == 1 {
			values[id] = Value{Type: vtype, IsNull: true}

			continue
		}

		switch vtype {
		case 0x1:
			var b [8]byte
			if _, err := r.Read(b[:]); err != nil {
				return WriteRecord{}, fmt.Errorf("wal: decoding f64 value: %w", err)
			}
			values[id] = Value{Type: vtype, F64: math.Float64frombits(binary.LittleEndian.Uint64(b[:]))}
		case 0x2:
			var b [8]byte
			if _, err := r.Read(b[:]); err != nil {
				return WriteRecord{}, fmt.Errorf("wal: decoding i64 value: %w", err)
			}
			values[id] = Value{Type: vtype, I64: int64(binary.LittleEndian.Uint64(b[:]))}
		case 0x3:
			var b [2]byte
			if _, err := r.Read(b[:]); err != nil {
				return WriteRecord{}, fmt.Errorf("wal: decoding angle value: %w", err)
			}
			values[id] = Value{Type: vtype, U16: binary.LittleEndian.Uint16(b[:])}
		case 0x4:
			b, err := r.ReadByte()
			if err != nil {
				return WriteRecord{}, fmt.Errorf("wal: decoding percent value: %w", err)
			}
			values[id] = Value{Type: vtype, U8: b}
		default:
			return WriteRecord{}, fmt.Errorf("wal: unknown value type tag %d", vtype)
		}
	}

	return WriteRecord{StationID: stationID, Ts: segmentBaseTs + delta, Values: values}, nil
}

func encodeFlushBegin(rec FlushBeginRecord) []byte {
	buf := &bytes.Buffer{}
	writeLenPrefixedString(buf, rec.StationID)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(rec.PartitionDay))
	buf.Write(b[:])

	return buf.Bytes()
}

func decodeFlushBegin(data []byte) (FlushBeginRecord, error) {
	r := bytes.NewReader(data)
	stationID, err := readLenPrefixedString(r)
	if err != nil {
		return FlushBeginRecord{}, err
	}
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return FlushBeginRecord{}, err
	}

	return FlushBeginRecord{StationID: stationID, PartitionDay: int32(binary.LittleEndian.Uint32(b[:]))}, nil
}

func encodeFlushCommit(rec FlushCommitRecord) []byte {
	buf := &bytes.Buffer{}
	writeLenPrefixedString(buf, rec.StationID)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(rec.PartitionDay))
	buf.Write(b[:])
	writeLenPrefixedString(buf, rec.ChunkName)
	var tb [8]byte
	binary.LittleEndian.PutUint64(tb[:], uint64(rec.UpToTs))
	buf.Write(tb[:])

	return buf.Bytes()
}

func decodeFlushCommit(data []byte) (FlushCommitRecord, error) {
	r := bytes.NewReader(data)
	stationID, err := readLenPrefixedString(r)
	if err != nil {
		return FlushCommitRecord{}, err
	}
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return FlushCommitRecord{}, err
	}
	chunkName, err := readLenPrefixedString(r)
	if err != nil {
		return FlushCommitRecord{}, err
	}
	var tb [8]byte
	if _, err := r.Read(tb[:]); err != nil {
		return FlushCommitRecord{}, err
	}

	return FlushCommitRecord{
		StationID:    stationID,
		PartitionDay: int32(binary.LittleEndian.Uint32(b[:])),
		ChunkName:    chunkName,
		UpToTs:       int64(binary.LittleEndian.Uint64(tb[:])),
	}, nil
}

func writeLenPrefixedString(buf *bytes.Buffer, s string) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(len(s)))
	buf.Write(b[:])
	buf.WriteString(s)
}

func readLenPrefixedString(r *bytes.Reader) (string, error) {
	var b [2]byte
	if _, err := r.Read(b[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint16(b[:])
	s := make([]byte, n)
	if _, err := r.Read(s); err != nil {
		return "", err
	}

	return string(s), nil
}

func sortUint16(s []uint16) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
