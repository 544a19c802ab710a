package chunkfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/CasperHK/SkyPulseDB/bitio"
	"github.com/CasperHK/SkyPulseDB/codec"
	"github.com/CasperHK/SkyPulseDB/compress"
	"github.com/CasperHK/SkyPulseDB/errs"
	"github.com/CasperHK/SkyPulseDB/format"
)

// crc32cTable is the Castagnoli CRC32 table used for chunk footers; the WAL
// builds an identical table of its own for record checksums
// (wal/segment.go). No third-party CRC32C package is exercised
// elsewhere in this module, so this is the one deliberate stdlib-only
// building block in the format layer; see DESIGN.md.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// tsColumnID is the reserved column id for the row timestamp stream, which
// every chunk carries as an ordinary delta-of-delta-encoded column so a
// random-access reader can identify block boundaries without special-casing it.
const tsColumnID uint16 = 0

// ColumnInput is one column's worth of row data handed to WriteChunk. Exactly
// one of the typed slices is populated, selected by Type. Present marks which
// rows hold a value; nil means every row is present.
type ColumnInput struct {
	ID      uint16
	Name    string
	Type    format.ValueType
	F64     []float64
	I64     []int64
	Angle   []uint16
	Percent []uint8
	Present []bool
}

// WriteOptions tunes the optional block-compression pass.
type WriteOptions struct {
	EnableBlockCompression bool
	CompressionCandidates  []format.CompressionType
	EnableRowNotes         bool
}

// DefaultWriteOptions compresses with every candidate codec and keeps only
// a clear win (see compress.minRatioToKeep).
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{
		EnableBlockCompression: true,
		CompressionCandidates: []format.CompressionType{
			format.CompressionLZ4,
			format.CompressionZstd,
		},
	}
}

// WriteResult summarizes a successfully published chunk file, the
// information a chunk-store entry is built from.
type WriteResult struct {
	Path     string
	RowCount uint32
	FirstTs  int64
	LastTs   int64
	ByteSize int64
}

// WriteChunk encodes one series key's rows into a chunk file at path, via
// an atomic tmp-file + fsync + rename sequence. timestamps must be
// non-decreasing, already enforced by the MemTable before sealing.
func WriteChunk(path, stationID string, partitionDay int32, timestamps []int64, columns []ColumnInput, notes []string, opts WriteOptions) (WriteResult, error) {
	if err := validateStationID(stationID); err != nil {
		return WriteResult{}, errs.NewValidation(err.Error())
	}
	rowCount := len(timestamps)
	if rowCount == 0 {
		return WriteResult{}, fmt.Errorf("chunkfile: refusing to write a chunk with zero rows")
	}
	for i := 1; i < rowCount; i++ {
		if timestamps[i] < timestamps[i-1] {
			return WriteResult{}, errs.NewValidation("chunkfile: timestamps must be non-decreasing")
		}
	}

	allColumns := make([]ColumnInput, 0, len(columns)+1)
	allColumns = append(allColumns, ColumnInput{ID: tsColumnID, Name: "ts", Type: format.ValueI64, I64: timestamps})
	allColumns = append(allColumns, columns...)

	body := &bytes.Buffer{}
	descriptors := make([]ColumnDescriptor, 0, len(allColumns))

	for _, col := range allColumns {
		streamStart := body.Len()
		blockCount, err := writeColumnBlockStream(body, col, rowCount, timestamps, opts)
		if err != nil {
			return WriteResult{}, fmt.Errorf("chunkfile: encoding column %q: %w", col.Name, err)
		}
		if len(col.Name) > maxColumnNameLen {
			return WriteResult{}, errs.NewValidation(fmt.Sprintf("chunkfile: column name %q exceeds %d bytes", col.Name, maxColumnNameLen))
		}
		descriptors = append(descriptors, ColumnDescriptor{
			ID:         col.ID,
			Name:       col.Name,
			PhysType:   byte(col.Type),
			Codec:      byte(format.DefaultCodecFor(col.Type)),
			BlockCount: blockCount,
			Offset:     uint64(streamStart),
			Length:     uint64(body.Len() - streamStart),
		})
	}

	var flags uint16
	if opts.EnableRowNotes && len(notes) == rowCount {
		flags |= FlagRowNotes
	}

	hdr := Header{
		StationID:    stationID,
		PartitionDay: partitionDay,
		RowCount:     uint32(rowCount),
		FirstTs:      timestamps[0],
		LastTs:       timestamps[rowCount-1],
		Flags:        flags,
		Columns:      descriptors,
	}

	// Column descriptor offsets above are relative to the start of the
	// column-block-stream section; the header itself precedes that section,
	// so they need shifting by the header's own encoded length. The header's
	// length is independent of the offset values it carries (all fixed-width
	// fields), so writing it once to measure, then again with corrected
	// offsets, reproduces an identical length both times.
	measure := &bytes.Buffer{}
	if err := writeHeader(measure, hdr); err != nil {
		return WriteResult{}, err
	}
	headerLen := uint64(measure.Len())
	for i := range hdr.Columns {
		hdr.Columns[i].Offset += headerLen
	}

	out := &bytes.Buffer{}
	if err := writeHeader(out, hdr); err != nil {
		return WriteResult{}, err
	}
	out.Write(body.Bytes())

	if flags&FlagRowNotes != 0 {
		writeNotesSection(out, notes)
	}

	crc := crc32.Checksum(out.Bytes(), crc32cTable)
	var footer [footerSize]byte
	binary.LittleEndian.PutUint32(footer[0:4], crc)
	copy(footer[4:8], Magic[:])
	out.Write(footer[:])

	if err := atomicWriteFile(path, out.Bytes()); err != nil {
		return WriteResult{}, errs.NewPersistence("chunkfile: writing chunk file", err)
	}

	return WriteResult{
		Path:     path,
		RowCount: hdr.RowCount,
		FirstTs:  hdr.FirstTs,
		LastTs:   hdr.LastTs,
		ByteSize: int64(out.Len()),
	}, nil
}

func writeHeader(out *bytes.Buffer, hdr Header) error {
	out.Write(Magic[:])
	writeU16(out, Version)
	writeU16(out, hdr.Flags)

	if len(hdr.StationID) > maxStationIDLen {
		return errs.NewValidation("chunkfile: station_id too long")
	}
	writeU16(out, uint16(len(hdr.StationID)))
	out.WriteString(hdr.StationID)

	writeI32(out, hdr.PartitionDay)
	writeU32(out, hdr.RowCount)
	writeI64(out, hdr.FirstTs)
	writeI64(out, hdr.LastTs)
	writeU16(out, uint16(len(hdr.Columns)))

	for _, cd := range hdr.Columns {
		writeU16(out, cd.ID)
		out.WriteByte(byte(len(cd.Name)))
		out.WriteString(cd.Name)
		out.WriteByte(cd.PhysType)
		out.WriteByte(cd.Codec)
		writeU32(out, cd.BlockCount)
		writeU64(out, cd.Offset)
		writeU64(out, cd.Length)
	}

	return nil
}

func writeNotesSection(out *bytes.Buffer, notes []string) {
	for _, n := range notes {
		writeU16(out, uint16(len(n)))
		out.WriteString(n)
	}
}

// writeColumnBlockStream splits one column's rows into format.BlockRows-sized
// blocks, encodes each with the column's codec, optionally wraps it with a
// block compressor, and appends `block_header | payload` records to out.
func writeColumnBlockStream(out *bytes.Buffer, col ColumnInput, rowCount int, timestamps []int64, opts WriteOptions) (uint32, error) {
	var blockCount uint32

	for start := 0; start < rowCount; start += format.BlockRows {
		end := start + format.BlockRows
		if end > rowCount {
			end = rowCount
		}

		presenceBytes, encodedBytes, err := encodeBlock(col, start, end)
		if err != nil {
			return 0, err
		}

		rawPayload := append(append([]byte{}, presenceBytes...), encodedBytes...)
		stored := rawPayload
		compression := format.CompressionNone

		if opts.EnableBlockCompression && len(opts.CompressionCandidates) > 0 {
			best, chosen, err := compress.ChooseBest(rawPayload, opts.CompressionCandidates)
			if err != nil {
				return 0, err
			}
			if chosen != format.CompressionNone {
				stored = best
				compression = chosen
			}
		}

		bh := BlockHeader{
			RowCount:         uint32(end - start),
			FirstTs:          timestamps[start],
			Compression:      byte(compression),
			RawPayloadLen:    uint32(len(rawPayload)),
			StoredPayloadLen: uint32(len(stored)),
		}
		writeBlockHeader(out, bh)
		out.Write(stored)

		blockCount++
	}

	return blockCount, nil
}

// encodeBlock builds the presence bitmap and codec-encoded value bytes for
// rows [start,end) of one column.
func encodeBlock(col ColumnInput, start, end int) (presence, encoded []byte, err error) {
	n := end - start
	presentMask := make([]bool, n)
	presentCount := 0
	for i := 0; i < n; i++ {
		p := col.Present == nil || col.Present[start+i]
		presentMask[i] = p
		if p {
			presentCount++
		}
	}

	presence = packPresence(presentMask)

	switch col.Type {
	case format.ValueF64:
		enc := codec.NewGorillaEncoder()
		defer enc.Finish()
		for i := 0; i < n; i++ {
			if presentMask[i] {
				if err := enc.Write(col.F64[start+i]); err != nil {
					return nil, nil, err
				}
			}
		}
		encoded = append([]byte{}, enc.Bytes()...)
	case format.ValueI64:
		enc := codec.NewDeltaDeltaEncoder()
		defer enc.Finish()
		for i := 0; i < n; i++ {
			if presentMask[i] {
				if err := enc.Write(col.I64[start+i]); err != nil {
					return nil, nil, err
				}
			}
		}
		encoded = append([]byte{}, enc.Bytes()...)
	case format.ValueU16Angle:
		enc := codec.NewAngleEncoder()
		defer enc.Finish()
		for i := 0; i < n; i++ {
			if presentMask[i] {
				if err := enc.WriteValue(int(col.Angle[start+i])); err != nil {
					return nil, nil, err
				}
			}
		}
		encoded = append([]byte{}, enc.Bytes()...)
	case format.ValueU8Percent:
		enc := codec.NewPercentEncoder()
		defer enc.Finish()
		for i := 0; i < n; i++ {
			if presentMask[i] {
				if err := enc.WriteValue(int(col.Percent[start+i])); err != nil {
					return nil, nil, err
				}
			}
		}
		encoded = append([]byte{}, enc.Bytes()...)
	default:
		return nil, nil, fmt.Errorf("chunkfile: unsupported column type %s", col.Type)
	}

	return presence, encoded, nil
}

func packPresence(mask []bool) []byte {
	w := bitio.NewWriter()
	defer w.Release()

	for _, p := range mask {
		if p {
			w.PutBit(1)
		} else {
			w.PutBit(0)
		}
	}
	w.AlignByte()

	return append([]byte(nil), w.Flush()...)
}

func writeBlockHeader(out *bytes.Buffer, bh BlockHeader) {
	writeU32(out, bh.RowCount)
	writeI64(out, bh.FirstTs)
	out.WriteByte(bh.Compression)
	writeU32(out, bh.RawPayloadLen)
	writeU32(out, bh.StoredPayloadLen)
}

func writeU16(out *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	out.Write(b[:])
}

func writeU32(out *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	out.Write(b[:])
}

func writeI32(out *bytes.Buffer, v int32) { writeU32(out, uint32(v)) }

func writeU64(out *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	out.Write(b[:])
}

func writeI64(out *bytes.Buffer, v int64) { writeU64(out, uint64(v)) }

// atomicWriteFile writes data to a temp file in path's directory, fsyncs it,
// renames it into place, then fsyncs the parent directory.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)

		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)

		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)

		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)

		return err
	}

	if dirF, err := os.Open(dir); err == nil {
		_ = dirF.Sync()
		_ = dirF.Close()
	}

	return nil
}
