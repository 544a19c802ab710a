// Package chunkfile implements the on-disk chunk layout: one immutable,
// column-oriented file per series key (station_id, partition_day), with a
// fixed header, per-column block streams, and a CRC32C footer. Layout
// mirrors mebo's section-based binary format (section/numeric_header.go and
// section/const.go), generalized from mebo's single numeric-blob shape to
// multi-column, multi-codec rows.
package chunkfile

import "fmt"

// Magic identifies a SkyPulseDB chunk file.
var Magic = [4]byte{'S', 'K', 'P', 'D'}

// Version is the current on-disk format version.
const Version uint16 = 1

// Flag bits for the chunk header.
const (
	FlagRowNotes uint16 = 1 << 0 // per-row free-form notes section present
)

// footerSize is CRC32C(4) + Magic(4).
const footerSize = 8

// maxStationIDLen bounds the station_id field to 64 UTF-8 bytes.
const maxStationIDLen = 64

// maxColumnNameLen bounds a column descriptor's name field width (u8 length prefix).
const maxColumnNameLen = 255

// ColumnDescriptor is the file-level metadata for one column.
type ColumnDescriptor struct {
	ID         uint16
	Name       string
	PhysType   byte // format.ValueType
	Codec      byte // format.CodecType
	BlockCount uint32
	Offset     uint64 // byte offset of this column's block stream from file start
	Length     uint64 // total byte length of this column's block stream
}

// BlockHeader precedes every block's payload in a column's block stream.
// RowCount and FirstTs let a reader identify and randomly seek to a block
// without decoding any prior one.
type BlockHeader struct {
	RowCount         uint32
	FirstTs          int64
	Compression      byte // format.CompressionType
	RawPayloadLen    uint32
	StoredPayloadLen uint32
}

const blockHeaderSize = 4 + 8 + 1 + 4 + 4

// Header is the parsed fixed-layout prefix of a chunk file, used by both
// the writer (to compute offsets) and the reader (to validate structure).
type Header struct {
	StationID    string
	PartitionDay int32
	RowCount     uint32
	FirstTs      int64
	LastTs       int64
	Flags        uint16
	Columns      []ColumnDescriptor
}

func validateStationID(id string) error {
	if len(id) == 0 || len(id) > maxStationIDLen {
		return fmt.Errorf("chunkfile: station_id length %d out of range (1..%d)", len(id), maxStationIDLen)
	}

	return nil
}
