package chunkfile

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"

	"github.com/CasperHK/SkyPulseDB/codec"
	"github.com/CasperHK/SkyPulseDB/compress"
	"github.com/CasperHK/SkyPulseDB/errs"
	"github.com/CasperHK/SkyPulseDB/format"
)

// Reader gives random access to one open chunk file: its parsed header, and
// a lazily-built per-block byte-offset index so a scan can binary-search a
// block by timestamp without decoding any prior block.
type Reader struct {
	data []byte
	Header
	blockIndex map[uint16][]blockIndexEntry
}

type blockIndexEntry struct {
	Offset  int
	FirstTs int64
	RowCount uint32
}

// Open reads path fully into memory, verifies the footer CRC, and parses the
// header. A CRC mismatch returns errs.ErrChunkChecksumFail so the caller can
// move the file to quarantine rather than delete it.
func Open(path string) (*Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if len(data) < footerSize {
		return nil, errs.ErrInvalidHeaderSize
	}

	body := data[:len(data)-footerSize]
	footer := data[len(data)-footerSize:]

	wantCRC := binary.LittleEndian.Uint32(footer[0:4])
	if string(footer[4:8]) != string(Magic[:]) {
		return nil, errs.ErrChunkChecksumFail
	}
	gotCRC := crc32.Checksum(body, crc32cTable)
	if gotCRC != wantCRC {
		return nil, errs.ErrChunkChecksumFail
	}

	hdr, err := parseHeader(body)
	if err != nil {
		return nil, errs.NewCorruption("chunkfile: parsing header", err)
	}

	return &Reader{data: body, Header: hdr, blockIndex: make(map[uint16][]blockIndexEntry)}, nil
}

func parseHeader(data []byte) (Header, error) {
	var hdr Header

	r := &byteCursor{data: data}

	var magic [4]byte
	if !r.readBytes(magic[:]) {
		return hdr, fmt.Errorf("chunkfile: truncated magic")
	}
	if magic != Magic {
		return hdr, fmt.Errorf("chunkfile: bad magic %x", magic)
	}

	_ = r.readU16() // version, currently unchecked beyond existing
	hdr.Flags = r.readU16()

	stationLen := r.readU16()
	stationBytes := make([]byte, stationLen)
	if !r.readBytes(stationBytes) {
		return hdr, fmt.Errorf("chunkfile: truncated station_id")
	}
	hdr.StationID = string(stationBytes)

	hdr.PartitionDay = int32(r.readU32())
	hdr.RowCount = r.readU32()
	hdr.FirstTs = int64(r.readU64())
	hdr.LastTs = int64(r.readU64())

	columnCount := r.readU16()
	hdr.Columns = make([]ColumnDescriptor, columnCount)
	for i := range hdr.Columns {
		var cd ColumnDescriptor
		cd.ID = r.readU16()
		nameLen := r.readByte()
		nameBytes := make([]byte, nameLen)
		r.readBytes(nameBytes)
		cd.Name = string(nameBytes)
		cd.PhysType = r.readByte()
		cd.Codec = r.readByte()
		cd.BlockCount = r.readU32()
		cd.Offset = r.readU64()
		cd.Length = r.readU64()
		hdr.Columns[i] = cd
	}

	if r.err != nil {
		return hdr, r.err
	}

	return hdr, nil
}

// Quarantine moves a chunk that failed its footer CRC check to
// <dataDir>/quarantine/ instead of leaving it in place or deleting it.
func Quarantine(dataDir, chunkPath string) (string, error) {
	qDir := filepath.Join(dataDir, "quarantine")
	if err := os.MkdirAll(qDir, 0o755); err != nil {
		return "", err
	}

	dest := filepath.Join(qDir, filepath.Base(chunkPath))
	if err := os.Rename(chunkPath, dest); err != nil {
		return "", err
	}

	return dest, nil
}

// BlockForTimestamp returns the index of the first block in cd's stream
// whose range may contain ts, found by binary-searching the lazily-built
// per-block FirstTs index. The column's blocks must already have been
// decoded once via one of the DecodeColumn* methods to populate the index;
// callers that only need the index should call one Decode pass up front.
func (r *Reader) BlockForTimestamp(columnID uint16, ts int64) (int, bool) {
	entries, ok := r.blockIndex[columnID]
	if !ok || len(entries) == 0 {
		return 0, false
	}

	idx := sort.Search(len(entries), func(i int) bool {
		return entries[i].FirstTs > ts
	})
	if idx == 0 {
		return 0, false
	}

	return idx - 1, true
}

// Column returns the descriptor for a named column, or false if absent.
func (r *Reader) Column(name string) (ColumnDescriptor, bool) {
	for _, cd := range r.Columns {
		if cd.Name == name {
			return cd, true
		}
	}

	return ColumnDescriptor{}, false
}

// DecodeColumnF64 decodes every block of a float64 column in order.
func (r *Reader) DecodeColumnF64(cd ColumnDescriptor) ([]float64, []bool, error) {
	out := make([]float64, 0, r.RowCount)
	presence := make([]bool, 0, r.RowCount)

	err := r.forEachBlock(cd, func(mask []bool, payload []byte) error {
		present := countPresent(mask)
		vals, err := codec.DecodeGorilla(payload, present)
		if err != nil {
			return err
		}
		vi := 0
		for _, p := range mask {
			presence = append(presence, p)
			if p {
				out = append(out, vals[vi])
				vi++
			} else {
				out = append(out, 0)
			}
		}

		return nil
	})

	return out, presence, err
}

// DecodeColumnI64 decodes every block of an int64 (e.g. timestamp) column.
func (r *Reader) DecodeColumnI64(cd ColumnDescriptor) ([]int64, []bool, error) {
	out := make([]int64, 0, r.RowCount)
	presence := make([]bool, 0, r.RowCount)

	err := r.forEachBlock(cd, func(mask []bool, payload []byte) error {
		present := countPresent(mask)
		vals, err := codec.DecodeDeltaDelta(payload, present)
		if err != nil {
			return err
		}
		vi := 0
		for _, p := range mask {
			presence = append(presence, p)
			if p {
				out = append(out, vals[vi])
				vi++
			} else {
				out = append(out, 0)
			}
		}

		return nil
	})

	return out, presence, err
}

// DecodeColumnAngle decodes every block of a wind-direction column.
func (r *Reader) DecodeColumnAngle(cd ColumnDescriptor) ([]uint16, []bool, error) {
	out := make([]uint16, 0, r.RowCount)
	presence := make([]bool, 0, r.RowCount)

	err := r.forEachBlock(cd, func(mask []bool, payload []byte) error {
		present := countPresent(mask)
		vals, err := codec.DecodeAngle(payload, present)
		if err != nil {
			return err
		}
		vi := 0
		for _, p := range mask {
			presence = append(presence, p)
			if p {
				out = append(out, vals[vi])
				vi++
			} else {
				out = append(out, format.AngleNullSentinel)
			}
		}

		return nil
	})

	return out, presence, err
}

// DecodeColumnPercent decodes every block of a percentage column.
func (r *Reader) DecodeColumnPercent(cd ColumnDescriptor) ([]uint8, []bool, error) {
	out := make([]uint8, 0, r.RowCount)
	presence := make([]bool, 0, r.RowCount)

	err := r.forEachBlock(cd, func(mask []bool, payload []byte) error {
		present := countPresent(mask)
		vals, err := codec.DecodePercent(payload, present)
		if err != nil {
			return err
		}
		vi := 0
		for _, p := range mask {
			presence = append(presence, p)
			if p {
				out = append(out, vals[vi])
				vi++
			} else {
				out = append(out, format.PercentNullSentinel)
			}
		}

		return nil
	})

	return out, presence, err
}

func countPresent(mask []bool) int {
	n := 0
	for _, p := range mask {
		if p {
			n++
		}
	}

	return n
}

// forEachBlock walks a column's block stream, decompressing each block's
// payload, splitting it into its presence bitmap and encoded value bytes,
// and invoking fn once per block in file order.
func (r *Reader) forEachBlock(cd ColumnDescriptor, fn func(mask []bool, encoded []byte) error) error {
	stream := r.data[cd.Offset : cd.Offset+cd.Length]
	pos := 0
	var entries []blockIndexEntry

	for i := uint32(0); i < cd.BlockCount; i++ {
		if pos+blockHeaderSize > len(stream) {
			return errs.NewCorruption("chunkfile: truncated block header", nil)
		}

		bh := readBlockHeader(stream[pos:])
		pos += blockHeaderSize

		if pos+int(bh.StoredPayloadLen) > len(stream) {
			return errs.NewCorruption("chunkfile: truncated block payload", nil)
		}
		stored := stream[pos : pos+int(bh.StoredPayloadLen)]
		pos += int(bh.StoredPayloadLen)

		entries = append(entries, blockIndexEntry{Offset: pos, FirstTs: bh.FirstTs, RowCount: bh.RowCount})

		payload := stored
		if format.CompressionType(bh.Compression) != format.CompressionNone {
			c, err := compress.GetCodec(format.CompressionType(bh.Compression))
			if err != nil {
				return err
			}
			payload, err = c.Decompress(stored)
			if err != nil {
				return errs.NewCorruption("chunkfile: decompressing block", err)
			}
		}
		if uint32(len(payload)) != bh.RawPayloadLen {
			return errs.NewCorruption("chunkfile: block payload length mismatch", nil)
		}

		presenceLen := (int(bh.RowCount) + 7) / 8
		if presenceLen > len(payload) {
			return errs.NewCorruption("chunkfile: presence bitmap truncated", nil)
		}
		mask := unpackPresence(payload[:presenceLen], int(bh.RowCount))
		encoded := payload[presenceLen:]

		if err := fn(mask, encoded); err != nil {
			return err
		}
	}

	r.blockIndex[cd.ID] = entries

	return nil
}

func readBlockHeader(data []byte) BlockHeader {
	var bh BlockHeader
	bh.RowCount = binary.LittleEndian.Uint32(data[0:4])
	bh.FirstTs = int64(binary.LittleEndian.Uint64(data[4:12]))
	bh.Compression = data[12]
	bh.RawPayloadLen = binary.LittleEndian.Uint32(data[13:17])
	bh.StoredPayloadLen = binary.LittleEndian.Uint32(data[17:21])

	return bh
}

func unpackPresence(data []byte, rowCount int) []bool {
	out := make([]bool, rowCount)
	for i := 0; i < rowCount; i++ {
		byteIdx := i / 8
		bitIdx := 7 - (i % 8)
		out[i] = data[byteIdx]&(1<<uint(bitIdx)) != 0
	}

	return out
}

// byteCursor is a tiny forward-only byte reader used by parseHeader; it
// records the first error and becomes a no-op after that, so callers can
// chain reads and check err once at the end.
type byteCursor struct {
	data []byte
	pos  int
	err  error
}

func (c *byteCursor) readBytes(dst []byte) bool {
	if c.err != nil {
		return false
	}
	if c.pos+len(dst) > len(c.data) {
		c.err = fmt.Errorf("chunkfile: unexpected end of header at offset %d", c.pos)

		return false
	}
	copy(dst, c.data[c.pos:c.pos+len(dst)])
	c.pos += len(dst)

	return true
}

func (c *byteCursor) readByte() byte {
	var b [1]byte
	c.readBytes(b[:])

	return b[0]
}

func (c *byteCursor) readU16() uint16 {
	var b [2]byte
	c.readBytes(b[:])

	return binary.LittleEndian.Uint16(b[:])
}

func (c *byteCursor) readU32() uint32 {
	var b [4]byte
	c.readBytes(b[:])

	return binary.LittleEndian.Uint32(b[:])
}

func (c *byteCursor) readU64() uint64 {
	var b [8]byte
	c.readBytes(b[:])

	return binary.LittleEndian.Uint64(b[:])
}
