package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
)

// crc32cTable is built from the same Castagnoli polynomial as the chunkfile
// footer checksum's own table; see chunkfile/writer.go for why this is the
// one stdlib-only building block in the format layer.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// segmentName formats a WAL segment's file name from its sequence number:
// `NNNNNNNN.wal` (monotonic u64 names, zero-padded to 8 digits for readable
// directory listings; sequence numbers beyond 8 digits still sort correctly
// since they're wider, just less tidy).
func segmentName(seq uint64) string {
	return fmt.Sprintf("%08d.wal", seq)
}

// segmentHeaderSize is the 8-byte base timestamp written at the start of
// every segment: WRITE record payloads delta-encode their timestamp against
// this base as a zigzag varint.
const segmentHeaderSize = 8

// segment is one open WAL file: an 8-byte base timestamp followed by an
// append-only sequence of framed records.
type segment struct {
	seq    uint64
	path   string
	f      *os.File
	size   int64
	baseTs int64
}

func createSegment(dir string, seq uint64, baseTs int64) (*segment, error) {
	path := filepath.Join(dir, segmentName(seq))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}

	var hdr [segmentHeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(baseTs))
	if _, err := f.Write(hdr[:]); err != nil {
		f.Close()

		return nil, err
	}

	return &segment{seq: seq, path: path, f: f, size: segmentHeaderSize, baseTs: baseTs}, nil
}

func openSegmentForAppend(dir string, seq uint64) (*segment, error) {
	path := filepath.Join(dir, segmentName(seq))
	baseTs, err := readSegmentBaseTs(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, err
	}

	return &segment{seq: seq, path: path, f: f, size: info.Size(), baseTs: baseTs}, nil
}

func readSegmentBaseTs(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var hdr [segmentHeaderSize]byte
	if _, err := f.Read(hdr[:]); err != nil {
		return 0, err
	}

	return int64(binary.LittleEndian.Uint64(hdr[:])), nil
}

// appendFrame writes `u32 length | u32 crc32c(payload) | u8 kind | payload`
// and returns the number of bytes written.
func (s *segment) appendFrame(kind RecordKind, payload []byte) (int, error) {
	var header [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload))+1) // +1 for the kind byte
	crc := crc32.Checksum(payload, crc32cTable)
	binary.LittleEndian.PutUint32(header[4:8], crc)
	header[8] = byte(kind)

	n1, err := s.f.Write(header[:])
	if err != nil {
		return n1, err
	}
	n2, err := s.f.Write(payload)
	total := n1 + n2
	s.size += int64(total)
	if err != nil {
		return total, err
	}

	return total, nil
}

func (s *segment) sync() error {
	return s.f.Sync()
}

func (s *segment) close() error {
	return s.f.Close()
}
