package wal

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
)

// readSegmentRecords reads every well-formed frame from a segment file in
// order. On hitting a corrupt or truncated frame (CRC mismatch, or a length
// field that would read past end-of-file), it stops and reports the byte
// offset of the last good boundary and continues: corruption in the tail of
// the most recently written segment is an expected crash artifact, not an
// error.
func readSegmentRecords(path string) ([]Record, int64, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, 0, err
	}
	if int64(len(data)) < segmentHeaderSize {
		return nil, 0, 0, nil
	}
	baseTs := int64(binary.LittleEndian.Uint64(data[:segmentHeaderSize]))

	var records []Record
	pos := int64(segmentHeaderSize)

	for pos+frameHeaderSize <= int64(len(data)) {
		length := binary.LittleEndian.Uint32(data[pos : pos+4])
		wantCRC := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		kind := RecordKind(data[pos+8])

		frameEnd := pos + frameHeaderSize + int64(length) - 1
		if length == 0 || frameEnd > int64(len(data)) {
			break
		}

		payload := data[pos+frameHeaderSize : frameEnd]
		if crc32.Checksum(payload, crc32cTable) != wantCRC {
			break
		}

		records = append(records, Record{Kind: kind, Payload: append([]byte{}, payload...)})
		pos = frameEnd
	}

	return records, baseTs, pos, nil
}

// TruncateToLastGoodBoundary truncates a segment file to goodLen, discarding
// any trailing garbage left by a crash mid-write.
func TruncateToLastGoodBoundary(path string, goodLen int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return f.Truncate(goodLen)
}

// SealedSegmentWrites decodes every KindWrite record in a segment that is no
// longer being appended to, for reclamation: the caller needs the full set
// of (station, ts) pairs a segment covers before it can tell whether every
// one of them is already in a catalogued chunk. It reports goodLen < the
// file's length if the segment has a corrupt or incomplete tail, so a
// reclaim pass can refuse to delete a segment it couldn't fully account for.
func SealedSegmentWrites(dir string, seq uint64) (writes []WriteRecord, clean bool, err error) {
	path := filepath.Join(dir, segmentName(seq))
	records, baseTs, goodLen, err := readSegmentRecords(path)
	if err != nil {
		return nil, false, err
	}

	info, statErr := os.Stat(path)
	clean = statErr == nil && info.Size() == goodLen

	for _, rec := range records {
		if rec.Kind != KindWrite {
			continue
		}
		wr, decErr := decodeWrite(rec.Payload, baseTs)
		if decErr != nil {
			return nil, false, decErr
		}
		writes = append(writes, wr)
	}

	return writes, clean, nil
}
