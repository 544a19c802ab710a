package catalogue

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/CasperHK/SkyPulseDB/errs"
)

// logOp tags one catalogue.log line.
type logOp string

const (
	opAdd     logOp = "ADD"
	opReplace logOp = "REPLACE"
	opRemove  logOp = "REMOVE"
)

// logRecord is one tab-separated line of catalogue.log. ADD is
// `ADD station partition_day payload`, where payload is a JSON-encoded
// ChunkEntry; REPLACE is `REPLACE station partition_day old_name payload`,
// carrying the superseded chunk's name as its own field before the new
// entry. REMOVE carries only OldName; retention drops an entry without a
// replacement.
type logRecord struct {
	Op           logOp
	StationID    string
	PartitionDay int32
	OldName      string // set for REPLACE and REMOVE
	Entry        ChunkEntry
}

func (r logRecord) marshal() (string, error) {
	switch r.Op {
	case opAdd:
		payload, err := json.Marshal(r.Entry)
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("ADD\t%s\t%d\t%s", r.StationID, r.PartitionDay, payload), nil
	case opReplace:
		payload, err := json.Marshal(r.Entry)
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("REPLACE\t%s\t%d\t%s\t%s", r.StationID, r.PartitionDay, r.OldName, payload), nil
	case opRemove:
		return fmt.Sprintf("REMOVE\t%s\t%d\t%s", r.StationID, r.PartitionDay, r.OldName), nil
	default:
		return "", fmt.Errorf("catalogue: unknown log op %q", r.Op)
	}
}

func parseLogLine(line string) (logRecord, error) {
	fields := strings.SplitN(line, "\t", 5)
	if len(fields) < 4 {
		return logRecord{}, fmt.Errorf("catalogue: malformed log line")
	}

	partitionDay, err := strconv.ParseInt(fields[2], 10, 32)
	if err != nil {
		return logRecord{}, fmt.Errorf("catalogue: malformed partition_day: %w", err)
	}

	switch logOp(fields[0]) {
	case opAdd:
		var entry ChunkEntry
		if err := json.Unmarshal([]byte(fields[3]), &entry); err != nil {
			return logRecord{}, fmt.Errorf("catalogue: malformed ADD payload: %w", err)
		}

		return logRecord{Op: opAdd, StationID: fields[1], PartitionDay: int32(partitionDay), Entry: entry}, nil
	case opReplace:
		if len(fields) < 5 {
			return logRecord{}, fmt.Errorf("catalogue: malformed REPLACE line")
		}
		var entry ChunkEntry
		if err := json.Unmarshal([]byte(fields[4]), &entry); err != nil {
			return logRecord{}, fmt.Errorf("catalogue: malformed REPLACE payload: %w", err)
		}

		return logRecord{
			Op: opReplace, StationID: fields[1], PartitionDay: int32(partitionDay),
			OldName: fields[3], Entry: entry,
		}, nil
	case opRemove:
		return logRecord{Op: opRemove, StationID: fields[1], PartitionDay: int32(partitionDay), OldName: fields[3]}, nil
	default:
		return logRecord{}, fmt.Errorf("catalogue: unknown log op %q", fields[0])
	}
}

// logWriter appends records to catalogue.log, fsyncing after every record.
type logWriter struct {
	f    *os.File
	size int64
}

func openLogWriter(path string) (*logWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errs.NewPersistence("catalogue: opening log file", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, errs.NewPersistence("catalogue: stat-ing log file", err)
	}

	return &logWriter{f: f, size: info.Size()}, nil
}

func (w *logWriter) append(rec logRecord) error {
	line, err := rec.marshal()
	if err != nil {
		return errs.NewValidation(err.Error())
	}
	line += "\n"

	n, err := w.f.WriteString(line)
	if err != nil {
		return errs.NewDurability("catalogue: appending log record", err)
	}
	if err := w.f.Sync(); err != nil {
		return errs.NewDurability("catalogue: fsyncing log record", err)
	}
	w.size += int64(n)

	return nil
}

func (w *logWriter) close() error {
	return w.f.Close()
}

// replayLog reads every record in path starting at byte offset `from`,
// applying each to mutate state via apply. Open calls it for recovery,
// starting from the manifest checkpoint; Compact does not replay the log.
func replayLog(path string, from int64, apply func(logRecord)) (endOffset int64, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return from, nil
	}
	if err != nil {
		return from, errs.NewPersistence("catalogue: opening log for replay", err)
	}
	defer f.Close()

	if _, err := f.Seek(from, 0); err != nil {
		return from, errs.NewPersistence("catalogue: seeking log for replay", err)
	}

	offset := from
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			offset += int64(len(line)) + 1

			continue
		}

		rec, parseErr := parseLogLine(line)
		if parseErr != nil {
			// A partially-written trailing line is an expected crash artifact;
			// stop replay here rather than erroring the whole recovery, leaving
			// offset at the last good boundary.
			break
		}
		apply(rec)
		offset += int64(len(line)) + 1
	}

	return offset, nil
}
