package wal

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/CasperHK/SkyPulseDB/errs"
)

// Config tunes a Manager's rotation and durability behavior.
type Config struct {
	Dir           string
	FsyncPolicy   FsyncPolicy
	GroupCommitMs int
	SegmentBytes  int64
	SegmentMaxAge time.Duration
	Logger        log.Logger
}

// DefaultConfig returns the stock rotation and durability settings.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:           dir,
		FsyncPolicy:   FsyncEveryWrite,
		GroupCommitMs: defaultGroupCommitIntervalMillis,
		SegmentBytes:  defaultSegmentBytes,
		SegmentMaxAge: time.Hour,
		Logger:        log.NewNopLogger(),
	}
}

// Manager owns the active WAL segment and coordinates append, fsync and
// rotation under a single append mutex; fsync happens outside it under its
// own mutex so concurrent appenders can batch into one group-commit fsync.
type Manager struct {
	cfg Config
	log log.Logger

	appendMu sync.Mutex
	syncMu   sync.Mutex

	cur         *segment
	curOpenedAt time.Time
	nextSeq     uint64

	stopGroupCommit chan struct{}
}

// Open creates the WAL directory if needed and opens (or creates) the
// latest segment for append.
func Open(cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errs.NewFatal("wal: creating data directory", err)
	}

	seqs, err := listSegmentSeqs(cfg.Dir)
	if err != nil {
		return nil, errs.NewFatal("wal: listing segments", err)
	}

	m := &Manager{cfg: cfg, log: log.With(cfg.Logger, "component", "wal")}

	if len(seqs) == 0 {
		seg, err := createSegment(cfg.Dir, 1, time.Now().UnixMicro())
		if err != nil {
			return nil, errs.NewDurability("wal: creating initial segment", err)
		}
		m.cur = seg
		m.nextSeq = 2
	} else {
		last := seqs[len(seqs)-1]
		seg, err := openSegmentForAppend(cfg.Dir, last)
		if err != nil {
			return nil, errs.NewDurability("wal: opening latest segment", err)
		}
		m.cur = seg
		m.nextSeq = last + 1
	}
	m.curOpenedAt = time.Now()

	if cfg.FsyncPolicy == FsyncEveryInterval {
		m.startGroupCommit()
	}

	return m, nil
}

func listSegmentSeqs(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var seqs []uint64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wal") {
			continue
		}
		n := strings.TrimSuffix(e.Name(), ".wal")
		seq, err := strconv.ParseUint(n, 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	return seqs, nil
}

func (m *Manager) startGroupCommit() {
	m.stopGroupCommit = make(chan struct{})
	interval := time.Duration(m.cfg.GroupCommitMs) * time.Millisecond
	if interval <= 0 {
		interval = defaultGroupCommitIntervalMillis * time.Millisecond
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := m.Sync(); err != nil {
					level.Error(m.log).Log("msg", "group commit fsync failed", "err", err)
				}
			case <-m.stopGroupCommit:
				return
			}
		}
	}()
}

// Append appends one WAL record and, depending on the fsync policy,
// returns only after it is durable.
func (m *Manager) Append(kind RecordKind, buildPayload func(baseTs int64) []byte) error {
	m.appendMu.Lock()

	if err := m.rotateIfNeeded(); err != nil {
		m.appendMu.Unlock()

		return err
	}

	payload := buildPayload(m.cur.baseTs)
	_, err := m.cur.appendFrame(kind, payload)
	m.appendMu.Unlock()

	if err != nil {
		return errs.NewDurability("wal: appending record", err)
	}

	if m.cfg.FsyncPolicy == FsyncEveryWrite {
		return m.Sync()
	}

	return nil
}

// AppendWrite appends a KindWrite record.
func (m *Manager) AppendWrite(rec WriteRecord) error {
	return m.Append(KindWrite, func(baseTs int64) []byte { return encodeWrite(rec, baseTs) })
}

// AppendFlushBegin appends a KindFlushBegin record.
func (m *Manager) AppendFlushBegin(rec FlushBeginRecord) error {
	return m.Append(KindFlushBegin, func(int64) []byte { return encodeFlushBegin(rec) })
}

// AppendFlushCommit appends a KindFlushCommit record.
func (m *Manager) AppendFlushCommit(rec FlushCommitRecord) error {
	return m.Append(KindFlushCommit, func(int64) []byte { return encodeFlushCommit(rec) })
}

// Sync fsyncs the active segment under its own mutex, separate from the
// append mutex, so concurrent appenders batch into one group-commit fsync.
func (m *Manager) Sync() error {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	if m.cfg.FsyncPolicy == FsyncOff {
		return nil
	}

	return m.cur.sync()
}

func (m *Manager) rotateIfNeeded() error {
	needsRotate := m.cur.size >= m.cfg.SegmentBytes
	if m.cfg.SegmentMaxAge > 0 && time.Since(m.curOpenedAt) >= m.cfg.SegmentMaxAge {
		needsRotate = true
	}
	if !needsRotate {
		return nil
	}

	if err := m.cur.sync(); err != nil {
		return errs.NewDurability("wal: fsyncing segment before rotation", err)
	}
	if err := m.cur.close(); err != nil {
		return errs.NewDurability("wal: closing rotated segment", err)
	}

	seg, err := createSegment(m.cfg.Dir, m.nextSeq, time.Now().UnixMicro())
	if err != nil {
		return errs.NewDurability("wal: creating rotated segment", err)
	}
	level.Info(m.log).Log("msg", "rotated wal segment", "seq", m.nextSeq)

	m.cur = seg
	m.nextSeq++
	m.curOpenedAt = time.Now()

	return nil
}

// ActiveSegmentBytes returns the active segment's size in bytes, for stats().
func (m *Manager) ActiveSegmentBytes() int64 {
	m.appendMu.Lock()
	defer m.appendMu.Unlock()

	return m.cur.size
}

// ActiveSegmentSeq returns the sequence number of the segment currently
// open for append. Reclamation must never touch this segment: it is still
// being written to.
func (m *Manager) ActiveSegmentSeq() uint64 {
	m.appendMu.Lock()
	defer m.appendMu.Unlock()

	return m.cur.seq
}

// Close stops the group-commit goroutine (if any) and closes the active
// segment.
func (m *Manager) Close() error {
	if m.stopGroupCommit != nil {
		close(m.stopGroupCommit)
	}

	m.appendMu.Lock()
	defer m.appendMu.Unlock()

	return m.cur.close()
}

// DecodedRecord is a fully-decoded WAL record produced by Recover, tagged
// with which segment it came from (used by the engine to reapply WRITE
// records and to track FLUSH_COMMIT high-water marks per series key).
type DecodedRecord struct {
	SegmentSeq  uint64
	Kind        RecordKind
	Write       *WriteRecord
	FlushBegin  *FlushBeginRecord
	FlushCommit *FlushCommitRecord
}

// Recover replays every segment in ascending order, truncating each segment
// it finds with a corrupt or incomplete tail frame at the last good
// boundary. It returns every successfully decoded record for the engine to
// reapply.
func Recover(dir string) ([]DecodedRecord, error) {
	seqs, err := listSegmentSeqs(dir)
	if err != nil {
		return nil, errs.NewFatal("wal: listing segments for recovery", err)
	}

	var out []DecodedRecord

	for _, seq := range seqs {
		path := filepath.Join(dir, segmentName(seq))
		records, baseTs, goodLen, err := readSegmentRecords(path)
		if err != nil {
			return nil, errs.NewCorruption("wal: reading segment during recovery", err)
		}

		info, statErr := os.Stat(path)
		if statErr == nil && info.Size() > goodLen {
			if err := TruncateToLastGoodBoundary(path, goodLen); err != nil {
				return nil, errs.NewCorruption("wal: truncating corrupt segment tail", err)
			}
		}

		for _, rec := range records {
			dr := DecodedRecord{SegmentSeq: seq, Kind: rec.Kind}
			switch rec.Kind {
			case KindWrite:
				wr, err := decodeWrite(rec.Payload, baseTs)
				if err != nil {
					continue
				}
				dr.Write = &wr
			case KindFlushBegin:
				fb, err := decodeFlushBegin(rec.Payload)
				if err != nil {
					continue
				}
				dr.FlushBegin = &fb
			case KindFlushCommit:
				fc, err := decodeFlushCommit(rec.Payload)
				if err != nil {
					continue
				}
				dr.FlushCommit = &fc
			default:
				continue
			}
			out = append(out, dr)
		}
	}

	return out, nil
}

// DeleteSegment removes a fully-persisted segment. Callers must only call
// this once every WRITE in the segment appears in a catalogued chunk.
func DeleteSegment(dir string, seq uint64) error {
	return os.Remove(filepath.Join(dir, segmentName(seq)))
}

// ListSegments returns every segment's sequence number in ascending order.
func ListSegments(dir string) ([]uint64, error) {
	return listSegmentSeqs(dir)
}
