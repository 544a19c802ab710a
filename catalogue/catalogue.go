package catalogue

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/CasperHK/SkyPulseDB/errs"
)

// retiredMarker is a SupersededBy sentinel meaning "dropped by retention",
// distinguishing a retired entry (no replacement chunk) from an ordinary
// supersede (replaced by a named chunk).
const retiredMarker = "<retired>"

// state is one immutable snapshot of the in-memory catalogue. Publishers
// build a new state (copy-on-write on the touched station/partition only)
// and atomically swap the root pointer; readers load the pointer once and
// never see a partially-updated map, since publishers swap the root
// pointer under a write lock only once a new state is fully built.
type state struct {
	stations map[string]map[int32][]ChunkEntry
}

func (s *state) clone() *state {
	out := &state{stations: make(map[string]map[int32][]ChunkEntry, len(s.stations))}
	for station, partitions := range s.stations {
		np := make(map[int32][]ChunkEntry, len(partitions))
		for day, entries := range partitions {
			np[day] = entries // entry slices are only ever replaced wholesale, never mutated in place
		}
		out.stations[station] = np
	}

	return out
}

// Catalogue is the chunk-catalogue manifest: a JSON checkpoint plus an
// append-only log of ADD/REPLACE/REMOVE records.
type Catalogue struct {
	dir string

	writeMu sync.Mutex // serializes publishers; see state's doc comment
	log     *logWriter

	root       atomic.Pointer[state]
	checkpoint int64 // log byte offset the current manifest reflects
}

// Open loads catalogue.json (if present), replays catalogue.log past the
// manifest's checkpoint, truncates any malformed trailing bytes the replay
// stopped at, and opens the log for further appends.
func Open(dir string) (*Catalogue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.NewFatal("catalogue: creating data directory", err)
	}

	m, err := loadManifest(filepath.Join(dir, manifestFileName))
	if err != nil {
		return nil, err
	}

	st := &state{stations: m.Stations}

	endOffset, err := replayLog(filepath.Join(dir, logFileName), m.Checkpoint, func(rec logRecord) {
		applyRecord(st, rec)
	})
	if err != nil {
		return nil, err
	}

	logPath := filepath.Join(dir, logFileName)
	if info, statErr := os.Stat(logPath); statErr == nil && info.Size() > endOffset {
		if err := os.Truncate(logPath, endOffset); err != nil {
			return nil, errs.NewPersistence("catalogue: truncating malformed log tail", err)
		}
	}
	lw, err := openLogWriter(logPath)
	if err != nil {
		return nil, err
	}

	c := &Catalogue{dir: dir, log: lw, checkpoint: endOffset}
	c.root.Store(st)

	return c, nil
}

func applyRecord(st *state, rec logRecord) {
	partitions, ok := st.stations[rec.StationID]
	if !ok {
		partitions = make(map[int32][]ChunkEntry)
		st.stations[rec.StationID] = partitions
	}

	switch rec.Op {
	case opAdd:
		partitions[rec.PartitionDay] = append(partitions[rec.PartitionDay], rec.Entry)
	case opReplace:
		entries := partitions[rec.PartitionDay]
		for i, e := range entries {
			if e.ChunkName == rec.OldName {
				entries[i].SupersededBy = rec.Entry.ChunkName
			}
		}
		partitions[rec.PartitionDay] = append(entries, rec.Entry)
	case opRemove:
		entries := partitions[rec.PartitionDay]
		for i, e := range entries {
			if e.ChunkName == rec.OldName {
				entries[i].SupersededBy = retiredMarker
			}
		}
		partitions[rec.PartitionDay] = entries
	}
}

// Publish appends an ADD record and inserts the entry into the in-memory
// state.
func (c *Catalogue) Publish(key SeriesKey, entry ChunkEntry) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.log.append(logRecord{Op: opAdd, StationID: key.StationID, PartitionDay: key.PartitionDay, Entry: entry}); err != nil {
		return err
	}

	next := c.root.Load().clone()
	partitions, ok := next.stations[key.StationID]
	if !ok {
		partitions = make(map[int32][]ChunkEntry)
		next.stations[key.StationID] = partitions
	}
	partitions[key.PartitionDay] = append(append([]ChunkEntry{}, partitions[key.PartitionDay]...), entry)
	c.root.Store(next)

	return nil
}

// Supersede appends a REPLACE record, marks oldName superseded in memory,
// and removes the old chunk file from disk once the log record is durable.
func (c *Catalogue) Supersede(key SeriesKey, oldName string, newEntry ChunkEntry) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	rec := logRecord{Op: opReplace, StationID: key.StationID, PartitionDay: key.PartitionDay, OldName: oldName, Entry: newEntry}
	if err := c.log.append(rec); err != nil {
		return err
	}

	next := c.root.Load().clone()
	partitions, ok := next.stations[key.StationID]
	if !ok {
		partitions = make(map[int32][]ChunkEntry)
		next.stations[key.StationID] = partitions
	}
	entries := append([]ChunkEntry{}, partitions[key.PartitionDay]...)
	for i, e := range entries {
		if e.ChunkName == oldName {
			entries[i].SupersededBy = newEntry.ChunkName
		}
	}
	entries = append(entries, newEntry)
	partitions[key.PartitionDay] = entries
	c.root.Store(next)

	return os.Remove(filepath.Join(c.dir, oldName))
}

// Retire appends a REMOVE record marking chunkName dropped with no
// replacement, and deletes the chunk file from disk once the log record is
// durable.
func (c *Catalogue) Retire(key SeriesKey, chunkName string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	rec := logRecord{Op: opRemove, StationID: key.StationID, PartitionDay: key.PartitionDay, OldName: chunkName}
	if err := c.log.append(rec); err != nil {
		return err
	}

	next := c.root.Load().clone()
	partitions, ok := next.stations[key.StationID]
	if !ok {
		return os.Remove(filepath.Join(c.dir, chunkName))
	}
	entries := append([]ChunkEntry{}, partitions[key.PartitionDay]...)
	for i, e := range entries {
		if e.ChunkName == chunkName {
			entries[i].SupersededBy = retiredMarker
		}
	}
	partitions[key.PartitionDay] = entries
	c.root.Store(next)

	return os.Remove(filepath.Join(c.dir, chunkName))
}

// Lookup returns the chunks for a station whose range intersects [t0,t1],
// ordered by CreatedAt descending (most recently flushed first), so a
// caller merging rows by first-write-wins sees the newest chunk's value on
// a timestamp two chunks both cover — the out-of-order backfill case, where
// a later flush's FirstTs can be earlier than an earlier flush's. Superseded
// entries are excluded.
func (c *Catalogue) Lookup(stationID string, t0, t1 int64) []ChunkEntry {
	st := c.root.Load()
	partitions := st.stations[stationID]

	var out []ChunkEntry
	for _, entries := range partitions {
		for _, e := range entries {
			if e.SupersededBy == "" && e.Intersects(t0, t1) {
				out = append(out, e)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	return out
}

// Enumerate calls fn for every live (non-superseded) entry across all
// stations and partitions, for retention and compaction scans.
func (c *Catalogue) Enumerate(fn func(key SeriesKey, entry ChunkEntry)) {
	st := c.root.Load()
	for stationID, partitions := range st.stations {
		for day, entries := range partitions {
			for _, e := range entries {
				if e.SupersededBy == "" {
					fn(SeriesKey{StationID: stationID, PartitionDay: day}, e)
				}
			}
		}
	}
}

// Compact rewrites catalogue.json from the current in-memory state and
// advances the checkpoint past the portion of catalogue.log it now covers.
// The log file itself keeps growing forward; only the checkpoint offset
// advances, so old bytes are never rewritten in place.
func (c *Catalogue) Compact() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	st := c.root.Load()
	m := manifest{Checkpoint: c.log.size, Stations: st.stations}
	if err := writeManifest(c.dir, m); err != nil {
		return err
	}
	c.checkpoint = c.log.size

	return nil
}

// Close closes the catalogue log file.
func (c *Catalogue) Close() error {
	return c.log.close()
}
