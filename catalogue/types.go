// Package catalogue implements the chunk-catalogue manifest: a JSON
// manifest checkpoint plus an append-only log of ADD/REPLACE/REMOVE
// records, with lock-free immutable-snapshot reads and a
// write-lock-guarded root-pointer swap for publishers.
package catalogue

import "time"

// ChunkEntry describes one published chunk file.
type ChunkEntry struct {
	ChunkName    string    `json:"chunk_name"`
	FirstTs      int64     `json:"first_ts"`
	LastTs       int64     `json:"last_ts"`
	RowCount     uint32    `json:"row_count"`
	ByteSize     int64     `json:"byte_size"`
	CreatedAt    time.Time `json:"created_at"`
	SupersededBy string    `json:"superseded_by,omitempty"`
}

// Intersects reports whether the entry's [FirstTs,LastTs] range intersects
// [t0,t1].
func (e ChunkEntry) Intersects(t0, t1 int64) bool {
	return e.FirstTs <= t1 && e.LastTs >= t0
}

// SeriesKey identifies one station/partition-day's chunk list.
type SeriesKey struct {
	StationID    string
	PartitionDay int32
}
