// Package hash provides the fast, non-cryptographic hashing used to shard
// series keys across the engine's live-MemTable shards.
package hash

import "github.com/cespare/xxhash/v2"

// SeriesKey computes a 64-bit hash of a (station_id, partition_day) series
// key, used to stripe per-series locks and to key in-memory lookup tables
// without retaining the full string on the hot path.
func SeriesKey(stationID string, partitionDay int32) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(stationID)

	var buf [4]byte
	buf[0] = byte(partitionDay)
	buf[1] = byte(partitionDay >> 8)
	buf[2] = byte(partitionDay >> 16)
	buf[3] = byte(partitionDay >> 24)
	_, _ = h.Write(buf[:])

	return h.Sum64()
}

// String computes the xxHash64 of an arbitrary string, used for cheap
// equality pre-checks and shard selection.
func String(s string) uint64 {
	return xxhash.Sum64String(s)
}
