package engine

import (
	"sync"

	"github.com/CasperHK/SkyPulseDB/internal/hash"
	"github.com/CasperHK/SkyPulseDB/memtable"
)

// seriesShardCount bounds lock contention on the live-series map: writes to
// unrelated series keys only contend when xxhash happens to route them to
// the same shard, instead of all writers serializing on one map-wide lock.
const seriesShardCount = 32

type seriesShard struct {
	mu sync.RWMutex
	m  map[SeriesKey]*memtable.MemTable
}

// seriesShards partitions the engine's live MemTables by a hash of their
// series key, grounded on internal/hash's stated purpose ("stripe per-series
// locks and key in-memory lookup tables without retaining the full string on
// the hot path").
type seriesShards struct {
	shards [seriesShardCount]*seriesShard
}

func newSeriesShards() *seriesShards {
	s := &seriesShards{}
	for i := range s.shards {
		s.shards[i] = &seriesShard{m: make(map[SeriesKey]*memtable.MemTable)}
	}

	return s
}

func (s *seriesShards) shardFor(key SeriesKey) *seriesShard {
	h := hash.SeriesKey(key.StationID, key.PartitionDay)

	return s.shards[h%seriesShardCount]
}

func (s *seriesShards) get(key SeriesKey) (*memtable.MemTable, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	mt, ok := sh.m[key]

	return mt, ok
}

// getOrCreate returns the live MemTable for key, constructing one with
// newFn if none exists yet.
func (s *seriesShards) getOrCreate(key SeriesKey, newFn func() *memtable.MemTable) *memtable.MemTable {
	if mt, ok := s.get(key); ok {
		return mt
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if mt, ok := sh.m[key]; ok {
		return mt
	}

	mt := newFn()
	sh.m[key] = mt

	return mt
}

// replaceIfCurrent swaps key's live MemTable for replacement only if it is
// still exactly old, matching the compare-and-swap enqueueSeal needs when
// handing off a sealed generation to a fresh one.
func (s *seriesShards) replaceIfCurrent(key SeriesKey, old, replacement *memtable.MemTable) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.m[key] == old {
		sh.m[key] = replacement
	}
}

// count and forEach support stats and back-pressure accounting across every
// shard.
func (s *seriesShards) count() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.m)
		sh.mu.RUnlock()
	}

	return n
}

func (s *seriesShards) forEach(fn func(*memtable.MemTable)) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, mt := range sh.m {
			fn(mt)
		}
		sh.mu.RUnlock()
	}
}

// forEachKeyed is forEach plus each MemTable's series key, for callers (the
// age sweep) that need to seal a specific generation rather than just read
// its stats.
func (s *seriesShards) forEachKeyed(fn func(SeriesKey, *memtable.MemTable)) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		for key, mt := range sh.m {
			fn(key, mt)
		}
		sh.mu.RUnlock()
	}
}
