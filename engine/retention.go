package engine

import (
	"os"
	"time"

	"github.com/go-kit/log/level"

	"github.com/CasperHK/SkyPulseDB/catalogue"
)

// retentionInterval controls how often the background sweep runs; retention
// is cheap to re-check so a fixed interval is fine rather than scheduling
// against the configured window itself.
const retentionInterval = time.Hour

// runRetention periodically drops chunks entirely older than
// cfg.RetentionDefaultDays from the catalogue and deletes them from disk.
// RetentionDefaultDays of 0 disables the sweep.
func (e *Engine) runRetention() {
	defer e.retentionWg.Done()

	if e.cfg.RetentionDefaultDays <= 0 {
		<-e.retentionStop

		return
	}

	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()

	e.sweepRetention()

	for {
		select {
		case <-e.retentionStop:
			return
		case <-ticker.C:
			e.sweepRetention()
		}
	}
}

// RunRetentionOnce triggers a single synchronous retention sweep, used by
// the "retain" CLI subcommand for an on-demand pass outside the background
// ticker.
func (e *Engine) RunRetentionOnce() {
	e.sweepRetention()
}

func (e *Engine) sweepRetention() {
	logger := componentLogger(e.cfg.Logger, "retention")
	cutoff := time.Now().UTC().AddDate(0, 0, -e.cfg.RetentionDefaultDays).UnixMicro()

	var toRetire []struct {
		key   catalogue.SeriesKey
		entry catalogue.ChunkEntry
	}
	e.cat.Enumerate(func(key catalogue.SeriesKey, entry catalogue.ChunkEntry) {
		if entry.LastTs < cutoff {
			toRetire = append(toRetire, struct {
				key   catalogue.SeriesKey
				entry catalogue.ChunkEntry
			}{key, entry})
		}
	})

	retired := 0
	for _, item := range toRetire {
		if err := e.cat.Retire(item.key, item.entry.ChunkName); err != nil && !os.IsNotExist(err) {
			logErr(logger, "retiring chunk", err)

			continue
		}
		path := chunkPathFor(e.cfg.DataDir, item.key.StationID, item.key.PartitionDay, item.entry.ChunkName)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logErr(logger, "deleting retired chunk file", err)
		}
		retired++
	}
	if retired > 0 {
		level.Info(logger).Log("msg", "retention sweep complete", "chunks_retired", retired, "cutoff_ts_micros", cutoff)
	}
}
