package engine

import (
	"time"

	"github.com/CasperHK/SkyPulseDB/memtable"
)

// ageSweepInterval controls how often the background age sweep checks live
// MemTables; a generation can be up to this long past MemTableMaxAge before
// it gets sealed.
const ageSweepInterval = time.Minute

// runAgeSweep periodically seals any live MemTable older than
// cfg.MemTableMaxAge, bounding how long a low-traffic series can sit
// unflushed. MemTableMaxAge of 0 disables the sweep.
func (e *Engine) runAgeSweep() {
	defer e.ageSweepWg.Done()

	if e.cfg.MemTableMaxAge <= 0 {
		<-e.ageSweepStop

		return
	}

	ticker := time.NewTicker(ageSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ageSweepStop:
			return
		case <-ticker.C:
			e.sweepAgedMemTables()
		}
	}
}

func (e *Engine) sweepAgedMemTables() {
	if e.cfg.MemTableMaxAge <= 0 {
		return
	}

	var aged []SeriesKey
	e.series.forEachKeyed(func(key SeriesKey, mt *memtable.MemTable) {
		if !mt.IsSealed() && mt.Age() >= e.cfg.MemTableMaxAge {
			aged = append(aged, key)
		}
	})

	for _, key := range aged {
		mt, ok := e.series.get(key)
		if !ok || mt.IsSealed() {
			continue
		}
		e.enqueueSeal(key, mt)
	}
}
