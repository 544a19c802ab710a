package catalogue

import (
	"encoding/json"
	"os"

	"github.com/CasperHK/SkyPulseDB/errs"
)

// manifestFileName and logFileName are fixed, relative to the catalogue's
// data directory.
const (
	manifestFileName = "catalogue.json"
	logFileName      = "catalogue.log"
)

// manifest is the on-disk checkpoint: the full catalogue state as of the
// last compaction, plus the log byte offset it was compacted up to.
type manifest struct {
	Checkpoint int64                             `json:"checkpoint"`
	Stations   map[string]map[int32][]ChunkEntry `json:"stations"`
}

func emptyManifest() manifest {
	return manifest{Stations: make(map[string]map[int32][]ChunkEntry)}
}

func loadManifest(path string) (manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return emptyManifest(), nil
	}
	if err != nil {
		return manifest{}, errs.NewPersistence("catalogue: reading manifest", err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return manifest{}, errs.NewCorruption("catalogue: parsing manifest", err)
	}
	if m.Stations == nil {
		m.Stations = make(map[string]map[int32][]ChunkEntry)
	}

	return m, nil
}

// writeManifest atomically replaces the manifest file, reusing chunkfile's
// tmp-then-rename pattern for the same crash-atomicity reason.
func writeManifest(dir string, m manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errs.NewPersistence("catalogue: encoding manifest", err)
	}

	tmpPath := dir + "/" + manifestFileName + ".tmp"
	finalPath := dir + "/" + manifestFileName

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.NewPersistence("catalogue: creating manifest tmp file", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()

		return errs.NewPersistence("catalogue: writing manifest tmp file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()

		return errs.NewPersistence("catalogue: fsyncing manifest tmp file", err)
	}
	if err := f.Close(); err != nil {
		return errs.NewPersistence("catalogue: closing manifest tmp file", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return errs.NewPersistence("catalogue: renaming manifest into place", err)
	}

	return nil
}
