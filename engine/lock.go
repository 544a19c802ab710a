package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/CasperHK/SkyPulseDB/errs"
)

const lockFileName = "engine.lock"

// acquireLock takes an exclusive, non-blocking flock on <data_dir>/engine.lock,
// refusing to start if another process already holds it. Grounded directly
// on kluzzebass-gastrolog's chunk file manager, which takes the identical
// syscall.Flock(LOCK_EX|LOCK_NB) on a storage directory for the same reason.
func acquireLock(dataDir string) (*os.File, error) {
	path := filepath.Join(dataDir, lockFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errs.NewFatal("engine: opening lock file", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, errs.NewFatal(fmt.Sprintf("engine: data directory %s is locked by another process", dataDir), errs.ErrLockHeld)
	}

	return f, nil
}

func releaseLock(f *os.File) error {
	if f == nil {
		return nil
	}
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	return f.Close()
}
