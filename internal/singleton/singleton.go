// Package singleton guards the checkpoint store directory with an
// exclusive file lock so two indexer processes never race on the same
// checkpoint row, making spec §5's "single-process... cooperative
// concurrency" assumption an enforced operational guarantee rather than an
// implicit one.
package singleton

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Guard holds the exclusive lock for the lifetime of one indexer process.
type Guard struct {
	lock *flock.Flock
}

// Acquire takes an exclusive, non-blocking lock on a file under dir. It
// fails immediately (rather than waiting) if another process already holds
// it, mirroring the teacher's sync-lock convention of refusing to queue
// behind a concurrent writer.
func Acquire(dir string) (*Guard, error) {
	lockPath := filepath.Join(dir, ".kasdex.lock")
	lock := flock.New(lockPath)

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire singleton lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("another kasdex process is already running against %s", dir)
	}
	return &Guard{lock: lock}, nil
}

// Release drops the lock. Safe to call once; subsequent calls are no-ops.
func (g *Guard) Release() error {
	if g == nil || g.lock == nil {
		return nil
	}
	return g.lock.Unlock()
}
