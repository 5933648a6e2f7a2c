package memory

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrLocked is returned by LockPath when another process already holds
// the database.
var ErrLocked = errors.New("memory database in use by another process")

// Lock is an exclusive advisory lock on a memory database file. SQLite
// tolerates concurrent writers, but two servers pruning the same
// conversations would trim each other's windows.
type Lock struct {
	fl *flock.Flock
}

// LockPath takes the lock for the database at dbPath without blocking.
// The lock lives in a sibling file named dbPath + ".lock".
func LockPath(dbPath string) (*Lock, error) {
	lockPath := dbPath + ".lock"
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", dbPath, ErrLocked)
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
