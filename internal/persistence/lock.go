package persistence

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockFileName = "rudis.lock"

var ErrDirInUse = errors.New("persistence directory is used by another rudis process")

// DirLock is an exclusive advisory lock on the persistence directory
type DirLock struct {
	fileLock *flock.Flock
}

// LockDir creates dir if needed and takes the lock without waiting
func LockDir(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	fileLock := flock.New(filepath.Join(dir, lockFileName))
	hold, err := fileLock.TryLock()
	if err != nil {
		return nil, err
	}
	if !hold {
		return nil, ErrDirInUse
	}

	return &DirLock{fileLock: fileLock}, nil
}

func (l *DirLock) Unlock() error {
	return l.fileLock.Unlock()
}
