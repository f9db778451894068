package persistence

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eternalApril/rudis/internal/storage"
	"go.uber.org/zap"
)

var ErrSaveInProgress = errors.New("background save already in progress")

// Saver takes snapshots of a keyspace and tracks the changes since the last successful one
type Saver struct {
	snap   Snapshotter
	ks     *storage.Keyspace
	logger *zap.Logger

	mu         sync.Mutex // one snapshot write at a time
	inProgress atomic.Bool
	wg         sync.WaitGroup

	dirty      atomic.Int64
	lastSave   atomic.Int64 // unix seconds
	lastStatus atomic.Bool
	onError    func(error)
}

func NewSaver(snap Snapshotter, ks *storage.Keyspace, logger *zap.Logger) *Saver {
	s := &Saver{
		snap:   snap,
		ks:     ks,
		logger: logger,
	}
	s.lastSave.Store(time.Now().Unix())
	s.lastStatus.Store(true)
	return s
}

// OnError registers a callback for failed saves
func (s *Saver) OnError(fn func(error)) {
	s.onError = fn
}

// MarkDirty records n applied write commands
func (s *Saver) MarkDirty(n int64) {
	s.dirty.Add(n)
}

// Dirty returns the number of writes since the last successful snapshot
func (s *Saver) Dirty() int64 {
	return s.dirty.Load()
}

// LastSave returns the time of the last successful snapshot, or startup time
func (s *Saver) LastSave() time.Time {
	return time.Unix(s.lastSave.Load(), 0)
}

// LastStatusOK reports whether the last snapshot attempt succeeded
func (s *Saver) LastStatusOK() bool {
	return s.lastStatus.Load()
}

// InProgress reports whether a background save is running
func (s *Saver) InProgress() bool {
	return s.inProgress.Load()
}

// dump copies the keyspace through tx, or under a fresh all-shard lock if tx is nil
func (s *Saver) dump(tx *storage.Tx) []storage.Record {
	if tx != nil {
		return tx.Dump()
	}
	return s.ks.Dump()
}

// Save dumps the keyspace and writes it synchronously.
// tx is an all-shard transaction already held by the caller, or nil
func (s *Saver) Save(tx *storage.Tx) error {
	dirty := s.dirty.Load()
	records := s.dump(tx)
	return s.write(records, dirty)
}

// Background dumps the keyspace now and writes the copy in a goroutine. tx is as for Save
func (s *Saver) Background(tx *storage.Tx) error {
	if !s.inProgress.CompareAndSwap(false, true) {
		return ErrSaveInProgress
	}

	dirty := s.dirty.Load()
	records := s.dump(tx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inProgress.Store(false)

		if err := s.write(records, dirty); err != nil {
			s.logger.Error("background save failed", zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until the running background save finishes
func (s *Saver) Wait() {
	s.wg.Wait()
}

func (s *Saver) write(records []storage.Record, dirty int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.snap.Save(records); err != nil {
		s.lastStatus.Store(false)
		if s.onError != nil {
			s.onError(err)
		}
		return err
	}

	s.dirty.Add(-dirty)
	s.lastSave.Store(time.Now().Unix())
	s.lastStatus.Store(true)
	return nil
}

// Restore loads the snapshot into the keyspace. Returns the number of loaded keys
func (s *Saver) Restore() (int, error) {
	records, err := s.snap.Load()
	if err != nil {
		return 0, err
	}
	if err := s.ks.Restore(records); err != nil {
		return 0, err
	}
	return len(records), nil
}
