package persistence

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/eternalApril/rudis/internal/resp"
	"go.uber.org/zap"
)

// FsyncPolicy controls how often the AOF is flushed to stable storage
type FsyncPolicy int

const (
	FsyncAlways FsyncPolicy = iota + 1
	FsyncEverySec
	FsyncNo
)

var ErrAOFClosed = errors.New("append only file is closed")

// ParseFsyncPolicy converts the appendfsync config value into FsyncPolicy
func ParseFsyncPolicy(s string) (FsyncPolicy, error) {
	switch s {
	case "always":
		return FsyncAlways, nil
	case "everysec", "":
		return FsyncEverySec, nil
	case "no":
		return FsyncNo, nil
	}
	return 0, fmt.Errorf("unknown fsync policy %q", s)
}

func (p FsyncPolicy) String() string {
	switch p {
	case FsyncAlways:
		return "always"
	case FsyncEverySec:
		return "everysec"
	case FsyncNo:
		return "no"
	}
	return "unknown"
}

// AOF Append Only File persistence.
// Commands are appended to an in-memory buffer, the policy decides when the buffer reaches the disk
type AOF struct {
	mu      sync.Mutex
	file    *os.File
	pending []byte
	err     error // last failed background flush, cleared by the next successful one
	closed  bool

	filename string
	policy   FsyncPolicy

	onError func(error)

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// OpenAOF opens filename for appending and starts the background flusher for FsyncEverySec
func OpenAOF(filename string, policy FsyncPolicy, logger *zap.Logger) (*AOF, error) {
	// open file in Append mode, Create if not exists, Read/Write
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	aof := &AOF{
		file:     f,
		pending:  make([]byte, 0, 4096),
		filename: filename,
		policy:   policy,
		stopChan: make(chan struct{}),
		logger:   logger,
	}

	if policy == FsyncEverySec {
		aof.wg.Add(1)
		go aof.listen()
	}

	return aof, nil
}

// OnError registers a callback invoked for every failed disk write, including background ones
func (a *AOF) OnError(fn func(error)) {
	a.mu.Lock()
	a.onError = fn
	a.mu.Unlock()
}

// Filename returns the path of the log
func (a *AOF) Filename() string {
	return a.filename
}

// Policy returns the fsync policy
func (a *AOF) Policy() FsyncPolicy {
	return a.policy
}

// Append serializes the command and writes it to the log
func (a *AOF) Append(cmd string, args [][]byte) error {
	payload, err := resp.SerializeCommand(cmd, args)
	if err != nil {
		return err
	}
	return a.Write(payload)
}

// Write appends payload to the log. With FsyncAlways the payload is on disk when Write returns.
// With FsyncEverySec the error of the last background flush is returned until a flush succeeds
func (a *AOF) Write(payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrAOFClosed
	}

	a.pending = append(a.pending, payload...)

	switch a.policy {
	case FsyncAlways:
		return a.flushLocked(true)
	case FsyncNo:
		if len(a.pending) >= 64*1024 {
			return a.flushLocked(false)
		}
		return nil
	default:
		return a.err
	}
}

func (a *AOF) listen() {
	defer a.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.mu.Lock()
			if err := a.flushLocked(true); err != nil {
				a.logger.Error("AOF background flush failed", zap.Error(err))
			}
			a.mu.Unlock()

		case <-a.stopChan:
			return
		}
	}
}

// flushLocked writes the pending buffer and optionally fsyncs. A partial write keeps the rest for the next attempt
func (a *AOF) flushLocked(sync bool) error {
	if len(a.pending) > 0 {
		n, err := a.file.Write(a.pending)
		a.pending = a.pending[:copy(a.pending, a.pending[n:])]
		if err != nil {
			return a.fail(err)
		}
	}

	if sync {
		if err := a.file.Sync(); err != nil {
			return a.fail(err)
		}
	}

	a.err = nil
	return nil
}

func (a *AOF) fail(err error) error {
	a.err = fmt.Errorf("aof write: %w", err)
	if a.onError != nil {
		a.onError(err)
	}
	return a.err
}

// Flush forces pending data to disk regardless of the policy
func (a *AOF) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrAOFClosed
	}
	return a.flushLocked(true)
}

// Close AOF persistence
func (a *AOF) Close() error {
	a.stopOnce.Do(func() { close(a.stopChan) })
	a.wg.Wait() // wait for background routine to finish

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	flushErr := a.flushLocked(true)
	if err := a.file.Close(); err != nil {
		return err
	}
	return flushErr
}
