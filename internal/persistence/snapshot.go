package persistence

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/eternalApril/rudis/internal/storage"
	"go.uber.org/zap"
)

var ErrCorruptSnapshot = errors.New("corrupt snapshot")

// Snapshotter writes and reads a point in time copy of the keyspace
type Snapshotter interface {
	// Save replaces the snapshot atomically. A failed Save leaves the previous file intact
	Save(records []storage.Record) error
	// Load returns the saved records, or nil if no snapshot exists
	Load() ([]storage.Record, error)
	Filename() string
}

// NewSnapshotter returns the snapshot implementation for format: "binary" or "bolt"
func NewSnapshotter(format, filename string, logger *zap.Logger) (Snapshotter, error) {
	switch format {
	case "binary", "":
		return NewRDB(filename, logger), nil
	case "bolt":
		return NewBoltSnapshot(filename, logger), nil
	}
	return nil, fmt.Errorf("unknown snapshot format %q", format)
}

// writeAtomic writes through fill into filename.tmp, fsyncs it and renames it over filename
func writeAtomic(filename string, fill func(w io.Writer) error) (err error) {
	tmpFile := filename + ".tmp"

	f, err := os.Create(tmpFile)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()          //nolint:errcheck
			os.Remove(tmpFile) //nolint:errcheck
		}
	}()

	writer := bufio.NewWriterSize(f, 4*1024*1024)

	if err = fill(writer); err != nil {
		return err
	}

	if err = writer.Flush(); err != nil {
		return err
	}

	if err = f.Sync(); err != nil {
		return err
	}

	if err = f.Close(); err != nil {
		return err
	}

	return os.Rename(tmpFile, filename)
}
