package persistence

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/eternalApril/rudis/internal/storage"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const bucketPrefix = "db"

// BoltSnapshot stores the snapshot in a bbolt file with one bucket per database.
// bbolt rejects empty keys, so every key is stored behind a one byte marker.
// Value layout: type byte, varint expireAt, payload
type BoltSnapshot struct {
	filename string
	logger   *zap.Logger
}

func NewBoltSnapshot(filename string, logger *zap.Logger) *BoltSnapshot {
	return &BoltSnapshot{
		filename: filename,
		logger:   logger,
	}
}

func (b *BoltSnapshot) Filename() string {
	return b.filename
}

func bucketName(db int) []byte {
	return []byte(bucketPrefix + strconv.Itoa(db))
}

func boltKey(key string) []byte {
	return append([]byte{'k'}, key...)
}

// Save builds a fresh bbolt file next to the target and renames it over the previous snapshot
func (b *BoltSnapshot) Save(records []storage.Record) (err error) {
	start := time.Now()
	tmpFile := b.filename + ".tmp"

	if err := os.Remove(tmpFile); err != nil && !os.IsNotExist(err) {
		return err
	}

	opts := *bbolt.DefaultOptions
	opts.Timeout = time.Second
	tree, err := bbolt.Open(tmpFile, 0644, &opts)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tree.Close()       //nolint:errcheck
			os.Remove(tmpFile) //nolint:errcheck
		}
	}()

	err = tree.Update(func(tx *bbolt.Tx) error {
		val := make([]byte, 0, 256)
		for _, rec := range records {
			bucket, err := tx.CreateBucketIfNotExists(bucketName(rec.DB))
			if err != nil {
				return err
			}

			val = append(val[:0], byte(rec.Entity.Type))
			val = binary.AppendVarint(val, rec.ExpireAt)
			val = storage.AppendPayload(val, rec.Entity)

			// bbolt keeps a reference to the value until commit
			if err := bucket.Put(boltKey(rec.Key), append([]byte(nil), val...)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err = tree.Close(); err != nil {
		return err
	}

	if err = os.Rename(tmpFile, b.filename); err != nil {
		return err
	}

	b.logger.Info("bolt snapshot saved successfully",
		zap.String("file", b.filename),
		zap.Int("keys", len(records)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Load reads every bucket of the snapshot in a read only transaction
func (b *BoltSnapshot) Load() ([]storage.Record, error) {
	if _, err := os.Stat(b.filename); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	start := time.Now()

	tree, err := bbolt.Open(b.filename, 0644, &bbolt.Options{ReadOnly: true, Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	defer tree.Close() //nolint:errcheck

	var records []storage.Record
	err = tree.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, bucket *bbolt.Bucket) error {
			db, err := strconv.Atoi(strings.TrimPrefix(string(name), bucketPrefix))
			if err != nil || !strings.HasPrefix(string(name), bucketPrefix) {
				return fmt.Errorf("%w: unexpected bucket %q", ErrCorruptSnapshot, name)
			}

			return bucket.ForEach(func(k, v []byte) error {
				rec, err := decodeBoltValue(db, k, v)
				if err != nil {
					return err
				}
				records = append(records, rec)
				return nil
			})
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.filename, err)
	}

	b.logger.Info("bolt snapshot loaded",
		zap.String("file", b.filename),
		zap.Int("keys", len(records)),
		zap.Duration("duration", time.Since(start)),
	)
	return records, nil
}

func decodeBoltValue(db int, k, v []byte) (storage.Record, error) {
	if len(k) == 0 || k[0] != 'k' || len(v) == 0 {
		return storage.Record{}, fmt.Errorf("%w: malformed entry %q", ErrCorruptSnapshot, k)
	}

	exp, n := binary.Varint(v[1:])
	if n <= 0 {
		return storage.Record{}, fmt.Errorf("%w: bad expiry for %q", ErrCorruptSnapshot, k[1:])
	}

	// bbolt memory is only valid inside the transaction, DecodePayload copies
	e, err := storage.DecodePayload(storage.DataType(v[0]), v[1+n:])
	if err != nil {
		return storage.Record{}, fmt.Errorf("%w: key %q: %w", ErrCorruptSnapshot, k[1:], err)
	}

	return storage.Record{DB: db, Key: string(k[1:]), Entity: e, ExpireAt: exp}, nil
}
