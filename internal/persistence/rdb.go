package persistence

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"time"

	"github.com/eternalApril/rudis/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/exp/mmap"
)

const (
	rdbMagic = "RUDIS001"
	opEOF    = 0xFF
)

// RDB is the binary snapshot file.
//
//	magic "RUDIS001"
//	record*: type byte, uvarint db, varint expireAt, uvarint len + key, uvarint len + payload
//	0xFF
//	crc32 (IEEE, little endian) of everything before it
type RDB struct {
	filename string
	logger   *zap.Logger
}

func NewRDB(filename string, logger *zap.Logger) *RDB {
	return &RDB{
		filename: filename,
		logger:   logger,
	}
}

func (r *RDB) Filename() string {
	return r.filename
}

// Save performs an atomic save operation
func (r *RDB) Save(records []storage.Record) error {
	start := time.Now()

	err := writeAtomic(r.filename, func(w io.Writer) error {
		sum := crc32.NewIEEE()
		mw := io.MultiWriter(w, sum)

		if _, err := io.WriteString(mw, rdbMagic); err != nil {
			return err
		}

		buf := make([]byte, 0, 256)
		for _, rec := range records {
			buf = appendRecord(buf[:0], rec)
			if _, err := mw.Write(buf); err != nil {
				return err
			}
		}

		if _, err := mw.Write([]byte{opEOF}); err != nil {
			return err
		}

		_, err := w.Write(binary.LittleEndian.AppendUint32(nil, sum.Sum32()))
		return err
	})
	if err != nil {
		return err
	}

	r.logger.Info("RDB saved successfully",
		zap.String("file", r.filename),
		zap.Int("keys", len(records)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func appendRecord(dst []byte, rec storage.Record) []byte {
	dst = append(dst, byte(rec.Entity.Type))
	dst = binary.AppendUvarint(dst, uint64(rec.DB))
	dst = binary.AppendVarint(dst, rec.ExpireAt)
	dst = binary.AppendUvarint(dst, uint64(len(rec.Key)))
	dst = append(dst, rec.Key...)

	payload := storage.AppendPayload(nil, rec.Entity)
	dst = binary.AppendUvarint(dst, uint64(len(payload)))
	return append(dst, payload...)
}

// Load maps the snapshot into memory, verifies the checksum and decodes every record
func (r *RDB) Load() ([]storage.Record, error) {
	if _, err := os.Stat(r.filename); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	start := time.Now()

	readerAt, err := mmap.Open(r.filename)
	if err != nil {
		return nil, err
	}
	defer readerAt.Close() //nolint:errcheck

	data := make([]byte, readerAt.Len())
	if _, err := readerAt.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, err
	}

	records, err := decodeRDB(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.filename, err)
	}

	r.logger.Info("RDB loaded",
		zap.String("file", r.filename),
		zap.Int("keys", len(records)),
		zap.Duration("duration", time.Since(start)),
	)
	return records, nil
}

func decodeRDB(data []byte) ([]storage.Record, error) {
	if len(data) < len(rdbMagic)+1+4 || string(data[:len(rdbMagic)]) != rdbMagic {
		return nil, fmt.Errorf("%w: bad header", ErrCorruptSnapshot)
	}

	body, trailer := data[:len(data)-4], data[len(data)-4:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(trailer) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptSnapshot)
	}

	var records []storage.Record
	pos := len(rdbMagic)

	for {
		if pos >= len(body) {
			return nil, fmt.Errorf("%w: missing EOF marker", ErrCorruptSnapshot)
		}

		op := body[pos]
		pos++
		if op == opEOF {
			if pos != len(body) {
				return nil, fmt.Errorf("%w: data after EOF marker", ErrCorruptSnapshot)
			}
			return records, nil
		}

		rec, n, err := decodeRecord(storage.DataType(op), body[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		records = append(records, rec)
	}
}

func decodeRecord(t storage.DataType, b []byte) (storage.Record, int, error) {
	var rec storage.Record
	pos := 0

	db, n := binary.Uvarint(b[pos:])
	if n <= 0 {
		return rec, 0, fmt.Errorf("%w: bad db index", ErrCorruptSnapshot)
	}
	pos += n

	exp, n := binary.Varint(b[pos:])
	if n <= 0 {
		return rec, 0, fmt.Errorf("%w: bad expiry", ErrCorruptSnapshot)
	}
	pos += n

	key, n, err := readBytes(b[pos:])
	if err != nil {
		return rec, 0, err
	}
	pos += n

	payload, n, err := readBytes(b[pos:])
	if err != nil {
		return rec, 0, err
	}
	pos += n

	e, err := storage.DecodePayload(t, payload)
	if err != nil {
		return rec, 0, fmt.Errorf("%w: key %q: %w", ErrCorruptSnapshot, key, err)
	}

	rec = storage.Record{DB: int(db), Key: string(key), Entity: e, ExpireAt: exp}
	return rec, pos, nil
}

func readBytes(b []byte) ([]byte, int, error) {
	l, n := binary.Uvarint(b)
	if n <= 0 || l > uint64(len(b)-n) {
		return nil, 0, fmt.Errorf("%w: bad length", ErrCorruptSnapshot)
	}
	end := n + int(l)
	return b[n:end], end, nil
}
