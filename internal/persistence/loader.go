package persistence

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/eternalApril/rudis/internal/resp"
	"go.uber.org/zap"
)

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Load reads the AOF file and calls apply for every logged command in order.
// A command cut in the middle by a crash is logged, ignored and truncated away,
// so new appends do not follow garbage. Returns the number of applied commands
func (a *AOF) Load(apply func(args [][]byte) error) (int, error) {
	file, err := os.Open(a.filename)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil // Fresh start
		}
		return 0, err
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		return 0, err
	}

	counter := &countingReader{r: file}
	reader := resp.NewDecoder(counter)
	var (
		applied int
		offset  int64
	)

	for {
		val, err := reader.Read()
		if err != nil {
			if err == io.EOF && offset == info.Size() {
				break
			}
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				a.logger.Warn("AOF ends with a truncated command, ignoring the tail",
					zap.String("file", a.filename),
					zap.Int64("valid_bytes", offset),
					zap.Int64("file_size", info.Size()),
				)
				if err := a.truncate(offset); err != nil {
					return applied, err
				}
				break
			}
			return applied, fmt.Errorf("aof offset %d: %w", offset, err)
		}
		offset = counter.n - int64(reader.Buffered())

		if val.Type != resp.TypeArray || len(val.Array) == 0 {
			return applied, fmt.Errorf("aof offset %d: %w: expected command array", offset, resp.ErrProtocol)
		}

		if err := apply(val.Args()); err != nil {
			return applied, fmt.Errorf("aof replay of %q: %w", val.Array[0].String, err)
		}
		applied++
	}

	return applied, nil
}

func (a *AOF) truncate(size int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pending = a.pending[:0]
	return a.file.Truncate(size)
}
