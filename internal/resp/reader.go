package resp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
)

const (
	maxBulkLen  = 512 * 1024 * 1024
	maxArrayLen = 1024 * 1024
	maxInline   = 64 * 1024
	bulkChunk   = 64 * 1024
)

var (
	// ErrProtocol marks malformed framing. The connection cannot recover from it
	ErrProtocol = errors.New("protocol error")

	ErrInvalidEnding = errors.New("invalid line ending")
)

// Decoder reads RESP frames and inline commands from a stream
type Decoder struct {
	rd *bufio.Reader
}

// NewDecoder wraps rd into a buffered RESP decoder
func NewDecoder(rd io.Reader) *Decoder {
	return &Decoder{rd: bufio.NewReader(rd)}
}

// Buffered returns the number of bytes already read from the socket but not yet decoded
func (d *Decoder) Buffered() int {
	return d.rd.Buffered()
}

// Read decodes the next value. Lines without a type prefix are parsed as inline commands
func (d *Decoder) Read() (Value, error) {
	_type, err := d.rd.ReadByte()
	if err != nil {
		return Value{}, err
	}

	switch _type {
	case TypeSimpleString, TypeError:
		str, err := d.readLine()
		if err != nil {
			return Value{}, err
		}
		return Value{Type: _type, String: str}, nil

	case TypeInteger:
		num, err := d.readInteger()
		if err != nil {
			return Value{}, err
		}
		return Value{Type: TypeInteger, Integer: num}, nil

	case TypeBulkString:
		return d.readBulk()

	case TypeArray:
		return d.readArray()
	}

	if err := d.rd.UnreadByte(); err != nil {
		return Value{}, err
	}
	return d.readInline()
}

// readLine reads up to CRLF and strips it
func (d *Decoder) readLine() ([]byte, error) {
	line, err := d.rd.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, ErrInvalidEnding)
	}

	return line[:len(line)-2], nil
}

func (d *Decoder) readInteger() (int64, error) {
	line, err := d.readLine()
	if err != nil {
		return 0, err
	}

	// Command with integer cant be empty
	if len(line) == 0 {
		return 0, fmt.Errorf("%w: empty integer", ErrProtocol)
	}

	num, err := strconv.ParseInt(string(line), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid integer %q", ErrProtocol, line)
	}

	return num, nil
}

func (d *Decoder) readBulk() (Value, error) {
	n, err := d.readInteger()
	if err != nil {
		return Value{}, err
	}

	if n == -1 {
		return MakeNilBulkString(), nil
	}
	if n < 0 || n > maxBulkLen {
		return Value{}, fmt.Errorf("%w: invalid bulk length %d", ErrProtocol, n)
	}

	// the buffer grows with the payload actually received, not with the declared length
	total := int(n) + 2
	buf := make([]byte, 0, min(total, bulkChunk))
	for len(buf) < total {
		start, step := len(buf), min(total-len(buf), bulkChunk)
		buf = slices.Grow(buf, step)[:start+step]
		if _, err := io.ReadFull(d.rd, buf[start:]); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return Value{}, err
		}
	}
	if buf[n] != '\r' || buf[n+1] != '\n' {
		return Value{}, fmt.Errorf("%w: %w", ErrProtocol, ErrInvalidEnding)
	}

	return MakeBulkBytes(buf[:n]), nil
}

func (d *Decoder) readArray() (Value, error) {
	n, err := d.readInteger()
	if err != nil {
		return Value{}, err
	}

	if n == -1 {
		return MakeNilArray(), nil
	}
	if n < 0 || n > maxArrayLen {
		return Value{}, fmt.Errorf("%w: invalid multibulk length %d", ErrProtocol, n)
	}

	// requests are flat arrays of bulk strings, anything else is rejected before it can nest
	arr := make([]Value, n)
	for i := range arr {
		el, err := d.readArgument()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return Value{}, err
		}
		arr[i] = el
	}

	return MakeArray(arr), nil
}

// readArgument reads one element of a request array, which must be a non-null bulk string
func (d *Decoder) readArgument() (Value, error) {
	b, err := d.rd.ReadByte()
	if err != nil {
		return Value{}, err
	}
	if b != TypeBulkString {
		return Value{}, fmt.Errorf("%w: expected '$', got '%c'", ErrProtocol, b)
	}

	el, err := d.readBulk()
	if err != nil {
		return Value{}, err
	}
	if el.IsNull {
		return Value{}, fmt.Errorf("%w: null bulk string in request", ErrProtocol)
	}
	return el, nil
}

// readInline parses a space separated command line, as sent by telnet
func (d *Decoder) readInline() (Value, error) {
	line, err := d.rd.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return Value{}, fmt.Errorf("%w: too big inline request", ErrProtocol)
		}
		if err == io.EOF && len(line) > 0 {
			return Value{}, io.ErrUnexpectedEOF
		}
		return Value{}, err
	}
	if len(line) > maxInline {
		return Value{}, fmt.Errorf("%w: too big inline request", ErrProtocol)
	}

	fields := bytes.Fields(line)
	arr := make([]Value, len(fields))
	for i, f := range fields {
		arr[i] = MakeBulkBytes(bytes.Clone(f))
	}

	return MakeArray(arr), nil
}
