package resp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

var crlf = []byte("\r\n")

// Encoder serializes replies into a buffered stream.
// Nothing reaches the stream until Flush is called
type Encoder struct {
	wr      *bufio.Writer
	scratch []byte
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{wr: bufio.NewWriter(w)}
}

// Write appends v to the buffer. Values of unknown type are rejected before anything is written
func (e *Encoder) Write(v Value) error {
	switch v.Type {
	case TypeInteger:
		return e.writeNumber(TypeInteger, v.Integer)
	case TypeSimpleString, TypeError:
		return e.writeLine(v.Type, v.String)
	case TypeBulkString:
		return e.writeBulk(v)
	case TypeArray:
		return e.writeArray(v)
	}
	return fmt.Errorf("resp: cannot encode value of type %q", v.Type)
}

// Flush sends buffered replies to the underlying stream
func (e *Encoder) Flush() error {
	return e.wr.Flush()
}

func (e *Encoder) writeBulk(v Value) error {
	if v.IsNull {
		_, err := e.wr.WriteString("$-1\r\n")
		return err
	}
	if err := e.writeNumber(TypeBulkString, int64(len(v.String))); err != nil {
		return err
	}
	if _, err := e.wr.Write(v.String); err != nil {
		return err
	}
	_, err := e.wr.Write(crlf)
	return err
}

func (e *Encoder) writeArray(v Value) error {
	if v.IsNull {
		_, err := e.wr.WriteString("*-1\r\n")
		return err
	}
	if err := e.writeNumber(TypeArray, int64(len(v.Array))); err != nil {
		return err
	}
	for _, el := range v.Array {
		if err := e.Write(el); err != nil {
			return err
		}
	}
	return nil
}

// writeNumber writes the prefix followed by n and CRLF, used for integers and length headers
func (e *Encoder) writeNumber(prefix byte, n int64) error {
	e.scratch = append(e.scratch[:0], prefix)
	e.scratch = strconv.AppendInt(e.scratch, n, 10)
	e.scratch = append(e.scratch, crlf...)
	_, err := e.wr.Write(e.scratch)
	return err
}

// writeLine writes a simple string or error. CR and LF inside the payload would end the frame early,
// so they are replaced with spaces
func (e *Encoder) writeLine(prefix byte, b []byte) error {
	if err := e.wr.WriteByte(prefix); err != nil {
		return err
	}
	if bytes.ContainsAny(b, "\r\n") {
		b = bytes.Map(func(r rune) rune {
			if r == '\r' || r == '\n' {
				return ' '
			}
			return r
		}, b)
	}
	if _, err := e.wr.Write(b); err != nil {
		return err
	}
	_, err := e.wr.Write(crlf)
	return err
}
