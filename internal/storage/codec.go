package storage

import (
	"encoding/binary"
	"fmt"
	"math"
)

// AppendPayload serializes the value of e onto dst.
// Layout by type (all lengths are uvarints):
//
//	string: raw bytes
//	list, set: count, then len+bytes per element
//	hash: count, then len+bytes for field and value
//	zset: count, then len+bytes member and 8 byte little endian float64 score
func AppendPayload(dst []byte, e *Entity) []byte {
	switch v := e.Value.(type) {
	case string:
		return append(dst, v...)
	case *List:
		dst = binary.AppendUvarint(dst, uint64(v.Len()))
		for _, item := range v.Values() {
			dst = appendString(dst, item)
		}
	case Set:
		dst = binary.AppendUvarint(dst, uint64(len(v)))
		for m := range v {
			dst = appendString(dst, m)
		}
	case Hash:
		dst = binary.AppendUvarint(dst, uint64(len(v)))
		for f, val := range v {
			dst = appendString(dst, f)
			dst = appendString(dst, val)
		}
	case *ZSet:
		dst = binary.AppendUvarint(dst, uint64(v.Len()))
		for _, m := range v.Members() {
			dst = appendString(dst, m.Member)
			dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(m.Score))
		}
	}
	return dst
}

// DecodePayload rebuilds an entity of type t from a payload produced by AppendPayload
func DecodePayload(t DataType, b []byte) (*Entity, error) {
	if t == TypeString {
		return NewStringEntity(string(b)), nil
	}
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown type %d", ErrCorrupt, t)
	}

	r := payloadReader{buf: b}
	count := r.uvarint()
	if r.err == nil && count > uint64(len(b)) {
		return nil, fmt.Errorf("%w: element count %d exceeds payload", ErrCorrupt, count)
	}

	var e *Entity
	switch t {
	case TypeList:
		l := NewList()
		for i := uint64(0); i < count && r.err == nil; i++ {
			l.PushBack(r.string())
		}
		e = NewListEntity(l)
	case TypeSet:
		s := make(Set, count)
		for i := uint64(0); i < count && r.err == nil; i++ {
			s[r.string()] = struct{}{}
		}
		e = NewSetEntity(s)
	case TypeHash:
		h := make(Hash, count)
		for i := uint64(0); i < count && r.err == nil; i++ {
			f := r.string()
			h[f] = r.string()
		}
		e = NewHashEntity(h)
	case TypeZSet:
		z := NewZSet()
		for i := uint64(0); i < count && r.err == nil; i++ {
			m := r.string()
			z.Add(m, r.float())
		}
		e = NewZSetEntity(z)
	}

	if r.err != nil {
		return nil, r.err
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(r.buf))
	}
	return e, nil
}

func appendString(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

// payloadReader consumes a payload and remembers the first error
type payloadReader struct {
	buf []byte
	err error
}

func (r *payloadReader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.err = fmt.Errorf("%w: bad length", ErrCorrupt)
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *payloadReader) string() string {
	n := r.uvarint()
	if r.err != nil {
		return ""
	}
	if n > uint64(len(r.buf)) {
		r.err = fmt.Errorf("%w: short element", ErrCorrupt)
		return ""
	}
	s := string(r.buf[:n])
	r.buf = r.buf[n:]
	return s
}

func (r *payloadReader) float() float64 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 8 {
		r.err = fmt.Errorf("%w: short score", ErrCorrupt)
		return 0
	}
	f := math.Float64frombits(binary.LittleEndian.Uint64(r.buf[:8]))
	r.buf = r.buf[8:]
	return f
}
