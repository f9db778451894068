package storage

import (
	"errors"
	"time"
)

var (
	// ErrWrongType is returned when a key holds a different value variant than requested
	ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

	// ErrCorrupt is returned when a serialized entity can not be decoded
	ErrCorrupt = errors.New("corrupt entity payload")
)

type ExpiryStatus int

const (
	// ExpNotFound means that the key does not exist
	ExpNotFound ExpiryStatus = -2
	// ExpNoTimeout means that the key exists, but it does not have a TTL
	ExpNoTimeout ExpiryStatus = -1
	// ExpActive means that the key has an active lifetime
	ExpActive ExpiryStatus = 1
)

type SetOptions struct {
	ExpireAt time.Time // absolute deadline, zero means no TTL
	KeepTTL  bool      // if true, retain the existing TTL (ignore ExpireAt)
	NX       bool      // only set if the key does not exist
	XX       bool      // only set if the key already exists
}

// Record is one key of a point in time dump of the keyspace
type Record struct {
	DB       int
	Key      string
	Entity   *Entity
	ExpireAt int64 // Unix nanoseconds. 0 means no TTL
}

// DBStats is the per database line of INFO keyspace
type DBStats struct {
	Index   int
	Keys    int
	Expires int
}
