package storage

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Keyspace is a thread-safe multi database key-value storage,
// divided into segments (shards) to reduce contention for locking
type Keyspace struct {
	shards    []*shard
	shardMask uint32
	databases int
	all       []uint32

	expiredKeys atomic.Uint64
}

// NewKeyspace creates a new instance of Keyspace.
// The requestedShards parameter must be a power of two for efficient allocation.
// The maximum allowed number of shards is 64.
func NewKeyspace(requestedShards uint, databases int) (*Keyspace, error) {
	if bits.OnesCount(requestedShards) != 1 {
		return nil, errors.New("requested shards must be a power of 2")
	}

	if requestedShards > 64 {
		return nil, errors.New("requested shards must be less or equal than 64")
	}

	if databases < 1 {
		return nil, errors.New("at least one database is required")
	}

	k := &Keyspace{
		shards:    make([]*shard, requestedShards),
		shardMask: uint32(requestedShards - 1),
		databases: databases,
		all:       make([]uint32, requestedShards),
	}

	for i := range k.shards {
		k.shards[i] = newShard(databases)
		k.all[i] = uint32(i)
	}

	return k, nil
}

// Databases returns the number of logical databases
func (k *Keyspace) Databases() int {
	return k.databases
}

// getShardIndex returns index of shard by key
func (k *Keyspace) getShardIndex(key string) uint32 {
	return uint32(xxhash.Sum64String(key)) & k.shardMask
}

// Acquire locks the shards owning keys in ascending order and returns the locked view
func (k *Keyspace) Acquire(keys ...string) *Tx {
	idx := make([]uint32, 0, len(keys))
	for _, key := range keys {
		idx = append(idx, k.getShardIndex(key))
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i] < idx[j] })

	// dedupe, a shard mutex is not reentrant
	uniq := idx[:0]
	for i, v := range idx {
		if i == 0 || v != idx[i-1] {
			uniq = append(uniq, v)
		}
	}

	return k.lock(uniq, len(uniq) == len(k.shards))
}

// AcquireAll locks every shard. Required by commands that scan or clear whole databases
func (k *Keyspace) AcquireAll() *Tx {
	return k.lock(k.all, true)
}

func (k *Keyspace) lock(idx []uint32, all bool) *Tx {
	for _, i := range idx {
		k.shards[i].mu.Lock()
	}
	return &Tx{
		ks:     k,
		shards: idx,
		all:    all,
		now:    time.Now().UnixNano(),
	}
}

// DeleteExpired randomly selects a limit of keys from each shard and delete if his TTL has expired.
// Returns the ratio of expired to checked keys
func (k *Keyspace) DeleteExpired(limit int) float64 {
	var wg sync.WaitGroup
	var checked, expired atomic.Int64

	wg.Add(len(k.shards))

	for _, sh := range k.shards {
		go func(s *shard) {
			defer wg.Done()

			s.mu.Lock()
			now := time.Now().UnixNano()
			for _, d := range s.dbs {
				c, e := d.deleteExpired(limit, now)
				checked.Add(int64(c))
				expired.Add(int64(e))
			}
			s.mu.Unlock()
		}(sh)
	}

	wg.Wait()

	if checked.Load() == 0 {
		return 0.0
	}

	k.expiredKeys.Add(uint64(expired.Load()))
	return float64(expired.Load()) / float64(checked.Load())
}

// ExpiredKeys returns how many keys were removed because their TTL passed
func (k *Keyspace) ExpiredKeys() uint64 {
	return k.expiredKeys.Load()
}

// Dump takes a deep copy of every live key under the all-shard lock,
// so the result is a consistent point in time view
func (k *Keyspace) Dump() []Record {
	tx := k.AcquireAll()
	defer tx.Release()
	return tx.Dump()
}

// Restore inserts records as they are, keeping their absolute expiry
func (k *Keyspace) Restore(records []Record) error {
	for _, r := range records {
		if r.DB < 0 || r.DB >= k.databases {
			return fmt.Errorf("record %q: database index %d out of range", r.Key, r.DB)
		}
	}

	tx := k.AcquireAll()
	defer tx.Release()

	for _, r := range records {
		if r.ExpireAt != 0 && tx.now > r.ExpireAt {
			continue
		}
		tx.DB(r.DB).Put(r.Key, r.Entity, r.ExpireAt)
	}
	return nil
}

// Stats returns key counts of every non empty database
func (k *Keyspace) Stats() []DBStats {
	tx := k.AcquireAll()
	defer tx.Release()
	return tx.Stats()
}
