package storage

import (
	"sync"

	art "github.com/plar/go-adaptive-radix-tree"
)

// shard owns a slice of the keyspace for every logical database
type shard struct {
	mu  sync.Mutex
	dbs []*database
}

// database is the part of one logical database that lives in a shard
type database struct {
	data    map[string]*Entity // key - value
	expires map[string]int64   // key - expires time nanoseconds
	index   art.Tree           // ordered keys, for KEYS
}

func newShard(databases int) *shard {
	s := &shard{dbs: make([]*database, databases)}
	for i := range s.dbs {
		s.dbs[i] = newDatabase()
	}
	return s
}

func newDatabase() *database {
	return &database{
		data:    make(map[string]*Entity),
		expires: make(map[string]int64),
		index:   art.New(),
	}
}

// lookup returns the live entity of key, purging it first if its TTL passed
func (d *database) lookup(key string, now int64) (*Entity, bool, bool) {
	e, ok := d.data[key]
	if !ok {
		return nil, false, false
	}
	if exp, hasExp := d.expires[key]; hasExp && now > exp {
		d.remove(key)
		return nil, false, true
	}
	return e, true, false
}

func (d *database) insert(key string, e *Entity) {
	if _, exists := d.data[key]; !exists && key != "" {
		d.index.Insert(art.Key(key), struct{}{})
	}
	d.data[key] = e
}

func (d *database) remove(key string) bool {
	if _, ok := d.data[key]; !ok {
		return false
	}
	delete(d.data, key)
	delete(d.expires, key)
	if key != "" {
		d.index.Delete(art.Key(key))
	}
	return true
}

// deleteExpired checks up to limit keys with a TTL and removes the expired ones
func (d *database) deleteExpired(limit int, now int64) (checked, expired int) {
	// map iteration order is random, so the first limit keys form a sample
	for key, expTime := range d.expires {
		checked++
		if now > expTime {
			d.remove(key)
			expired++
		}

		if checked >= limit {
			break
		}
	}
	return checked, expired
}
