package storage

import (
	"math/rand"
	"sort"
	"strings"
	"time"

	art "github.com/plar/go-adaptive-radix-tree"
)

// Tx is a set of locked shards. Every command runs inside exactly one Tx,
// which makes each command atomic to all other clients
type Tx struct {
	ks     *Keyspace
	shards []uint32 // sorted
	all    bool
	now    int64
	done   bool
}

// Release unlocks the shards in reverse order. Calling it twice is a no-op
func (t *Tx) Release() {
	if t.done {
		return
	}
	t.done = true
	for i := len(t.shards) - 1; i >= 0; i-- {
		t.ks.shards[t.shards[i]].mu.Unlock()
	}
}

// Now returns the clock of this transaction, fixed at acquisition
func (t *Tx) Now() time.Time {
	return time.Unix(0, t.now)
}

// Dump deep copies every live key. Requires AcquireAll
func (t *Tx) Dump() []Record {
	if !t.all {
		panic("storage: dump requires AcquireAll")
	}

	var out []Record
	for _, s := range t.ks.shards {
		for dbIndex, d := range s.dbs {
			for key, e := range d.data {
				exp := d.expires[key]
				if exp != 0 && t.now > exp {
					continue
				}
				out = append(out, Record{
					DB:       dbIndex,
					Key:      key,
					Entity:   e.Clone(),
					ExpireAt: exp,
				})
			}
		}
	}
	return out
}

// Stats returns key counts of every non empty database. Requires AcquireAll
func (t *Tx) Stats() []DBStats {
	var out []DBStats
	for i := 0; i < t.ks.databases; i++ {
		db := t.DB(i)
		if n := db.Size(); n > 0 {
			out = append(out, DBStats{Index: i, Keys: n, Expires: db.ExpiresSize()})
		}
	}
	return out
}

// DB returns a view of the logical database index
func (t *Tx) DB(index int) *DB {
	return &DB{tx: t, index: index}
}

func (t *Tx) holds(i uint32) bool {
	if t.all {
		return true
	}
	n := sort.Search(len(t.shards), func(j int) bool { return t.shards[j] >= i })
	return n < len(t.shards) && t.shards[n] == i
}

// DB is a view of one logical database inside a Tx
type DB struct {
	tx    *Tx
	index int
}

// Index returns the logical database number
func (d *DB) Index() int {
	return d.index
}

func (d *DB) part(key string) *database {
	i := d.tx.ks.getShardIndex(key)
	if !d.tx.holds(i) {
		panic("storage: key " + key + " accessed without holding its shard")
	}
	return d.tx.ks.shards[i].dbs[d.index]
}

func (d *DB) mustHoldAll() {
	if !d.tx.all {
		panic("storage: whole database access requires AcquireAll")
	}
}

// Get returns the entity and true if the key is found and not expired
func (d *DB) Get(key string) (*Entity, bool) {
	e, ok, purged := d.part(key).lookup(key, d.tx.now)
	if purged {
		d.tx.ks.expiredKeys.Add(1)
	}
	return e, ok
}

// Exists reports whether key holds a live value
func (d *DB) Exists(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Type returns the variant stored at key
func (d *DB) Type(key string) (DataType, bool) {
	e, ok := d.Get(key)
	if !ok {
		return 0, false
	}
	return e.Type, true
}

// Set stores e at key, replacing any value and TTL
func (d *DB) Set(key string, e *Entity) {
	p := d.part(key)
	p.insert(key, e)
	delete(p.expires, key)
}

// Update stores e at key, keeping the TTL of a live previous value
func (d *DB) Update(key string, e *Entity) {
	if _, ok := d.Get(key); !ok {
		d.Set(key, e)
		return
	}
	d.part(key).insert(key, e)
}

// Put stores e with an absolute expiry in unix nanoseconds, 0 for none
func (d *DB) Put(key string, e *Entity, expireAt int64) {
	p := d.part(key)
	p.insert(key, e)
	if expireAt > 0 {
		p.expires[key] = expireAt
	} else {
		delete(p.expires, key)
	}
}

// Take removes key and returns its entity and absolute expiry
func (d *DB) Take(key string) (*Entity, int64, bool) {
	e, ok := d.Get(key)
	if !ok {
		return nil, 0, false
	}
	p := d.part(key)
	exp := p.expires[key]
	p.remove(key)
	return e, exp, true
}

// SetString writes the value based on the options. Returns true if recording has been performed
func (d *DB) SetString(key, value string, options SetOptions) bool {
	p := d.part(key)
	_, exists := d.Get(key)

	if options.NX && exists {
		return false
	}

	if options.XX && !exists {
		return false
	}

	p.insert(key, NewStringEntity(value))

	if options.KeepTTL {
		// if KEEPTTL is set, we do nothing to expires (retain existing)
		// however, if the key is new (freshly created), KEEPTTL behaves like no TTL
		if !exists {
			delete(p.expires, key)
		}
	} else {
		if options.ExpireAt.IsZero() {
			// no TTL provided (and not KEEPTTL), so we remove any existing expiration (persist)
			delete(p.expires, key)
		} else {
			p.expires[key] = options.ExpireAt.UnixNano()
		}
	}

	return true
}

// GetString returns the value of a string key
func (d *DB) GetString(key string) (string, bool, error) {
	e, ok := d.Get(key)
	if !ok {
		return "", false, nil
	}
	if e.Type != TypeString {
		return "", false, ErrWrongType
	}
	return e.Value.(string), true, nil
}

// Delete deletes the key. Returns true if the key existed and was deleted
func (d *DB) Delete(key string) bool {
	if !d.Exists(key) {
		return false
	}
	return d.part(key).remove(key)
}

// Expiry returns the remaining lifetime and status as ExpiryStatus
func (d *DB) Expiry(key string) (time.Duration, ExpiryStatus) {
	if !d.Exists(key) {
		return 0, ExpNotFound
	}

	exp, hasExp := d.part(key).expires[key]
	if !hasExp {
		return 0, ExpNoTimeout
	}

	return time.Duration(exp - d.tx.now), ExpActive
}

// ExpireAt sets an absolute deadline on an existing key. A deadline that already
// passed deletes the key. Returns false if the key does not exist
func (d *DB) ExpireAt(key string, at time.Time) bool {
	if !d.Exists(key) {
		return false
	}

	deadline := at.UnixNano()
	if deadline <= d.tx.now {
		d.part(key).remove(key)
		return true
	}

	d.part(key).expires[key] = deadline
	return true
}

// Persist removes the expiration date of the key, making it eternal.
// Returns true if successful, false if the key was not found or had no TTL
func (d *DB) Persist(key string) bool {
	if !d.Exists(key) {
		return false
	}

	p := d.part(key)
	if _, hasExp := p.expires[key]; !hasExp {
		return false
	}
	delete(p.expires, key)
	return true
}

// LookupList returns the list at key. If the key is absent a new empty list is
// created when create is set, otherwise nil is returned
func (d *DB) LookupList(key string, create bool) (*List, error) {
	e, ok := d.Get(key)
	if !ok {
		if !create {
			return nil, nil
		}
		l := NewList()
		d.Set(key, NewListEntity(l))
		return l, nil
	}
	if e.Type != TypeList {
		return nil, ErrWrongType
	}
	return e.Value.(*List), nil
}

// LookupSet returns the set at key, see LookupList
func (d *DB) LookupSet(key string, create bool) (Set, error) {
	e, ok := d.Get(key)
	if !ok {
		if !create {
			return nil, nil
		}
		s := make(Set)
		d.Set(key, NewSetEntity(s))
		return s, nil
	}
	if e.Type != TypeSet {
		return nil, ErrWrongType
	}
	return e.Value.(Set), nil
}

// LookupHash returns the hash at key, see LookupList
func (d *DB) LookupHash(key string, create bool) (Hash, error) {
	e, ok := d.Get(key)
	if !ok {
		if !create {
			return nil, nil
		}
		h := make(Hash)
		d.Set(key, NewHashEntity(h))
		return h, nil
	}
	if e.Type != TypeHash {
		return nil, ErrWrongType
	}
	return e.Value.(Hash), nil
}

// LookupZSet returns the sorted set at key, see LookupList
func (d *DB) LookupZSet(key string, create bool) (*ZSet, error) {
	e, ok := d.Get(key)
	if !ok {
		if !create {
			return nil, nil
		}
		z := NewZSet()
		d.Set(key, NewZSetEntity(z))
		return z, nil
	}
	if e.Type != TypeZSet {
		return nil, ErrWrongType
	}
	return e.Value.(*ZSet), nil
}

// RemoveIfEmpty deletes a container key that has no elements left
func (d *DB) RemoveIfEmpty(key string) bool {
	e, ok := d.Get(key)
	if !ok || e.Type == TypeString || e.Len() > 0 {
		return false
	}
	return d.part(key).remove(key)
}

// Keys returns the live keys matching a glob pattern in byte order
func (d *DB) Keys(pattern string) []string {
	d.mustHoldAll()

	prefix := literalPrefix(pattern)
	var out []string

	for _, s := range d.tx.ks.shards {
		p := s.dbs[d.index]
		collect := func(key string) {
			if exp, ok := p.expires[key]; ok && d.tx.now > exp {
				return
			}
			if globMatch(pattern, key) {
				out = append(out, key)
			}
		}

		if _, ok := p.data[""]; ok && prefix == "" {
			collect("")
		}
		visit := func(node art.Node) bool {
			collect(string(node.Key()))
			return true
		}
		if prefix == "" {
			p.index.ForEach(visit)
		} else {
			p.index.ForEachPrefix(art.Key(prefix), visit)
		}
	}

	sort.Strings(out)
	return out
}

// RandomKey returns a random live key
func (d *DB) RandomKey() (string, bool) {
	d.mustHoldAll()

	shards := d.tx.ks.shards
	offset := rand.Intn(len(shards))
	for i := range shards {
		p := shards[(offset+i)%len(shards)].dbs[d.index]
		for key := range p.data {
			if exp, ok := p.expires[key]; ok && d.tx.now > exp {
				continue
			}
			return key, true
		}
	}
	return "", false
}

// Size returns the number of keys, including expired ones not yet purged
func (d *DB) Size() int {
	d.mustHoldAll()

	n := 0
	for _, s := range d.tx.ks.shards {
		n += len(s.dbs[d.index].data)
	}
	return n
}

// ExpiresSize returns the number of keys with a TTL
func (d *DB) ExpiresSize() int {
	d.mustHoldAll()

	n := 0
	for _, s := range d.tx.ks.shards {
		n += len(s.dbs[d.index].expires)
	}
	return n
}

// Flush removes every key of the database
func (d *DB) Flush() {
	d.mustHoldAll()

	for _, s := range d.tx.ks.shards {
		s.dbs[d.index] = newDatabase()
	}
}

// literalPrefix returns the part of a glob pattern before the first special character
func literalPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, `*?[\`); i >= 0 {
		return pattern[:i]
	}
	return pattern
}
