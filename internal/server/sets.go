package server

import (
	"github.com/eternalApril/rudis/internal/resp"
	"github.com/eternalApril/rudis/internal/storage"
)

func (e *Engine) registerSetCommands() {
	e.register("SADD", commandFunc(sadd))
	e.register("SREM", commandFunc(srem))
	e.register("SPOP", commandFunc(spop))
	e.register("SCARD", commandFunc(scard))
	e.register("SISMEMBER", commandFunc(sismember))
	e.register("SMEMBERS", commandFunc(smembers))
	e.register("SUNION", commandFunc(sunion))
	e.register("SINTER", commandFunc(sinter))
	e.register("SUNIONSTORE", commandFunc(sunionstore))
}

func sadd(ctx *context) (resp.Value, error) {
	s, err := ctx.db.LookupSet(ctx.key(0), true)
	if err != nil {
		return resp.Value{}, err
	}

	var added int64
	for _, m := range ctx.args[1:] {
		if _, ok := s[string(m)]; !ok {
			s[string(m)] = struct{}{}
			added++
		}
	}

	ctx.changed(added)
	return resp.MakeInteger(added), nil
}

func srem(ctx *context) (resp.Value, error) {
	key := ctx.key(0)
	s, err := ctx.db.LookupSet(key, false)
	if err != nil || s == nil {
		return resp.MakeInteger(0), err
	}

	var removed int64
	for _, m := range ctx.args[1:] {
		if _, ok := s[string(m)]; ok {
			delete(s, string(m))
			removed++
		}
	}

	ctx.db.RemoveIfEmpty(key)
	ctx.changed(removed)
	return resp.MakeInteger(removed), nil
}

// spop removes random members. The change is logged as SREM of the chosen members
func spop(ctx *context) (resp.Value, error) {
	if len(ctx.args) > 2 {
		return resp.Value{}, ErrSyntax
	}

	withCount := len(ctx.args) == 2
	count := int64(1)
	if withCount {
		n, err := parseInt(ctx.args[1])
		if err != nil {
			return resp.Value{}, err
		}
		if n < 0 {
			return resp.Value{}, ErrNotPositive
		}
		count = n
	}

	key := ctx.key(0)
	s, err := ctx.db.LookupSet(key, false)
	if err != nil {
		return resp.Value{}, err
	}
	if s == nil {
		if withCount {
			return resp.MakeArray([]resp.Value{}), nil
		}
		return resp.MakeNilBulkString(), nil
	}

	// map iteration order is randomized
	popped := make([]string, 0, min(count, int64(len(s))))
	for m := range s {
		if int64(len(popped)) >= count {
			break
		}
		popped = append(popped, m)
	}
	for _, m := range popped {
		delete(s, m)
	}

	ctx.db.RemoveIfEmpty(key)

	if len(popped) > 0 {
		ctx.changed(int64(len(popped)))

		argv := make([][]byte, 0, len(popped)+2)
		argv = append(argv, []byte("SREM"), []byte(key))
		for _, m := range popped {
			argv = append(argv, []byte(m))
		}
		ctx.rewrite(argv...)
	}

	if withCount {
		return resp.MakeBulkArray(popped), nil
	}
	if len(popped) == 0 {
		return resp.MakeNilBulkString(), nil
	}
	return resp.MakeBulkString(popped[0]), nil
}

func scard(ctx *context) (resp.Value, error) {
	s, err := ctx.db.LookupSet(ctx.key(0), false)
	if err != nil {
		return resp.Value{}, err
	}
	return resp.MakeInteger(int64(len(s))), nil
}

func sismember(ctx *context) (resp.Value, error) {
	s, err := ctx.db.LookupSet(ctx.key(0), false)
	if err != nil {
		return resp.Value{}, err
	}
	_, ok := s[string(ctx.args[1])]
	return resp.MakeBool(ok), nil
}

func smembers(ctx *context) (resp.Value, error) {
	s, err := ctx.db.LookupSet(ctx.key(0), false)
	if err != nil {
		return resp.Value{}, err
	}
	return sortedBulkArray(setMembers(s)), nil
}

func sunion(ctx *context) (resp.Value, error) {
	u, err := union(ctx.db, ctx.keys(0))
	if err != nil {
		return resp.Value{}, err
	}
	return sortedBulkArray(setMembers(u)), nil
}

func sinter(ctx *context) (resp.Value, error) {
	sets := make([]storage.Set, 0, len(ctx.args))
	for _, key := range ctx.keys(0) {
		s, err := ctx.db.LookupSet(key, false)
		if err != nil {
			return resp.Value{}, err
		}
		sets = append(sets, s)
	}

	out := make([]string, 0)
	for m := range sets[0] {
		inAll := true
		for _, other := range sets[1:] {
			if _, ok := other[m]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			out = append(out, m)
		}
	}
	return sortedBulkArray(out), nil
}

// sunionstore replaces destination with the union of the sources, an empty union deletes it
func sunionstore(ctx *context) (resp.Value, error) {
	dst := ctx.key(0)

	u, err := union(ctx.db, ctx.keys(1))
	if err != nil {
		return resp.Value{}, err
	}

	if len(u) == 0 {
		if ctx.db.Delete(dst) {
			ctx.changed(1)
		}
		return resp.MakeInteger(0), nil
	}

	ctx.db.Set(dst, storage.NewSetEntity(u))
	ctx.changed(1)
	return resp.MakeInteger(int64(len(u))), nil
}

// union builds a new set, absent keys count as empty sets
func union(db *storage.DB, keys []string) (storage.Set, error) {
	out := make(storage.Set)
	for _, key := range keys {
		s, err := db.LookupSet(key, false)
		if err != nil {
			return nil, err
		}
		for m := range s {
			out[m] = struct{}{}
		}
	}
	return out, nil
}

func setMembers(s storage.Set) []string {
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	return out
}
