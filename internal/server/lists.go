package server

import "github.com/eternalApril/rudis/internal/resp"

func (e *Engine) registerListCommands() {
	e.register("LPUSH", pushCommand(true, false))
	e.register("RPUSH", pushCommand(false, false))
	e.register("LPUSHX", pushCommand(true, true))
	e.register("RPUSHX", pushCommand(false, true))
	e.register("LPOP", popCommand(true))
	e.register("RPOP", popCommand(false))
	e.register("LLEN", commandFunc(llen))
	e.register("LINDEX", commandFunc(lindex))
	e.register("LRANGE", commandFunc(lrange))
	e.register("LSET", commandFunc(lset))
}

// pushCommand builds the push family. The X variants only push onto an existing list
func pushCommand(head, existing bool) commandFunc {
	return func(ctx *context) (resp.Value, error) {
		l, err := ctx.db.LookupList(ctx.key(0), !existing)
		if err != nil {
			return resp.Value{}, err
		}
		if l == nil {
			return resp.MakeInteger(0), nil
		}

		for _, v := range ctx.args[1:] {
			if head {
				l.PushFront(string(v))
			} else {
				l.PushBack(string(v))
			}
		}

		ctx.changed(int64(len(ctx.args) - 1))
		return resp.MakeInteger(int64(l.Len())), nil
	}
}

// popCommand builds LPOP and RPOP. With a count the reply is an array
func popCommand(head bool) commandFunc {
	return func(ctx *context) (resp.Value, error) {
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
		l, err := ctx.db.LookupList(key, false)
		if err != nil {
			return resp.Value{}, err
		}
		if l == nil {
			if withCount {
				return resp.MakeNilArray(), nil
			}
			return resp.MakeNilBulkString(), nil
		}

		popped := make([]string, 0, min(count, int64(l.Len())))
		for int64(len(popped)) < count {
			var (
				v  string
				ok bool
			)
			if head {
				v, ok = l.PopFront()
			} else {
				v, ok = l.PopBack()
			}
			if !ok {
				break
			}
			popped = append(popped, v)
		}

		ctx.db.RemoveIfEmpty(key)
		ctx.changed(int64(len(popped)))

		if withCount {
			return resp.MakeBulkArray(popped), nil
		}
		if len(popped) == 0 {
			return resp.MakeNilBulkString(), nil
		}
		return resp.MakeBulkString(popped[0]), nil
	}
}

func llen(ctx *context) (resp.Value, error) {
	l, err := ctx.db.LookupList(ctx.key(0), false)
	if err != nil || l == nil {
		return resp.MakeInteger(0), err
	}
	return resp.MakeInteger(int64(l.Len())), nil
}

func lindex(ctx *context) (resp.Value, error) {
	index, err := parseInt(ctx.args[1])
	if err != nil {
		return resp.Value{}, err
	}

	l, err := ctx.db.LookupList(ctx.key(0), false)
	if err != nil {
		return resp.Value{}, err
	}
	if l == nil {
		return resp.MakeNilBulkString(), nil
	}
	return bulkOrNil(l.Index(clampIndex(index))), nil
}

func lrange(ctx *context) (resp.Value, error) {
	start, stop, err := parseRange(ctx.args[1], ctx.args[2])
	if err != nil {
		return resp.Value{}, err
	}

	l, err := ctx.db.LookupList(ctx.key(0), false)
	if err != nil {
		return resp.Value{}, err
	}
	if l == nil {
		return resp.MakeArray([]resp.Value{}), nil
	}
	return resp.MakeBulkArray(l.Range(start, stop)), nil
}

func lset(ctx *context) (resp.Value, error) {
	index, err := parseInt(ctx.args[1])
	if err != nil {
		return resp.Value{}, err
	}

	l, err := ctx.db.LookupList(ctx.key(0), false)
	if err != nil {
		return resp.Value{}, err
	}
	if l == nil {
		return resp.Value{}, ErrNoSuchKey
	}
	if !l.SetAt(clampIndex(index), string(ctx.args[2])) {
		return resp.Value{}, ErrOutOfRange
	}

	ctx.changed(1)
	return resp.MakeOK(), nil
}

// parseRange reads the start and stop arguments of LRANGE and ZRANGE
func parseRange(a, b []byte) (int, int, error) {
	start, err := parseInt(a)
	if err != nil {
		return 0, 0, err
	}
	stop, err := parseInt(b)
	if err != nil {
		return 0, 0, err
	}
	return clampIndex(start), clampIndex(stop), nil
}

// clampIndex keeps huge indexes from overflowing int arithmetic in the containers
func clampIndex(n int64) int {
	const limit = 1 << 40
	switch {
	case n > limit:
		return limit
	case n < -limit:
		return -limit
	}
	return int(n)
}
