package server

import (
	"sort"

	"github.com/eternalApril/rudis/internal/resp"
)

func (e *Engine) registerHashCommands() {
	e.register("HSET", hsetCommand(false))
	e.register("HMSET", hsetCommand(true))
	e.register("HSETNX", commandFunc(hsetnx))
	e.register("HGET", commandFunc(hget))
	e.register("HMGET", commandFunc(hmget))
	e.register("HDEL", commandFunc(hdel))
	e.register("HLEN", commandFunc(hlen))
	e.register("HEXISTS", commandFunc(hexists))
	e.register("HGETALL", commandFunc(hgetall))
	e.register("HKEYS", commandFunc(hkeys))
	e.register("HVALS", commandFunc(hvals))
}

// hsetCommand builds HSET, which replies the number of new fields, and HMSET, which replies OK
func hsetCommand(ok bool) commandFunc {
	return func(ctx *context) (resp.Value, error) {
		if len(ctx.args)%2 != 1 {
			return resp.Value{}, wrongArity(ctx.name)
		}

		h, err := ctx.db.LookupHash(ctx.key(0), true)
		if err != nil {
			return resp.Value{}, err
		}

		var added int64
		for i := 1; i < len(ctx.args); i += 2 {
			field := string(ctx.args[i])
			if _, exists := h[field]; !exists {
				added++
			}
			h[field] = string(ctx.args[i+1])
		}

		ctx.changed(int64(len(ctx.args) / 2))
		if ok {
			return resp.MakeOK(), nil
		}
		return resp.MakeInteger(added), nil
	}
}

func hsetnx(ctx *context) (resp.Value, error) {
	h, err := ctx.db.LookupHash(ctx.key(0), true)
	if err != nil {
		return resp.Value{}, err
	}

	field := string(ctx.args[1])
	if _, exists := h[field]; exists {
		return resp.MakeInteger(0), nil
	}

	h[field] = string(ctx.args[2])
	ctx.changed(1)
	return resp.MakeInteger(1), nil
}

func hget(ctx *context) (resp.Value, error) {
	h, err := ctx.db.LookupHash(ctx.key(0), false)
	if err != nil {
		return resp.Value{}, err
	}
	v, ok := h[string(ctx.args[1])]
	return bulkOrNil(v, ok), nil
}

func hmget(ctx *context) (resp.Value, error) {
	h, err := ctx.db.LookupHash(ctx.key(0), false)
	if err != nil {
		return resp.Value{}, err
	}

	out := make([]resp.Value, 0, len(ctx.args)-1)
	for _, field := range ctx.args[1:] {
		v, ok := h[string(field)]
		out = append(out, bulkOrNil(v, ok))
	}
	return resp.MakeArray(out), nil
}

func hdel(ctx *context) (resp.Value, error) {
	key := ctx.key(0)
	h, err := ctx.db.LookupHash(key, false)
	if err != nil || h == nil {
		return resp.MakeInteger(0), err
	}

	var removed int64
	for _, field := range ctx.args[1:] {
		if _, ok := h[string(field)]; ok {
			delete(h, string(field))
			removed++
		}
	}

	ctx.db.RemoveIfEmpty(key)
	ctx.changed(removed)
	return resp.MakeInteger(removed), nil
}

func hlen(ctx *context) (resp.Value, error) {
	h, err := ctx.db.LookupHash(ctx.key(0), false)
	if err != nil {
		return resp.Value{}, err
	}
	return resp.MakeInteger(int64(len(h))), nil
}

func hexists(ctx *context) (resp.Value, error) {
	h, err := ctx.db.LookupHash(ctx.key(0), false)
	if err != nil {
		return resp.Value{}, err
	}
	_, ok := h[string(ctx.args[1])]
	return resp.MakeBool(ok), nil
}

// hgetall replies field value pairs ordered by field
func hgetall(ctx *context) (resp.Value, error) {
	h, err := ctx.db.LookupHash(ctx.key(0), false)
	if err != nil {
		return resp.Value{}, err
	}

	fields := hashFields(h)
	out := make([]resp.Value, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, resp.MakeBulkString(f), resp.MakeBulkString(h[f]))
	}
	return resp.MakeArray(out), nil
}

func hkeys(ctx *context) (resp.Value, error) {
	h, err := ctx.db.LookupHash(ctx.key(0), false)
	if err != nil {
		return resp.Value{}, err
	}
	return resp.MakeBulkArray(hashFields(h)), nil
}

// hvals replies values in the same order HKEYS lists their fields
func hvals(ctx *context) (resp.Value, error) {
	h, err := ctx.db.LookupHash(ctx.key(0), false)
	if err != nil {
		return resp.Value{}, err
	}

	fields := hashFields(h)
	values := make([]string, len(fields))
	for i, f := range fields {
		values[i] = h[f]
	}
	return resp.MakeBulkArray(values), nil
}

func hashFields(h map[string]string) []string {
	fields := make([]string, 0, len(h))
	for f := range h {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
