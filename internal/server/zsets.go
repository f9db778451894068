package server

import (
	"strings"

	"github.com/eternalApril/rudis/internal/resp"
	"github.com/eternalApril/rudis/internal/storage"
)

func (e *Engine) registerZSetCommands() {
	e.register("ZADD", commandFunc(zadd))
	e.register("ZSCORE", commandFunc(zscore))
	e.register("ZCARD", commandFunc(zcard))
	e.register("ZCOUNT", commandFunc(zcount))
	e.register("ZRANK", commandFunc(zrank))
	e.register("ZREM", commandFunc(zrem))
	e.register("ZRANGE", commandFunc(zrange))
}

type zaddFlags struct {
	nx, xx, ch bool
}

// zadd parses every score before touching the set, so a bad pair changes nothing
func zadd(ctx *context) (resp.Value, error) {
	var flags zaddFlags

	i := 1
loop:
	for ; i < len(ctx.args); i++ {
		switch strings.ToUpper(string(ctx.args[i])) {
		case "NX":
			flags.nx = true
		case "XX":
			flags.xx = true
		case "CH":
			flags.ch = true
		default:
			break loop
		}
	}

	if flags.nx && flags.xx {
		return resp.Value{}, errNXAndXX
	}

	pairs := ctx.args[i:]
	if len(pairs) == 0 || len(pairs)%2 != 0 {
		return resp.Value{}, ErrSyntax
	}

	members := make([]storage.ZMember, 0, len(pairs)/2)
	for j := 0; j < len(pairs); j += 2 {
		score, err := parseFloat(pairs[j])
		if err != nil {
			return resp.Value{}, err
		}
		members = append(members, storage.ZMember{Member: string(pairs[j+1]), Score: score})
	}

	key := ctx.key(0)
	z, err := ctx.db.LookupZSet(key, !flags.xx)
	if err != nil {
		return resp.Value{}, err
	}
	if z == nil {
		return resp.MakeInteger(0), nil
	}

	var added, updated int64
	for _, m := range members {
		old, exists := z.Score(m.Member)
		switch {
		case exists && flags.nx, !exists && flags.xx:
			continue
		case exists:
			if old != m.Score {
				z.Add(m.Member, m.Score)
				updated++
			}
		default:
			z.Add(m.Member, m.Score)
			added++
		}
	}

	ctx.db.RemoveIfEmpty(key)
	ctx.changed(added + updated)

	if flags.ch {
		return resp.MakeInteger(added + updated), nil
	}
	return resp.MakeInteger(added), nil
}

func zscore(ctx *context) (resp.Value, error) {
	z, err := ctx.db.LookupZSet(ctx.key(0), false)
	if err != nil {
		return resp.Value{}, err
	}
	if z == nil {
		return resp.MakeNilBulkString(), nil
	}

	score, ok := z.Score(string(ctx.args[1]))
	if !ok {
		return resp.MakeNilBulkString(), nil
	}
	return resp.MakeBulkFloat(score), nil
}

func zcard(ctx *context) (resp.Value, error) {
	z, err := ctx.db.LookupZSet(ctx.key(0), false)
	if err != nil || z == nil {
		return resp.MakeInteger(0), err
	}
	return resp.MakeInteger(int64(z.Len())), nil
}

func zcount(ctx *context) (resp.Value, error) {
	lo, err := scoreBound(ctx.args[1])
	if err != nil {
		return resp.Value{}, err
	}
	hi, err := scoreBound(ctx.args[2])
	if err != nil {
		return resp.Value{}, err
	}

	z, err := ctx.db.LookupZSet(ctx.key(0), false)
	if err != nil || z == nil {
		return resp.MakeInteger(0), err
	}
	return resp.MakeInteger(int64(z.Count(lo, hi))), nil
}

func zrank(ctx *context) (resp.Value, error) {
	z, err := ctx.db.LookupZSet(ctx.key(0), false)
	if err != nil {
		return resp.Value{}, err
	}
	if z == nil {
		return resp.MakeNilBulkString(), nil
	}

	rank, ok := z.Rank(string(ctx.args[1]))
	if !ok {
		return resp.MakeNilBulkString(), nil
	}
	return resp.MakeInteger(int64(rank)), nil
}

func zrem(ctx *context) (resp.Value, error) {
	key := ctx.key(0)
	z, err := ctx.db.LookupZSet(key, false)
	if err != nil || z == nil {
		return resp.MakeInteger(0), err
	}

	var removed int64
	for _, m := range ctx.args[1:] {
		if z.Remove(string(m)) {
			removed++
		}
	}

	ctx.db.RemoveIfEmpty(key)
	ctx.changed(removed)
	return resp.MakeInteger(removed), nil
}

func zrange(ctx *context) (resp.Value, error) {
	withScores := false
	for _, opt := range ctx.args[3:] {
		if !equalFold(opt, "WITHSCORES") {
			return resp.Value{}, ErrSyntax
		}
		withScores = true
	}

	start, stop, err := parseRange(ctx.args[1], ctx.args[2])
	if err != nil {
		return resp.Value{}, err
	}

	z, err := ctx.db.LookupZSet(ctx.key(0), false)
	if err != nil {
		return resp.Value{}, err
	}
	if z == nil {
		return resp.MakeArray([]resp.Value{}), nil
	}

	members := z.Range(start, stop)
	out := make([]resp.Value, 0, len(members)*2)
	for _, m := range members {
		out = append(out, resp.MakeBulkString(m.Member))
		if withScores {
			out = append(out, resp.MakeBulkFloat(m.Score))
		}
	}
	return resp.MakeArray(out), nil
}
