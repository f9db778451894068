package server

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/eternalApril/rudis/internal/resp"
	"github.com/eternalApril/rudis/internal/storage"
)

func (e *Engine) registerKeyCommands() {
	e.register("DEL", commandFunc(del))
	e.register("EXISTS", commandFunc(exists))
	e.register("TYPE", commandFunc(typeOf))
	e.register("TTL", commandFunc(ttl))
	e.register("PTTL", commandFunc(pttl))
	e.register("EXPIRE", expireCommand(time.Second, false))
	e.register("PEXPIRE", expireCommand(time.Millisecond, false))
	e.register("EXPIREAT", expireCommand(time.Second, true))
	e.register("PEXPIREAT", expireCommand(time.Millisecond, true))
	e.register("PERSIST", commandFunc(persist))
	e.register("RENAME", commandFunc(rename))
	e.register("RENAMENX", commandFunc(renamenx))
	e.register("KEYS", commandFunc(keys))
	e.register("RANDOMKEY", commandFunc(randomkey))
	e.register("MOVE", commandFunc(move))
}

func del(ctx *context) (resp.Value, error) {
	var deleted int64
	for _, key := range ctx.keys(0) {
		if ctx.db.Delete(key) {
			deleted++
		}
	}
	ctx.changed(deleted)
	return resp.MakeInteger(deleted), nil
}

func exists(ctx *context) (resp.Value, error) {
	var n int64
	for _, key := range ctx.keys(0) {
		if ctx.db.Exists(key) {
			n++
		}
	}
	return resp.MakeInteger(n), nil
}

func typeOf(ctx *context) (resp.Value, error) {
	t, ok := ctx.db.Type(ctx.key(0))
	if !ok {
		return resp.MakeSimpleString("none"), nil
	}
	return resp.MakeSimpleString(t.String()), nil
}

func ttl(ctx *context) (resp.Value, error) {
	d, status := ctx.db.Expiry(ctx.key(0))
	if status != storage.ExpActive {
		return resp.MakeInteger(int64(status)), nil
	}
	// round to the nearest second
	return resp.MakeInteger(int64((d + 500*time.Millisecond) / time.Second)), nil
}

func pttl(ctx *context) (resp.Value, error) {
	d, status := ctx.db.Expiry(ctx.key(0))
	if status != storage.ExpActive {
		return resp.MakeInteger(int64(status)), nil
	}
	return resp.MakeInteger(d.Milliseconds()), nil
}

// maxExpireMs keeps deadlines representable in unix nanoseconds
const maxExpireMs = math.MaxInt64 / int64(time.Millisecond)

// deadlineMs converts an EXPIRE family argument into an absolute unix millisecond deadline
func deadlineMs(now time.Time, arg []byte, unit time.Duration, absolute bool, cmd string) (int64, error) {
	n, err := parseInt(arg)
	if err != nil {
		return 0, err
	}

	perUnit := int64(unit / time.Millisecond)
	if n > maxExpireMs/perUnit || n < -maxExpireMs/perUnit {
		return 0, fmt.Errorf("%w in '%s' command", errInvalidExpire, cmd)
	}
	ms := n * perUnit

	if !absolute {
		ms += now.UnixMilli()
	}
	if ms > maxExpireMs {
		return 0, fmt.Errorf("%w in '%s' command", errInvalidExpire, cmd)
	}
	return ms, nil
}

// expireCommand builds EXPIRE, PEXPIRE, EXPIREAT and PEXPIREAT.
// The change is logged as PEXPIREAT, or DEL when the deadline already passed
func expireCommand(unit time.Duration, absolute bool) commandFunc {
	return func(ctx *context) (resp.Value, error) {
		key := ctx.key(0)

		ms, err := deadlineMs(ctx.tx.Now(), ctx.args[1], unit, absolute, strings.ToLower(ctx.name))
		if err != nil {
			return resp.Value{}, err
		}

		at := time.UnixMilli(ms)
		if !ctx.db.ExpireAt(key, at) {
			return resp.MakeInteger(0), nil
		}

		ctx.changed(1)
		if !at.After(ctx.tx.Now()) {
			ctx.rewrite([]byte("DEL"), []byte(key))
		} else {
			ctx.rewrite([]byte("PEXPIREAT"), []byte(key), formatInt(ms))
		}
		return resp.MakeInteger(1), nil
	}
}

func persist(ctx *context) (resp.Value, error) {
	if !ctx.db.Persist(ctx.key(0)) {
		return resp.MakeInteger(0), nil
	}
	ctx.changed(1)
	return resp.MakeInteger(1), nil
}

func rename(ctx *context) (resp.Value, error) {
	src, dst := ctx.key(0), ctx.key(1)

	if !ctx.db.Exists(src) {
		return resp.Value{}, ErrNoSuchKey
	}
	if src == dst {
		return resp.MakeOK(), nil
	}

	e, exp, _ := ctx.db.Take(src)
	ctx.db.Put(dst, e, exp)
	ctx.changed(1)
	return resp.MakeOK(), nil
}

func renamenx(ctx *context) (resp.Value, error) {
	src, dst := ctx.key(0), ctx.key(1)

	if !ctx.db.Exists(src) {
		return resp.Value{}, ErrNoSuchKey
	}
	if ctx.db.Exists(dst) {
		return resp.MakeInteger(0), nil
	}

	e, exp, _ := ctx.db.Take(src)
	ctx.db.Put(dst, e, exp)
	ctx.changed(1)
	return resp.MakeInteger(1), nil
}

func keys(ctx *context) (resp.Value, error) {
	return resp.MakeBulkArray(ctx.db.Keys(ctx.key(0))), nil
}

func randomkey(ctx *context) (resp.Value, error) {
	return bulkOrNil(ctx.db.RandomKey()), nil
}

func move(ctx *context) (resp.Value, error) {
	key := ctx.key(0)

	index, err := parseInt(ctx.args[1])
	if err != nil {
		return resp.Value{}, err
	}
	if index < 0 || index >= int64(ctx.engine.ks.Databases()) {
		return resp.Value{}, ErrInvalidDB
	}
	if int(index) == ctx.db.Index() {
		return resp.Value{}, ErrSameObject
	}

	target := ctx.tx.DB(int(index))
	if !ctx.db.Exists(key) || target.Exists(key) {
		return resp.MakeInteger(0), nil
	}

	e, exp, _ := ctx.db.Take(key)
	target.Put(key, e, exp)
	ctx.changed(1)
	return resp.MakeInteger(1), nil
}
