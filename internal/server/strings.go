package server

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/eternalApril/rudis/internal/resp"
	"github.com/eternalApril/rudis/internal/storage"
)

var (
	errXXWithNX         = errors.New("ERR XX cannot use with NX")
	errNXWithXX         = errors.New("ERR NX cannot use with XX")
	errTTLNotInteger    = errors.New("ERR value TTL is not integer")
	errTTLSpecified     = errors.New("ERR TTL already specified")
	errSetSyntax        = errors.New("ERR syntax error with command")
	errSetInvalidExpire = errors.New("ERR invalid expire time in 'set' command")
)

func (e *Engine) registerStringCommands() {
	e.register("SET", commandFunc(set))
	e.register("GET", commandFunc(get))
	e.register("GETSET", commandFunc(getset))
	e.register("SETNX", commandFunc(setnx))
	e.register("MGET", commandFunc(mget))
	e.register("MSET", commandFunc(mset))
	e.register("APPEND", commandFunc(appendString))
	e.register("STRLEN", commandFunc(strlen))
	e.register("INCR", incrCommand(1, false))
	e.register("DECR", incrCommand(-1, false))
	e.register("INCRBY", incrCommand(1, true))
	e.register("DECRBY", incrCommand(-1, true))
	e.register("INCRBYFLOAT", commandFunc(incrbyfloat))
	e.register("GETRANGE", commandFunc(getrange))
}

// setArgs is the parsed option list of SET
type setArgs struct {
	options  storage.SetOptions
	hasTTL   bool
	get      bool
	expireMs int64 // absolute deadline in unix milliseconds when hasTTL
}

func parseSetArgs(args [][]byte, now time.Time) (setArgs, error) {
	var out setArgs

	for i := 0; i < len(args); i++ {
		switch strings.ToUpper(string(args[i])) {
		case "NX":
			if out.options.XX {
				return out, errNXWithXX
			}
			out.options.NX = true
		case "XX":
			if out.options.NX {
				return out, errXXWithNX
			}
			out.options.XX = true
		case "GET":
			out.get = true
		case "KEEPTTL":
			if out.hasTTL {
				return out, errTTLSpecified
			}
			out.options.KeepTTL = true
		case "EX", "PX", "EXAT", "PXAT":
			if out.hasTTL || out.options.KeepTTL {
				return out, errTTLSpecified
			}
			if i+1 >= len(args) {
				return out, ErrSyntax
			}

			val, err := strconv.ParseInt(string(args[i+1]), 10, 64)
			if err != nil {
				return out, errTTLNotInteger
			}
			if val <= 0 {
				return out, errSetInvalidExpire
			}

			ms, err := setDeadline(strings.ToUpper(string(args[i])), val, now)
			if err != nil {
				return out, err
			}

			out.hasTTL = true
			out.expireMs = ms
			out.options.ExpireAt = time.UnixMilli(ms)
			i++
		default:
			return out, errSetSyntax
		}
	}

	return out, nil
}

// setDeadline converts an EX, PX, EXAT or PXAT value into unix milliseconds
func setDeadline(option string, val int64, now time.Time) (int64, error) {
	switch option {
	case "EX", "EXAT":
		if val > maxExpireMs/1000 {
			return 0, errSetInvalidExpire
		}
		val *= 1000
	}

	if option == "EX" || option == "PX" {
		if val > maxExpireMs-now.UnixMilli() {
			return 0, errSetInvalidExpire
		}
		val += now.UnixMilli()
	}
	return val, nil
}

// set writes the value. Relative expirations are logged as PXAT so a replay restores the same deadline
func set(ctx *context) (resp.Value, error) {
	key := ctx.key(0)
	value := ctx.args[1]

	opts, err := parseSetArgs(ctx.args[2:], ctx.tx.Now())
	if err != nil {
		return resp.Value{}, err
	}

	var (
		old    string
		hadOld bool
	)
	if opts.get {
		old, hadOld, err = ctx.db.GetString(key)
		if err != nil {
			return resp.Value{}, err
		}
	}

	if !ctx.db.SetString(key, string(value), opts.options) {
		if opts.get {
			return bulkOrNil(old, hadOld), nil
		}
		return resp.MakeNilBulkString(), nil
	}

	ctx.changed(1)
	switch {
	case opts.hasTTL:
		ctx.rewrite([]byte("SET"), []byte(key), value, []byte("PXAT"), formatInt(opts.expireMs))
	case opts.options.KeepTTL:
		ctx.rewrite([]byte("SET"), []byte(key), value, []byte("KEEPTTL"))
	default:
		ctx.rewrite([]byte("SET"), []byte(key), value)
	}

	if opts.get {
		return bulkOrNil(old, hadOld), nil
	}
	return resp.MakeOK(), nil
}

func get(ctx *context) (resp.Value, error) {
	v, ok, err := ctx.db.GetString(ctx.key(0))
	if err != nil {
		return resp.Value{}, err
	}
	return bulkOrNil(v, ok), nil
}

func getset(ctx *context) (resp.Value, error) {
	key := ctx.key(0)

	old, ok, err := ctx.db.GetString(key)
	if err != nil {
		return resp.Value{}, err
	}

	ctx.db.Set(key, storage.NewStringEntity(string(ctx.args[1])))
	ctx.changed(1)
	return bulkOrNil(old, ok), nil
}

func setnx(ctx *context) (resp.Value, error) {
	if !ctx.db.SetString(ctx.key(0), string(ctx.args[1]), storage.SetOptions{NX: true}) {
		return resp.MakeInteger(0), nil
	}
	ctx.changed(1)
	return resp.MakeInteger(1), nil
}

func mget(ctx *context) (resp.Value, error) {
	values := make([]resp.Value, len(ctx.args))
	for i, key := range ctx.keys(0) {
		v, ok, err := ctx.db.GetString(key)
		if err != nil {
			// values of another type read as nil
			ok = false
		}
		values[i] = bulkOrNil(v, ok)
	}
	return resp.MakeArray(values), nil
}

func mset(ctx *context) (resp.Value, error) {
	if len(ctx.args)%2 != 0 {
		return resp.Value{}, wrongArity(ctx.name)
	}

	for i := 0; i < len(ctx.args); i += 2 {
		ctx.db.Set(ctx.key(i), storage.NewStringEntity(string(ctx.args[i+1])))
	}
	ctx.changed(int64(len(ctx.args) / 2))
	return resp.MakeOK(), nil
}

func appendString(ctx *context) (resp.Value, error) {
	key := ctx.key(0)

	old, _, err := ctx.db.GetString(key)
	if err != nil {
		return resp.Value{}, err
	}

	value := old + string(ctx.args[1])
	ctx.db.Update(key, storage.NewStringEntity(value))
	ctx.changed(1)
	return resp.MakeInteger(int64(len(value))), nil
}

func strlen(ctx *context) (resp.Value, error) {
	v, _, err := ctx.db.GetString(ctx.key(0))
	if err != nil {
		return resp.Value{}, err
	}
	return resp.MakeInteger(int64(len(v))), nil
}

// incrCommand builds INCR, DECR, INCRBY and DECRBY. sign is applied to the increment
func incrCommand(sign int64, withArg bool) commandFunc {
	return func(ctx *context) (resp.Value, error) {
		delta := int64(1)
		if withArg {
			n, err := parseInt(ctx.args[1])
			if err != nil {
				return resp.Value{}, err
			}
			delta = n
		}
		if sign < 0 {
			if delta == math.MinInt64 {
				return resp.Value{}, ErrOverflow
			}
			delta = -delta
		}

		key := ctx.key(0)
		old, ok, err := ctx.db.GetString(key)
		if err != nil {
			return resp.Value{}, err
		}

		var current int64
		if ok {
			current, err = strconv.ParseInt(old, 10, 64)
			if err != nil {
				return resp.Value{}, ErrNotInteger
			}
		}

		if (delta > 0 && current > math.MaxInt64-delta) || (delta < 0 && current < math.MinInt64-delta) {
			return resp.Value{}, ErrOverflow
		}

		current += delta
		ctx.db.Update(key, storage.NewStringEntity(strconv.FormatInt(current, 10)))
		ctx.changed(1)
		return resp.MakeInteger(current), nil
	}
}

// incrbyfloat is logged as SET KEEPTTL with the result, float formatting may differ on replay otherwise
func incrbyfloat(ctx *context) (resp.Value, error) {
	delta, err := parseFloat(ctx.args[1])
	if err != nil {
		return resp.Value{}, err
	}

	key := ctx.key(0)
	old, ok, err := ctx.db.GetString(key)
	if err != nil {
		return resp.Value{}, err
	}

	var current float64
	if ok {
		current, err = parseFloat([]byte(old))
		if err != nil {
			return resp.Value{}, err
		}
	}

	current += delta
	if math.IsNaN(current) || math.IsInf(current, 0) {
		return resp.Value{}, errNaNResult
	}

	value := strconv.FormatFloat(current, 'f', -1, 64)
	ctx.db.Update(key, storage.NewStringEntity(value))
	ctx.changed(1)
	ctx.rewrite([]byte("SET"), []byte(key), []byte(value), []byte("KEEPTTL"))
	return resp.MakeBulkFloat(current), nil
}

func getrange(ctx *context) (resp.Value, error) {
	start, err := parseInt(ctx.args[1])
	if err != nil {
		return resp.Value{}, err
	}
	end, err := parseInt(ctx.args[2])
	if err != nil {
		return resp.Value{}, err
	}

	v, _, err := ctx.db.GetString(ctx.key(0))
	if err != nil {
		return resp.Value{}, err
	}

	n := int64(len(v))
	if start < 0 && end < 0 && start > end {
		return resp.MakeBulkString(""), nil
	}
	if start < 0 {
		start += n
	}
	if end < 0 {
		end += n
	}
	if start < 0 {
		start = 0
	}
	if end < 0 {
		end = 0
	}
	if end >= n {
		end = n - 1
	}
	if start > end || n == 0 {
		return resp.MakeBulkString(""), nil
	}
	return resp.MakeBulkString(v[start : end+1]), nil
}
