package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eternalApril/rudis/internal/resp"
)

var errBadClientName = errors.New("ERR Client names cannot contain spaces, newlines or special characters.")

func (e *Engine) registerConnectionCommands() {
	e.register("PING", commandFunc(ping))
	e.register("ECHO", commandFunc(echo))
	e.register("AUTH", commandFunc(auth))
	e.register("SELECT", commandFunc(selectDB))
	e.register("QUIT", commandFunc(quit))
	e.register("CLIENT", commandFunc(client))
}

func unknownSubcommand(name string, sub []byte) error {
	return fmt.Errorf("unknown subcommand '%s'. Try %s HELP.", sub, name)
}

func ping(ctx *context) (resp.Value, error) {
	switch len(ctx.args) {
	case 0:
		return resp.MakeSimpleString("PONG"), nil
	case 1:
		return resp.MakeBulkBytes(ctx.args[0]), nil
	}
	return resp.Value{}, wrongArity(ctx.name)
}

func echo(ctx *context) (resp.Value, error) {
	return resp.MakeBulkBytes(ctx.args[0]), nil
}

// auth accepts AUTH password and AUTH default password
func auth(ctx *context) (resp.Value, error) {
	if ctx.engine.requirePass == nil {
		return resp.Value{}, ErrNoPassword
	}

	var password []byte
	switch len(ctx.args) {
	case 1:
		password = ctx.args[0]
	case 2:
		if string(ctx.args[0]) != "default" {
			return resp.Value{}, ErrWrongPass
		}
		password = ctx.args[1]
	default:
		return resp.Value{}, ErrSyntax
	}

	if !ctx.engine.checkPassword(password) {
		ctx.peer.authenticated = false
		return resp.Value{}, ErrWrongPass
	}

	ctx.peer.authenticated = true
	return resp.MakeOK(), nil
}

func selectDB(ctx *context) (resp.Value, error) {
	index, err := parseInt(ctx.args[0])
	if err != nil {
		return resp.Value{}, err
	}
	if index < 0 || index >= int64(ctx.engine.ks.Databases()) {
		return resp.Value{}, ErrInvalidDB
	}

	ctx.peer.selectDB(int(index))
	return resp.MakeOK(), nil
}

func quit(ctx *context) (resp.Value, error) {
	ctx.peer.closing = true
	return resp.MakeOK(), nil
}

func client(ctx *context) (resp.Value, error) {
	sub := strings.ToUpper(string(ctx.args[0]))

	switch {
	case sub == "ID" && len(ctx.args) == 1:
		return resp.MakeInteger(ctx.peer.ID()), nil

	case sub == "GETNAME" && len(ctx.args) == 1:
		name := ctx.peer.Name()
		return bulkOrNil(name, name != ""), nil

	case sub == "SETNAME" && len(ctx.args) == 2:
		name := string(ctx.args[1])
		for i := 0; i < len(name); i++ {
			if name[i] <= ' ' || name[i] > '~' {
				return resp.Value{}, errBadClientName
			}
		}
		ctx.peer.setName(name)
		return resp.MakeOK(), nil

	case sub == "LIST" && len(ctx.args) == 1:
		now := time.Now()
		var b strings.Builder
		for _, p := range ctx.engine.peers() {
			b.WriteString(p.info(now))
			b.WriteByte('\n')
		}
		return resp.MakeBulkString(b.String()), nil
	}

	return resp.Value{}, unknownSubcommand(ctx.name, ctx.args[0])
}
