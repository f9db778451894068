package server

import (
	"strings"

	"github.com/eternalApril/rudis/internal/resp"
	"go.uber.org/zap"
)

func (e *Engine) registerServerCommands() {
	e.register("DBSIZE", commandFunc(dbsize))
	e.register("FLUSHDB", commandFunc(flushdb))
	e.register("FLUSHALL", commandFunc(flushall))
	e.register("SAVE", commandFunc(save))
	e.register("BGSAVE", commandFunc(bgsave))
	e.register("LASTSAVE", commandFunc(lastsave))
	e.register("INFO", commandFunc(info))
	e.register("COMMAND", commandFunc(commandCmd))
}

func dbsize(ctx *context) (resp.Value, error) {
	return resp.MakeInteger(int64(ctx.db.Size())), nil
}

// checkFlushMode accepts the ASYNC and SYNC modifiers, both flush synchronously
func checkFlushMode(args [][]byte) error {
	if len(args) > 1 {
		return ErrSyntax
	}
	if len(args) == 1 && !equalFold(args[0], "ASYNC") && !equalFold(args[0], "SYNC") {
		return ErrSyntax
	}
	return nil
}

func flushdb(ctx *context) (resp.Value, error) {
	if err := checkFlushMode(ctx.args); err != nil {
		return resp.Value{}, err
	}

	n := ctx.db.Size()
	ctx.db.Flush()
	ctx.changed(int64(max(n, 1)))
	return resp.MakeOK(), nil
}

func flushall(ctx *context) (resp.Value, error) {
	if err := checkFlushMode(ctx.args); err != nil {
		return resp.Value{}, err
	}

	n := 0
	for i := 0; i < ctx.engine.ks.Databases(); i++ {
		db := ctx.tx.DB(i)
		n += db.Size()
		db.Flush()
	}
	ctx.changed(int64(max(n, 1)))
	return resp.MakeOK(), nil
}

func save(ctx *context) (resp.Value, error) {
	saver := ctx.engine.saver
	if saver == nil {
		return resp.Value{}, ErrSaveDisabled
	}

	if err := saver.Save(ctx.tx); err != nil {
		ctx.engine.logger.Error("SAVE failed", zap.Error(err))
		return resp.Value{}, err
	}

	// SAVE returns only once both persistence files are on disk
	if aof := ctx.engine.aof; aof != nil {
		if err := aof.Flush(); err != nil {
			ctx.engine.logger.Error("AOF flush on SAVE failed", zap.Error(err))
			return resp.Value{}, durability(err)
		}
	}
	return resp.MakeOK(), nil
}

func bgsave(ctx *context) (resp.Value, error) {
	saver := ctx.engine.saver
	if saver == nil {
		return resp.Value{}, ErrSaveDisabled
	}

	// SCHEDULE is accepted but a running save is still an error
	if len(ctx.args) > 1 || (len(ctx.args) == 1 && !equalFold(ctx.args[0], "SCHEDULE")) {
		return resp.Value{}, ErrSyntax
	}

	if err := saver.Background(ctx.tx); err != nil {
		return resp.Value{}, err
	}
	return resp.MakeSimpleString("Background saving started"), nil
}

func lastsave(ctx *context) (resp.Value, error) {
	if ctx.engine.saver == nil {
		return resp.MakeInteger(ctx.engine.startedAt.Unix()), nil
	}
	return resp.MakeInteger(ctx.engine.saver.LastSave().Unix()), nil
}

func commandCmd(ctx *context) (resp.Value, error) {
	if len(ctx.args) == 0 {
		return getAllCommands(), nil
	}

	switch strings.ToUpper(string(ctx.args[0])) {
	case "COUNT":
		if len(ctx.args) != 1 {
			return resp.Value{}, ErrSyntax
		}
		return resp.MakeInteger(int64(len(commandRegistry))), nil
	case "DOCS":
		return getCommandsDocs(ctx.args[1:]), nil
	case "INFO":
		return getCommandsInfo(ctx.args[1:]), nil
	}

	return resp.Value{}, unknownSubcommand(ctx.name, ctx.args[0])
}
