package server

import (
	"github.com/eternalApril/rudis/internal/resp"
	"github.com/eternalApril/rudis/internal/storage"
)

// context carries a single command invocation into its handler
type context struct {
	name   string   // upper case command name
	args   [][]byte // arguments without the command name
	peer   *Peer
	engine *Engine

	tx *storage.Tx // nil for commands that lock nothing
	db *storage.DB // selected database of the peer, nil without tx

	dirty     int64    // number of changes, nothing is propagated while zero
	propagate [][]byte // replaces the received command in the AOF when set
}

type command interface {
	execute(ctx *context) (resp.Value, error)
}

type commandFunc func(ctx *context) (resp.Value, error)

func (c commandFunc) execute(ctx *context) (resp.Value, error) {
	return c(ctx)
}

// key returns argument i as a key
func (ctx *context) key(i int) string {
	return string(ctx.args[i])
}

// keys returns the arguments starting at i
func (ctx *context) keys(from int) []string {
	out := make([]string, 0, len(ctx.args)-from)
	for _, a := range ctx.args[from:] {
		out = append(out, string(a))
	}
	return out
}

// changed records n modifications of the dataset
func (ctx *context) changed(n int64) {
	ctx.dirty += n
}

// rewrite sets the form of the command written to the AOF, argv includes the name
func (ctx *context) rewrite(argv ...[]byte) {
	ctx.propagate = argv
}

// argv returns the command as received
func (ctx *context) argv() [][]byte {
	out := make([][]byte, 0, len(ctx.args)+1)
	out = append(out, []byte(ctx.name))
	return append(out, ctx.args...)
}
