package server

import "github.com/eternalApril/rudis/internal/resp"

func (e *Engine) registerTxCommands() {
	e.register("MULTI", commandFunc(multi))
	e.register("EXEC", commandFunc(exec))
	e.register("DISCARD", commandFunc(discard))
}

func multi(ctx *context) (resp.Value, error) {
	p := ctx.peer
	if p.inMulti {
		return resp.Value{}, ErrMultiNested
	}

	p.inMulti = true
	p.multiFailed = false
	p.queue = nil
	return resp.MakeOK(), nil
}

func discard(ctx *context) (resp.Value, error) {
	p := ctx.peer
	if !p.inMulti {
		return resp.Value{}, ErrDiscardNoMulti
	}

	p.resetMulti()
	return resp.MakeOK(), nil
}

// exec runs the queue inside the all-shard transaction EXEC already holds,
// so no other client observes an intermediate state
func exec(ctx *context) (resp.Value, error) {
	p := ctx.peer
	if !p.inMulti {
		return resp.Value{}, ErrExecWithoutMulti
	}

	queue, failed := p.queue, p.multiFailed
	p.resetMulti()

	if failed {
		return resp.Value{}, ErrExecAbort
	}

	replies := make([]resp.Value, 0, len(queue))
	for _, q := range queue {
		sub := &context{
			name:   q.name,
			args:   q.args,
			peer:   p,
			engine: ctx.engine,
			tx:     ctx.tx,
			db:     ctx.tx.DB(p.DB()), // SELECT inside the block moves the following commands
		}
		replies = append(replies, ctx.engine.call(sub, ctx.engine.commands[q.name], commandRegistry[q.name], false))
	}
	return resp.MakeArray(replies), nil
}

func (p *Peer) resetMulti() {
	p.inMulti = false
	p.multiFailed = false
	p.queue = nil
}
