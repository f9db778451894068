package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eternalApril/rudis/internal/config"
	"github.com/eternalApril/rudis/internal/metrics"
	"github.com/eternalApril/rudis/internal/persistence"
	"github.com/eternalApril/rudis/internal/resp"
	"github.com/eternalApril/rudis/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine coordinates the execution of commands and manages the background tasks of the repository
type Engine struct {
	commands map[string]command // Registry of available commands (the key is the command name in uppercase)
	ks       *storage.Keyspace  // Sharded multi database keyspace
	cfg      *config.Config     // Configuration engine
	stop     chan struct{}      // Channel for the background tasks stop signal
	stopOnce sync.Once          // Ensures that the stop happens only once
	wg       sync.WaitGroup

	aof   *persistence.AOF // AOF instance, nil when disabled
	aofMu sync.Mutex       // keeps a SELECT and the command following it together
	aofDB int              // database the AOF stream currently points at

	saver     *persistence.Saver // snapshot writer, nil when disabled
	saveRules []persistence.SaveRule

	requirePass []byte
	metrics     *metrics.Metrics
	logger      *zap.Logger

	runID     string
	startedAt time.Time

	clientsMu sync.Mutex
	clients   map[int64]*Peer

	totalCommands    atomic.Int64
	totalConnections atomic.Int64
	rejectedClients  atomic.Int64
}

// NewEngine initializes the engine, registers the commands, restores persisted data
// and, if enabled in the config, starts background cleanup of outdated keys and automatic saves
func NewEngine(ks *storage.Keyspace, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	engine := &Engine{
		commands:  make(map[string]command),
		ks:        ks,
		cfg:       cfg,
		stop:      make(chan struct{}),
		logger:    logger,
		runID:     strings.ReplaceAll(uuid.New().String(), "-", ""),
		startedAt: time.Now(),
		clients:   make(map[int64]*Peer),
	}
	if cfg.Server.RequirePass != "" {
		engine.requirePass = []byte(cfg.Server.RequirePass)
	}
	engine.registerCommands()

	if cfg.Persistence.RDB.Enabled {
		snap, err := persistence.NewSnapshotter(cfg.Persistence.RDB.Format, cfg.Persistence.RDBPath(), logger)
		if err != nil {
			return nil, err
		}
		engine.saver = persistence.NewSaver(snap, ks, logger)

		engine.saveRules, err = persistence.ParseSaveRules(cfg.Persistence.RDB.Save)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case cfg.Persistence.AOF.Enabled:
		policy, err := persistence.ParseFsyncPolicy(cfg.Persistence.AOF.Fsync)
		if err != nil {
			return nil, err
		}

		aof, err := persistence.OpenAOF(cfg.Persistence.AOFPath(), policy, logger)
		if err != nil {
			return nil, err
		}
		engine.aof = aof

		// the append only file wins over the snapshot
		if err := engine.restoreAOF(); err != nil {
			aof.Close() //nolint:errcheck
			return nil, err
		}

	case engine.saver != nil:
		n, err := engine.saver.Restore()
		if err != nil {
			return nil, fmt.Errorf("load snapshot: %w", err)
		}
		logger.Info("Snapshot restored", zap.Int("keys", n))
	}

	if cfg.GC.Enabled {
		engine.wg.Add(1)
		go engine.startGCLoop()
	}

	if engine.saver != nil && len(engine.saveRules) > 0 {
		engine.wg.Add(1)
		go engine.startAutoSave()
	}

	return engine, nil
}

// SetMetrics attaches the prometheus collectors. Without it the engine works with metrics disabled
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
	m.TrackExpiredKeys(e.ks.ExpiredKeys)

	if e.aof != nil {
		e.aof.OnError(func(error) { m.PersistenceError("aof") })
	}
	if e.saver != nil {
		e.saver.OnError(func(error) { m.PersistenceError("rdb") })
	}
}

// startAutoSave checks the save rules every second and starts a background save when one is due
func (e *Engine) startAutoSave() {
	defer e.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if e.saver.InProgress() || !persistence.Due(e.saveRules, e.saver.Dirty(), time.Since(e.saver.LastSave())) {
				continue
			}

			e.logger.Info("Save rule triggered, saving in background", zap.Int64("changes", e.saver.Dirty()))
			if err := e.saver.Background(nil); err != nil && !errors.Is(err, persistence.ErrSaveInProgress) {
				e.logger.Error("Auto-save failed", zap.Error(err))
			}
		case <-e.stop:
			return
		}
	}
}

// restoreAOF replays the log into the keyspace before the server accepts clients
func (e *Engine) restoreAOF() error {
	e.logger.Info("Restoring AOF...", zap.String("file", e.aof.Filename()))
	start := time.Now()

	replayer := NewPeer(nil)
	replayer.authenticated = true

	n, err := e.aof.Load(func(argv [][]byte) error {
		return e.replay(replayer, argv)
	})
	if err != nil {
		return fmt.Errorf("load aof: %w", err)
	}

	e.aofDB = replayer.DB()
	e.logger.Info("AOF restore finished",
		zap.Int("commands", n),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// replay executes a logged command without propagating it again
func (e *Engine) replay(p *Peer, argv [][]byte) error {
	name := strings.ToUpper(string(argv[0]))

	cmd, ok := e.commands[name]
	if !ok {
		return unknownCommand(string(argv[0]))
	}
	meta := commandRegistry[name]
	if !meta.checkArity(len(argv)) {
		return wrongArity(name)
	}

	ctx := &context{name: name, args: argv[1:], peer: p, engine: e}
	res := e.run(ctx, cmd, meta, true)
	if res.Type == resp.TypeError && e.logger.Core().Enabled(zap.DebugLevel) {
		e.logger.Debug("replayed command failed", zap.String("cmd", name), zap.ByteString("reply", res.String))
	}
	return nil
}

// startGCLoop triggers the active expiration mechanism
func (e *Engine) startGCLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.GC.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for round := 0; round < e.cfg.GC.MaxRounds; round++ {
				ratio := e.ks.DeleteExpired(e.cfg.GC.SamplesPerCheck)

				if ratio > 0 && e.logger.Core().Enabled(zap.DebugLevel) {
					e.logger.Debug("GC delete expired", zap.Float64("expired_ratio", ratio), zap.Int("round", round))
				}

				// most sampled keys were alive, wait for the next tick
				if ratio < e.cfg.GC.MatchThreshold {
					break
				}
			}
		case <-e.stop:
			e.logger.Info("GC stopped")
			return
		}
	}
}

// register adds a new command to the engine. The command name is uppercase
func (e *Engine) register(name string, cmd command) {
	name = strings.ToUpper(name)
	if _, ok := commandRegistry[name]; !ok {
		panic("server: command " + name + " has no metadata")
	}
	e.commands[name] = cmd
}

// registerCommands fills the registry with every supported command
func (e *Engine) registerCommands() {
	e.registerKeyCommands()
	e.registerStringCommands()
	e.registerListCommands()
	e.registerSetCommands()
	e.registerZSetCommands()
	e.registerHashCommands()
	e.registerConnectionCommands()
	e.registerServerCommands()
	e.registerTxCommands()
}

// Execute runs one request of the peer. argv holds the command name followed by its arguments.
// Errors are returned in the RESP format, the connection stays usable
func (e *Engine) Execute(p *Peer, argv [][]byte) resp.Value {
	p.setState(ParsingArguments)

	name := strings.ToUpper(string(argv[0]))

	if e.logger.Core().Enabled(zap.DebugLevel) {
		// Log the command name and number of args
		e.logger.Debug("executing command",
			zap.String("cmd", name),
			zap.Int("args_count", len(argv)-1),
			zap.Int64("client", p.ID()),
		)
	}

	if e.requirePass != nil && !p.authenticated && name != "AUTH" && name != "QUIT" {
		return errorReply(ErrNotAuthenticated)
	}

	cmd, ok := e.commands[name]
	if !ok {
		p.multiFailed = p.multiFailed || p.inMulti
		return errorReply(unknownCommand(string(argv[0])))
	}

	meta := commandRegistry[name]
	if !meta.checkArity(len(argv)) {
		p.multiFailed = p.multiFailed || p.inMulti
		return errorReply(wrongArity(name))
	}

	if p.inMulti && !isTxControl(name) {
		p.queue = append(p.queue, queuedCommand{name: name, args: argv[1:]})
		return resp.MakeSimpleString("QUEUED")
	}

	p.setState(Dispatching)
	p.lastCmd.Store(name)
	e.totalCommands.Add(1)

	start := time.Now()
	ctx := &context{name: name, args: argv[1:], peer: p, engine: e}
	res := e.run(ctx, cmd, meta, false)
	e.metrics.ObserveCommand(strings.ToLower(name), time.Since(start))

	return res
}

// run acquires the shards the command needs and calls it
func (e *Engine) run(ctx *context, cmd command, meta commandMetadata, replay bool) resp.Value {
	switch meta.lockMode(ctx.name) {
	case lockKeys:
		ctx.tx = e.ks.Acquire(meta.keys(ctx.argv())...)
	case lockAll:
		ctx.tx = e.ks.AcquireAll()
	}

	if ctx.tx != nil {
		defer ctx.tx.Release()
		ctx.db = ctx.tx.DB(ctx.peer.DB())
	}

	return e.call(ctx, cmd, meta, replay)
}

// call runs the handler inside already acquired shards, then propagates its changes
func (e *Engine) call(ctx *context, cmd command, meta commandMetadata, replay bool) resp.Value {
	res, err := cmd.execute(ctx)
	if err != nil {
		return errorReply(err)
	}

	if ctx.dirty == 0 || replay {
		return res
	}

	if e.saver != nil {
		e.saver.MarkDirty(ctx.dirty)
	}

	if meta.isWrite() {
		if err := e.propagate(ctx); err != nil {
			e.logger.Error("AOF append failed", zap.String("cmd", ctx.name), zap.Error(err))
			return errorReply(durability(err))
		}
	}

	return res
}

// propagate appends the command to the AOF while the shards it touched are still locked,
// so the log order of every key equals the execution order
func (e *Engine) propagate(ctx *context) error {
	if e.aof == nil {
		return nil
	}

	argv := ctx.propagate
	if argv == nil {
		argv = ctx.argv()
	}

	db := ctx.peer.DB()
	if ctx.db != nil {
		db = ctx.db.Index()
	}

	e.aofMu.Lock()
	defer e.aofMu.Unlock()

	if db != e.aofDB {
		if err := e.aof.Append("SELECT", [][]byte{[]byte(strconv.Itoa(db))}); err != nil {
			return err
		}
		e.aofDB = db
	}

	return e.aof.Append(string(argv[0]), argv[1:])
}

// checkPassword compares in constant time
func (e *Engine) checkPassword(password []byte) bool {
	return subtle.ConstantTimeCompare(password, e.requirePass) == 1
}

// Attach registers a new client. Returns false when max_clients is reached
func (e *Engine) Attach(p *Peer) bool {
	e.clientsMu.Lock()
	defer e.clientsMu.Unlock()

	if limit := e.cfg.Server.MaxClients; limit > 0 && len(e.clients) >= limit {
		e.rejectedClients.Add(1)
		return false
	}

	e.clients[p.ID()] = p
	e.totalConnections.Add(1)
	e.metrics.ClientConnected()
	return true
}

// Detach forgets a disconnected client
func (e *Engine) Detach(p *Peer) {
	e.clientsMu.Lock()
	defer e.clientsMu.Unlock()

	if _, ok := e.clients[p.ID()]; ok {
		delete(e.clients, p.ID())
		e.metrics.ClientDisconnected()
	}
}

// peers returns the connected clients ordered by id
func (e *Engine) peers() []*Peer {
	e.clientsMu.Lock()
	defer e.clientsMu.Unlock()

	out := make([]*Peer, 0, len(e.clients))
	for _, p := range e.clients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Shutdown stops the background tasks, saves the snapshot and closes the AOF
func (e *Engine) Shutdown() error {
	var errs []error

	e.stopOnce.Do(func() {
		close(e.stop)
		e.wg.Wait()
		e.logger.Info("Background tasks stopped")

		if e.saver != nil {
			e.saver.Wait()
			if e.saver.Dirty() > 0 || len(e.saveRules) > 0 {
				if err := e.saver.Save(nil); err != nil {
					e.logger.Error("Saving on shutdown failed", zap.Error(err))
					errs = append(errs, err)
				}
			}
		}

		if e.aof != nil {
			if err := e.aof.Close(); err != nil {
				e.logger.Error("Closing AOF failed", zap.Error(err))
				errs = append(errs, err)
			}
		}
	})

	return errors.Join(errs...)
}

// isTxControl reports commands executed immediately even inside MULTI
func isTxControl(name string) bool {
	switch name {
	case "EXEC", "DISCARD", "MULTI", "QUIT":
		return true
	}
	return false
}
