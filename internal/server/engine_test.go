package server

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/eternalApril/rudis/internal/config"
	"github.com/eternalApril/rudis/internal/persistence"
	"github.com/eternalApril/rudis/internal/resp"
	"github.com/eternalApril/rudis/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRegistryIsComplete(t *testing.T) {
	e, _ := setupEngine(t)

	for name, meta := range commandRegistry {
		_, ok := e.commands[name]
		assert.True(t, ok, "%s has metadata but no handler", name)
		_, ok = commandDocsRegistry[name]
		assert.True(t, ok, "%s has no docs", name)
		assert.NotZero(t, meta.arity, name)
		if meta.firstKey > 0 {
			assert.Positive(t, meta.step, name)
		}
	}
	assert.Len(t, e.commands, len(commandRegistry))
}

func TestCommandKeys(t *testing.T) {
	tests := []struct {
		argv []string
		want []string
	}{
		{[]string{"GET", "a"}, []string{"a"}},
		{[]string{"DEL", "a", "b", "c"}, []string{"a", "b", "c"}},
		{[]string{"MSET", "a", "1", "b", "2"}, []string{"a", "b"}},
		{[]string{"RENAME", "a", "b"}, []string{"a", "b"}},
		{[]string{"SUNIONSTORE", "d", "s1", "s2"}, []string{"d", "s1", "s2"}},
		{[]string{"PING"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.argv[0], func(t *testing.T) {
			argv := make([][]byte, len(tt.argv))
			for i, a := range tt.argv {
				argv[i] = []byte(a)
			}
			assert.Equal(t, tt.want, commandRegistry[tt.argv[0]].keys(argv))
		})
	}

	assert.Equal(t, lockAll, commandRegistry["KEYS"].lockMode("KEYS"))
	assert.Equal(t, lockKeys, commandRegistry["GET"].lockMode("GET"))
	assert.Equal(t, lockNone, commandRegistry["PING"].lockMode("PING"))
}

func TestCommandCommand(t *testing.T) {
	e, p := setupEngine(t)

	assert.Equal(t, integer(int64(len(commandRegistry))), send(e, p, "COMMAND", "COUNT"))

	all := send(e, p, "COMMAND")
	assert.Len(t, all.Array, len(commandRegistry))

	details := send(e, p, "COMMAND", "INFO", "get", "nope")
	require.Len(t, details.Array, 2)
	assert.Equal(t, "get", string(details.Array[0].Array[0].String))
	assert.Equal(t, int64(2), details.Array[0].Array[1].Integer)
	assert.True(t, details.Array[1].IsNull)

	docs := send(e, p, "COMMAND", "DOCS", "set")
	require.Len(t, docs.Array, 2)
	assert.Equal(t, "set", string(docs.Array[0].String))

	res := send(e, p, "COMMAND", "FOO")
	assert.Equal(t, errV("ERR unknown subcommand 'FOO'. Try COMMAND HELP."), res)
}

func TestAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RequirePass = "secret"
	e := newTestEngine(t, cfg)
	defer e.Shutdown() //nolint:errcheck

	p := NewPeer(nil)
	runSteps(t, e, p, []step{
		{[]string{"GET", "k"}, errV("NOAUTH Authentication required.")},
		{[]string{"NOSUCHCOMMAND"}, errV("NOAUTH Authentication required.")},
		{[]string{"AUTH", "wrong"}, errV("WRONGPASS invalid username-password pair")},
		{[]string{"GET", "k"}, errV("NOAUTH Authentication required.")},
		{[]string{"AUTH", "admin", "secret"}, errV("WRONGPASS invalid username-password pair")},
		{[]string{"AUTH", "secret"}, ok},
		{[]string{"GET", "k"}, nilBulk},
	})

	other := NewPeer(nil)
	runSteps(t, e, other, []step{
		{[]string{"SET", "k", "v"}, errV("NOAUTH Authentication required.")},
		{[]string{"AUTH", "default", "secret"}, ok},
		{[]string{"SET", "k", "v"}, ok},
	})

	quitter := NewPeer(nil)
	assert.Equal(t, ok, send(e, quitter, "QUIT"))
	assert.True(t, quitter.Closing())
}

func TestAuthWithoutPassword(t *testing.T) {
	e, p := setupEngine(t)
	assert.Equal(t, errV("ERR Client sent AUTH, but no password is set"), send(e, p, "AUTH", "x"))
}

func TestMultiExec(t *testing.T) {
	e, p := setupEngine(t)

	runSteps(t, e, p, []step{
		{[]string{"EXEC"}, errV("ERR EXEC without MULTI")},
		{[]string{"DISCARD"}, errV("ERR DISCARD without MULTI")},
		{[]string{"MULTI"}, ok},
		{[]string{"MULTI"}, errV("ERR MULTI calls can not be nested")},
		{[]string{"SET", "a", "1"}, resp.MakeSimpleString("QUEUED")},
		{[]string{"INCR", "a"}, resp.MakeSimpleString("QUEUED")},
		{[]string{"SELECT", "2"}, resp.MakeSimpleString("QUEUED")},
		{[]string{"SET", "a", "db2"}, resp.MakeSimpleString("QUEUED")},
		{[]string{"LPUSH", "a", "x"}, resp.MakeSimpleString("QUEUED")},
		{[]string{"KEYS", "*"}, resp.MakeSimpleString("QUEUED")},
		{[]string{"EXEC"}, resp.MakeArray([]resp.Value{
			ok,
			integer(2),
			ok,
			ok,
			errV("WRONGTYPE Operation against a key holding the wrong kind of value"),
			bulks("a"),
		})},
		{[]string{"GET", "a"}, bulk("db2")},
		{[]string{"SELECT", "0"}, ok},
		{[]string{"GET", "a"}, bulk("2")},
	})
}

func TestMultiAbortAndDiscard(t *testing.T) {
	e, p := setupEngine(t)

	runSteps(t, e, p, []step{
		{[]string{"MULTI"}, ok},
		{[]string{"SET", "a", "1"}, resp.MakeSimpleString("QUEUED")},
		{[]string{"SET", "a"}, errV("ERR wrong number of arguments for 'set' command")},
		{[]string{"NOPE"}, errV("ERR unknown command 'NOPE'")},
		{[]string{"EXEC"}, errV("EXECABORT Transaction discarded because of previous errors.")},
		{[]string{"GET", "a"}, nilBulk},

		{[]string{"MULTI"}, ok},
		{[]string{"SET", "d", "1"}, resp.MakeSimpleString("QUEUED")},
		{[]string{"DISCARD"}, ok},
		{[]string{"GET", "d"}, nilBulk},
		{[]string{"EXEC"}, errV("ERR EXEC without MULTI")},
	})
}

func TestMultiSaveAndInfoDoNotDeadlock(t *testing.T) {
	cfg := testConfig()
	cfg.Persistence.Dir = t.TempDir()
	cfg.Persistence.RDB = config.RDBConfig{Enabled: true, Filename: "dump.rdb", Format: "binary"}
	e := newTestEngine(t, cfg)
	defer e.Shutdown() //nolint:errcheck

	p := NewPeer(nil)
	send(e, p, "MULTI")
	send(e, p, "SET", "a", "1")
	send(e, p, "SAVE")
	send(e, p, "INFO", "keyspace")
	send(e, p, "DBSIZE")

	res := send(e, p, "EXEC")
	require.Len(t, res.Array, 4)
	assert.Equal(t, ok, res.Array[1])
	assert.Contains(t, string(res.Array[2].String), "db0:keys=1,expires=0")
	assert.Equal(t, integer(1), res.Array[3])
}

func aofConfig(dir string) *config.Config {
	cfg := testConfig()
	cfg.Persistence.Dir = dir
	cfg.Persistence.AOF = config.AOFConfig{Enabled: true, Filename: "appendonly.aof", Fsync: "always"}
	return cfg
}

func TestAOFReplay(t *testing.T) {
	cfg := aofConfig(t.TempDir())

	e := newTestEngine(t, cfg)
	p := NewPeer(nil)
	runSteps(t, e, p, []step{
		{[]string{"SET", "a", "1"}, ok},
		{[]string{"EXPIRE", "a", "100"}, integer(1)},
		{[]string{"SADD", "s", "x", "y", "z"}, integer(3)},
		{[]string{"INCRBYFLOAT", "f", "1.5"}, bulk("1.5")},
		{[]string{"SELECT", "3"}, ok},
		{[]string{"SET", "other", "v"}, ok},
		{[]string{"RPUSH", "l", "a", "b"}, integer(2)},
		{[]string{"SELECT", "0"}, ok},
		{[]string{"SET", "b", "2", "PX", "100000"}, ok},
		{[]string{"DEL", "missing"}, integer(0)},
		{[]string{"GET", "a"}, bulk("1")},
	})
	send(e, p, "SPOP", "s")
	members := send(e, p, "SMEMBERS", "s")
	require.Len(t, members.Array, 2)
	require.NoError(t, e.Shutdown())

	// the log holds the deterministic forms of the commands
	aof, err := persistence.OpenAOF(cfg.Persistence.AOFPath(), persistence.FsyncNo, zaptest.NewLogger(t))
	require.NoError(t, err)
	var logged []string
	_, err = aof.Load(func(argv [][]byte) error {
		logged = append(logged, strings.ToUpper(string(argv[0])))
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, aof.Close())
	assert.Equal(t, []string{"SET", "PEXPIREAT", "SADD", "SET", "SELECT", "SET", "RPUSH", "SELECT", "SET", "SREM"}, logged)

	restored := newTestEngine(t, cfg)
	defer restored.Shutdown() //nolint:errcheck

	q := NewPeer(nil)
	assert.Equal(t, bulk("1"), send(restored, q, "GET", "a"))
	assert.InDelta(t, 100, send(restored, q, "TTL", "a").Integer, 1)
	assert.InDelta(t, 100, send(restored, q, "TTL", "b").Integer, 1)
	assert.Equal(t, members, send(restored, q, "SMEMBERS", "s"))
	assert.Equal(t, bulk("1.5"), send(restored, q, "GET", "f"))
	assert.Equal(t, integer(-1), send(restored, q, "TTL", "f"))

	send(restored, q, "SELECT", "3")
	assert.Equal(t, bulk("v"), send(restored, q, "GET", "other"))
	assert.Equal(t, bulks("a", "b"), send(restored, q, "LRANGE", "l", "0", "-1"))

	// appends after a restart continue in the right database
	send(restored, q, "SET", "after", "restart")
	require.NoError(t, restored.Shutdown())

	again := newTestEngine(t, cfg)
	defer again.Shutdown() //nolint:errcheck
	r := NewPeer(nil)
	send(again, r, "SELECT", "3")
	assert.Equal(t, bulk("restart"), send(again, r, "GET", "after"))
	send(again, r, "SELECT", "0")
	assert.Equal(t, nilBulk, send(again, r, "GET", "after"))
}

func TestAOFWriteFailureIsReported(t *testing.T) {
	e := newTestEngine(t, aofConfig(t.TempDir()))
	p := NewPeer(nil)

	assert.Equal(t, ok, send(e, p, "SET", "a", "1"))
	require.NoError(t, e.aof.Close())

	res := send(e, p, "SET", "b", "2")
	require.Equal(t, byte(resp.TypeError), res.Type)
	assert.True(t, strings.HasPrefix(string(res.String), "MISCONF"), "got %q", res.String)

	// the change stays in memory
	assert.Equal(t, bulk("2"), send(e, p, "GET", "b"))

	// reads do not touch the log
	assert.Equal(t, bulk("1"), send(e, p, "GET", "a"))
	e.Shutdown() //nolint:errcheck
}

func TestSnapshotPersistence(t *testing.T) {
	for _, format := range []string{"binary", "bolt"} {
		t.Run(format, func(t *testing.T) {
			cfg := testConfig()
			cfg.Persistence.Dir = t.TempDir()
			cfg.Persistence.RDB = config.RDBConfig{Enabled: true, Filename: "dump.rdb", Format: format}

			e := newTestEngine(t, cfg)
			p := NewPeer(nil)
			runSteps(t, e, p, []step{
				{[]string{"SET", "a", "1", "EX", "100"}, ok},
				{[]string{"HSET", "h", "f", "v"}, integer(1)},
				{[]string{"ZADD", "z", "1.5", "m"}, integer(1)},
				{[]string{"SAVE"}, ok},
				{[]string{"BGSAVE"}, resp.MakeSimpleString("Background saving started")},
				{[]string{"SELECT", "5"}, ok},
				{[]string{"RPUSH", "l", "x"}, integer(1)},
			})
			assert.Equal(t, byte(resp.TypeInteger), send(e, p, "LASTSAVE").Type)

			// the change after the last save is written on shutdown
			require.NoError(t, e.Shutdown())

			restored := newTestEngine(t, cfg)
			defer restored.Shutdown() //nolint:errcheck
			q := NewPeer(nil)
			assert.Equal(t, bulk("1"), send(restored, q, "GET", "a"))
			assert.InDelta(t, 100, send(restored, q, "TTL", "a").Integer, 1)
			assert.Equal(t, bulk("v"), send(restored, q, "HGET", "h", "f"))
			assert.Equal(t, bulk("1.5"), send(restored, q, "ZSCORE", "z", "m"))
			send(restored, q, "SELECT", "5")
			assert.Equal(t, bulks("x"), send(restored, q, "LRANGE", "l", "0", "-1"))
		})
	}
}

func TestSaveDisabled(t *testing.T) {
	e, p := setupEngine(t)

	runSteps(t, e, p, []step{
		{[]string{"SAVE"}, errV("ERR snapshot persistence is disabled")},
		{[]string{"BGSAVE"}, errV("ERR snapshot persistence is disabled")},
	})
	assert.Equal(t, e.startedAt.Unix(), send(e, p, "LASTSAVE").Integer)
}

func TestSaveFlushesAOF(t *testing.T) {
	cfg := aofConfig(t.TempDir())
	cfg.Persistence.AOF.Fsync = "no"
	cfg.Persistence.RDB = config.RDBConfig{Enabled: true, Filename: "dump.rdb", Format: "binary"}

	e := newTestEngine(t, cfg)
	defer e.Shutdown() //nolint:errcheck
	p := NewPeer(nil)

	require.Equal(t, ok, send(e, p, "SET", "k", "v"))
	data, err := os.ReadFile(cfg.Persistence.AOFPath())
	require.NoError(t, err)
	assert.Empty(t, data, "fsync no keeps small writes buffered")

	require.Equal(t, ok, send(e, p, "SAVE"))
	data, err = os.ReadFile(cfg.Persistence.AOFPath())
	require.NoError(t, err)
	assert.Equal(t, "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n", string(data))
}

func TestAOFWinsOverSnapshot(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Persistence.Dir = dir
	cfg.Persistence.RDB = config.RDBConfig{Enabled: true, Filename: "dump.rdb", Format: "binary"}

	e := newTestEngine(t, cfg)
	send(e, NewPeer(nil), "SET", "from", "snapshot")
	require.NoError(t, e.Shutdown())
	require.FileExists(t, filepath.Join(dir, "dump.rdb"))

	cfg.Persistence.AOF = config.AOFConfig{Enabled: true, Filename: "appendonly.aof", Fsync: "always"}
	e = newTestEngine(t, cfg)
	defer e.Shutdown() //nolint:errcheck
	assert.Equal(t, nilBulk, send(e, NewPeer(nil), "GET", "from"))
}

func TestErrorReply(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"ERR sentinel", ErrSyntax, "ERR syntax error"},
		{"WRONGTYPE kept", storage.ErrWrongType, storage.ErrWrongType.Error()},
		{"MISCONF kept", durability(errors.New("disk full")), "MISCONF Errors writing to the AOF file: disk full"},
		{"EXECABORT kept", ErrExecAbort, ErrExecAbort.Error()},
		{"lower case gets ERR", errors.New("unknown subcommand"), "ERR unknown subcommand"},
		{"upper case word is not a code", errors.New("TTL already specified"), "ERR TTL already specified"},
		{"single upper case word", errors.New("XX"), "ERR XX"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, errV(tt.expected), errorReply(tt.err))
		})
	}
}

func TestInfo(t *testing.T) {
	e, p := setupEngine(t)

	send(e, p, "SET", "a", "1")
	send(e, p, "SET", "b", "1", "EX", "100")

	all := string(send(e, p, "INFO").String)
	for _, section := range []string{"# Server", "# Clients", "# Memory", "# Persistence", "# Stats", "# Cpu", "# Keyspace"} {
		assert.Contains(t, all, section)
	}
	assert.Contains(t, all, "run_id:"+e.runID)
	assert.Contains(t, all, "tcp_port:0\r\n")
	assert.Len(t, e.runID, 32)

	keyspace := string(send(e, p, "INFO", "keyspace").String)
	assert.Equal(t, "# Keyspace\r\ndb0:keys=2,expires=1\r\n", keyspace)

	assert.Equal(t, bulk(""), send(e, p, "INFO", "nosuchsection"))
	assert.Equal(t, errV("ERR syntax error"), send(e, p, "INFO", "a", "b"))
}

func TestClientCommand(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxClients = 2
	e := newTestEngine(t, cfg)
	defer e.Shutdown() //nolint:errcheck

	p := NewPeer(nil)
	require.True(t, e.Attach(p))
	require.True(t, e.Attach(NewPeer(nil)))
	assert.False(t, e.Attach(NewPeer(nil)), "max_clients must reject the third client")

	runSteps(t, e, p, []step{
		{[]string{"CLIENT", "ID"}, integer(p.ID())},
		{[]string{"CLIENT", "GETNAME"}, nilBulk},
		{[]string{"CLIENT", "SETNAME", "worker-1"}, ok},
		{[]string{"CLIENT", "GETNAME"}, bulk("worker-1")},
		{[]string{"CLIENT", "SETNAME", "bad name"}, errV("ERR Client names cannot contain spaces, newlines or special characters.")},
		{[]string{"CLIENT", "KILL"}, errV("ERR unknown subcommand 'KILL'. Try CLIENT HELP.")},
	})

	list := string(send(e, p, "CLIENT", "LIST").String)
	assert.Equal(t, 2, strings.Count(list, "\n"))
	assert.Contains(t, list, "name=worker-1")
	assert.Contains(t, list, "cmd=client")

	e.Detach(p)
	assert.True(t, e.Attach(NewPeer(nil)))
}

func TestPeerState(t *testing.T) {
	e, p := setupEngine(t)

	assert.Equal(t, AwaitingCommand, p.State())
	send(e, p, "PING")
	assert.Equal(t, Dispatching, p.State())

	send(e, p, "NOPE")
	assert.Equal(t, ParsingArguments, p.State())
}

func TestConcurrentIncr(t *testing.T) {
	e, _ := setupEngine(t)

	const (
		workers = 8
		rounds  = 500
	)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := NewPeer(nil)
			for i := 0; i < rounds; i++ {
				send(e, p, "INCR", "counter")
				send(e, p, "MSET", "x", "1", "y", "2", "z", "3")
				send(e, p, "SADD", "set", "m")
			}
		}()
	}
	wg.Wait()

	p := NewPeer(nil)
	assert.Equal(t, bulk("4000"), send(e, p, "GET", "counter"))
	assert.Equal(t, integer(1), send(e, p, "SCARD", "set"))
	assert.Equal(t, integer(5), send(e, p, "DBSIZE"))
}
