package testpipeline

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/eternalApril/rudis/internal/config"
	"github.com/eternalApril/rudis/internal/server"
	"github.com/eternalApril/rudis/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// startServer runs a server on a random local port and returns a client connected to it
func startServer(t *testing.T, password string) *redis.Client {
	t.Helper()

	cfg := &config.Config{
		Server:  config.ServerConfig{RequirePass: password},
		Storage: config.StorageConfig{Shards: 16, Databases: 16},
		GC:      config.DefaultGCConfig(),
	}
	log := zaptest.NewLogger(t)

	ks, err := storage.NewKeyspace(cfg.Storage.Shards, cfg.Storage.Databases)
	require.NoError(t, err)
	engine, err := server.NewEngine(ks, cfg, log)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := server.NewServer(engine, log)
	go srv.Serve(ln) //nolint:errcheck

	rdb := redis.NewClient(&redis.Options{
		Addr:     ln.Addr().String(),
		Password: password,
	})

	t.Cleanup(func() {
		rdb.Close() //nolint:errcheck
		assert.NoError(t, srv.Shutdown(5*time.Second))
		assert.NoError(t, engine.Shutdown())
	})
	return rdb
}

func TestPipelining(t *testing.T) {
	rdb := startServer(t, "")
	ctx := context.Background()

	count := 10_000
	pipe := rdb.Pipeline()

	for i := 0; i < count; i++ {
		key := fmt.Sprintf("pipe_key_%d", i)
		val := fmt.Sprintf("val_%d", i)
		pipe.Set(ctx, key, val, 0)
	}

	getResults := make([]*redis.StringCmd, count)
	for i := 0; i < count; i++ {
		key := fmt.Sprintf("pipe_key_%d", i)
		getResults[i] = pipe.Get(ctx, key)
	}

	start := time.Now()
	_, err := pipe.Exec(ctx)
	elapsed := time.Since(start)

	assert.NoError(t, err, "Pipeline execution failed")
	t.Logf("Pipeline executed in %v", elapsed)

	for i := 0; i < count; i++ {
		expected := fmt.Sprintf("val_%d", i)
		val, err := getResults[i].Result()

		assert.NoError(t, err)
		assert.Equal(t, expected, val, "Key %d mismatch", i)
	}

	size, err := rdb.DBSize(ctx).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(count), size)
}

func TestTxPipeline(t *testing.T) {
	rdb := startServer(t, "")
	ctx := context.Background()

	var incr *redis.IntCmd
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, "counter", 10, 0)
		incr = pipe.IncrBy(ctx, "counter", 5)
		pipe.Expire(ctx, "counter", time.Minute)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(15), incr.Val())

	ttl, err := rdb.TTL(ctx, "counter").Result()
	require.NoError(t, err)
	assert.InDelta(t, time.Minute.Seconds(), ttl.Seconds(), 1)
}

func TestDataTypes(t *testing.T) {
	rdb := startServer(t, "")
	ctx := context.Background()

	require.NoError(t, rdb.RPush(ctx, "list", "a", "b", "c").Err())
	list, err := rdb.LRange(ctx, "list", 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, list)

	require.NoError(t, rdb.HSet(ctx, "hash", "f1", "v1", "f2", "v2").Err())
	hash, err := rdb.HGetAll(ctx, "hash").Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"f1": "v1", "f2": "v2"}, hash)

	require.NoError(t, rdb.SAdd(ctx, "set", "x", "y").Err())
	members, err := rdb.SMembers(ctx, "set").Result()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x", "y"}, members)

	require.NoError(t, rdb.ZAdd(ctx, "zset", redis.Z{Score: 2, Member: "two"}, redis.Z{Score: 1, Member: "one"}).Err())
	zs, err := rdb.ZRangeWithScores(ctx, "zset", 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []redis.Z{{Score: 1, Member: "one"}, {Score: 2, Member: "two"}}, zs)

	err = rdb.LPush(ctx, "hash", "x").Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WRONGTYPE")

	require.NoError(t, rdb.Set(ctx, "short", "v", 50*time.Millisecond).Err())
	time.Sleep(100 * time.Millisecond)
	assert.ErrorIs(t, rdb.Get(ctx, "short").Err(), redis.Nil)
}

func TestAuthRequired(t *testing.T) {
	rdb := startServer(t, "secret")
	ctx := context.Background()

	require.NoError(t, rdb.Set(ctx, "k", "v", 0).Err())
	val, err := rdb.Get(ctx, "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	anonymous := redis.NewClient(&redis.Options{Addr: rdb.Options().Addr})
	defer anonymous.Close() //nolint:errcheck

	err = anonymous.Get(ctx, "k").Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOAUTH")
}
