package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eternalApril/rudis/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func populate(t *testing.T) *storage.Keyspace {
	t.Helper()
	ks, err := storage.NewKeyspace(4, 4)
	require.NoError(t, err)

	tx := ks.AcquireAll()
	defer tx.Release()

	db := tx.DB(0)
	db.Set("str", storage.NewStringEntity("value"))
	db.Set("", storage.NewStringEntity("empty key"))
	db.Put("ttl", storage.NewStringEntity("x"), time.Now().Add(time.Hour).UnixNano())

	l, _ := db.LookupList("list", true)
	l.PushBack("a")
	l.PushBack("b")

	h, _ := tx.DB(1).LookupHash("hash", true)
	h["f1"] = "v1"
	h["f2"] = "v2"

	s, _ := tx.DB(2).LookupSet("set", true)
	s["m"] = struct{}{}

	z, _ := tx.DB(3).LookupZSet("zset", true)
	z.Add("one", 1)
	z.Add("two", 2)

	return ks
}

func assertSameKeyspace(t *testing.T, want, got *storage.Keyspace) {
	t.Helper()
	assert.Equal(t, want.Stats(), got.Stats())

	wtx := want.AcquireAll()
	defer wtx.Release()
	gtx := got.AcquireAll()
	defer gtx.Release()

	for i := 0; i < want.Databases(); i++ {
		for _, key := range wtx.DB(i).Keys("*") {
			we, _ := wtx.DB(i).Get(key)
			ge, ok := gtx.DB(i).Get(key)
			require.True(t, ok, "db %d key %q missing", i, key)
			assert.Equal(t, we.Type, ge.Type)
			assert.Equal(t, plainValue(we), plainValue(ge), "value of %q", key)

			_, wStatus := wtx.DB(i).Expiry(key)
			_, gStatus := gtx.DB(i).Expiry(key)
			assert.Equal(t, wStatus, gStatus, "expiry of %q", key)
		}
	}
}

// plainValue converts an entity into a value with deterministic equality
func plainValue(e *storage.Entity) interface{} {
	switch v := e.Value.(type) {
	case *storage.List:
		return v.Values()
	case *storage.ZSet:
		return v.Members()
	}
	return e.Value
}

func TestSnapshot_RoundTrip(t *testing.T) {
	for _, format := range []string{"binary", "bolt"} {
		t.Run(format, func(t *testing.T) {
			snap, err := NewSnapshotter(format, filepath.Join(t.TempDir(), "dump.rdb"), zap.NewNop())
			require.NoError(t, err)

			ks := populate(t)
			require.NoError(t, snap.Save(ks.Dump()))

			restored, err := storage.NewKeyspace(8, 4)
			require.NoError(t, err)

			records, err := snap.Load()
			require.NoError(t, err)
			require.NoError(t, restored.Restore(records))

			assertSameKeyspace(t, ks, restored)
		})
	}
}

func TestSnapshot_Missing(t *testing.T) {
	for _, format := range []string{"binary", "bolt"} {
		snap, err := NewSnapshotter(format, filepath.Join(t.TempDir(), "none"), zap.NewNop())
		require.NoError(t, err)

		records, err := snap.Load()
		require.NoError(t, err)
		assert.Nil(t, records)
	}
}

func TestSnapshot_UnknownFormat(t *testing.T) {
	_, err := NewSnapshotter("xml", "dump", zap.NewNop())
	assert.Error(t, err)
}

func TestRDB_Corruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.rdb")
	rdb := NewRDB(path, zap.NewNop())
	require.NoError(t, rdb.Save(populate(t).Dump()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"flipped byte", func(b []byte) []byte { b[len(b)/2] ^= 0xff; return b }},
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"truncated", func(b []byte) []byte { return b[:len(b)-10] }},
		{"empty", func([]byte) []byte { return []byte{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			corrupt := tt.mutate(append([]byte(nil), data...))
			require.NoError(t, os.WriteFile(path, corrupt, 0644))

			_, err := rdb.Load()
			assert.ErrorIs(t, err, ErrCorruptSnapshot)
		})
	}
}

func TestRDB_FailedSaveKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.rdb")
	rdb := NewRDB(path, zap.NewNop())

	require.NoError(t, rdb.Save(populate(t).Dump()))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	// a directory in place of the temp file makes the write fail
	require.NoError(t, os.Mkdir(path+".tmp", 0755))
	assert.Error(t, rdb.Save(nil))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSaver(t *testing.T) {
	ks := populate(t)
	snap := NewRDB(filepath.Join(t.TempDir(), "dump.rdb"), zap.NewNop())
	saver := NewSaver(snap, ks, zap.NewNop())

	saver.MarkDirty(5)
	assert.Equal(t, int64(5), saver.Dirty())

	require.NoError(t, saver.Save(nil))
	assert.Equal(t, int64(0), saver.Dirty())
	assert.True(t, saver.LastStatusOK())

	saver.MarkDirty(2)
	require.NoError(t, saver.Background(nil))
	saver.Wait()
	assert.False(t, saver.InProgress())
	assert.Equal(t, int64(0), saver.Dirty())

	restored, err := storage.NewKeyspace(4, 4)
	require.NoError(t, err)
	n, err := NewSaver(snap, restored, zap.NewNop()).Restore()
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assertSameKeyspace(t, ks, restored)
}

func TestSaver_FailureIsReported(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.rdb")
	require.NoError(t, os.Mkdir(path+".tmp", 0755))

	saver := NewSaver(NewRDB(path, zap.NewNop()), populate(t), zap.NewNop())
	var reported error
	saver.OnError(func(err error) { reported = err })

	saver.MarkDirty(1)
	assert.Error(t, saver.Save(nil))
	assert.Error(t, reported)
	assert.False(t, saver.LastStatusOK())
	assert.Equal(t, int64(1), saver.Dirty())
}
