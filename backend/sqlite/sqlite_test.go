package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/polycache/backend"
	"github.com/unkn0wn-root/polycache/codec"
	"github.com/unkn0wn-root/polycache/keycodec"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestSQLite(t *testing.T, clk *clock) *SQLite {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	cfg := Config{DB: db, CloseDB: true}
	if clk != nil {
		cfg.Clock = clk.now
	}
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func key(t *testing.T, ns, k string) keycodec.DerivedKey {
	t.Helper()
	var c keycodec.Codec
	d, err := c.Derive(ns, k)
	require.NoError(t, err)
	return d
}

func TestNewNilDB(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrNilDB)
}

func TestOpenInMemory(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close(ctx)

	k := key(t, "ns", "mem")
	require.NoError(t, s.Put(ctx, k, backend.NewEntry(backend.Numeric(1, nil), time.Now(), 0), false))
	ok, err := s.Exists(ctx, k)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLitePutGet(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t, nil)
	k := key(t, "users", "u:1")

	_, err := s.Get(ctx, k)
	assert.ErrorIs(t, err, backend.ErrNotFound)

	now := time.Now()
	require.NoError(t, s.Put(ctx, k, backend.NewEntry(backend.Opaque([]byte(`{"id":1}`)), now, time.Hour), false))
	e, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.False(t, e.Value.IsNumeric())
	assert.Equal(t, `{"id":1}`, string(e.Value.Payload()))
	assert.Equal(t, now.UnixMilli(), e.CreatedAt.UnixMilli())
	assert.True(t, e.Expires())

	err = s.Put(ctx, k, backend.NewEntry(backend.Opaque([]byte(`2`)), now, 0), false)
	assert.ErrorIs(t, err, backend.ErrKeyExists)

	require.NoError(t, s.Put(ctx, k, backend.NewEntry(backend.Opaque([]byte(`3`)), now, 0), true))
	e, err = s.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, "3", string(e.Value.Payload()))
	assert.False(t, e.Expires())
}

func TestSQLiteBinaryPayload(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t, nil)

	valueType := func(k keycodec.DerivedKey) string {
		var typ string
		require.NoError(t, s.DB().QueryRowContext(ctx,
			"SELECT typeof(value) FROM cache_storage WHERE namespace = ? AND key = ?",
			k.NamespaceHash, k.KeyHash).Scan(&typ))
		return typ
	}

	js := key(t, "ns", "json")
	require.NoError(t, s.Put(ctx, js, backend.NewEntry(backend.Opaque([]byte(`{"a":1}`)), time.Now(), 0), true))
	assert.Equal(t, "text", valueType(js))

	num := key(t, "ns", "num")
	require.NoError(t, s.Put(ctx, num, backend.NewEntry(backend.Numeric(7, nil), time.Now(), 0), true))
	assert.Equal(t, "text", valueType(num))

	mp, err := codec.Msgpack{}.Encode(map[string]any{"a": 1})
	require.NoError(t, err)
	for i, payload := range [][]byte{mp, {0x82, 0xa1, 0x61, 0x01, 0x00, 0xff}} {
		k := key(t, "ns", fmt.Sprintf("bin-%d", i))
		require.NoError(t, s.Put(ctx, k, backend.NewEntry(backend.Opaque(payload), time.Now(), 0), true))
		assert.Equal(t, "text", valueType(k))
		e, err := s.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, payload, e.Value.Payload())
	}
}

func TestSQLiteExpiredPutKeepsLiveOccupant(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	s := newTestSQLite(t, clk)
	k := key(t, "ns", "k")

	require.NoError(t, s.Put(ctx, k, backend.NewEntry(backend.Opaque([]byte(`"v1"`)), clk.now(), 0), false))
	stale := backend.Entry{Value: backend.Opaque([]byte(`"v2"`)), CreatedAt: clk.now().Add(-time.Second), ExpiresAt: clk.now().Add(-time.Millisecond)}

	assert.ErrorIs(t, s.Put(ctx, k, stale, false), backend.ErrKeyExists)
	e, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, []byte(`"v1"`), e.Value.Payload())

	require.NoError(t, s.Put(ctx, k, stale, true))
	ok, err := s.Exists(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteExpiry(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	s := newTestSQLite(t, clk)
	k := key(t, "ns", "ttl")

	require.NoError(t, s.Put(ctx, k, backend.NewEntry(backend.Numeric(1, nil), clk.now(), time.Second), false))
	clk.advance(2 * time.Second)

	ok, err := s.Exists(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.Get(ctx, k)
	assert.ErrorIs(t, err, backend.ErrNotFound)

	// expired row is a free slot
	require.NoError(t, s.Put(ctx, k, backend.NewEntry(backend.Numeric(2, nil), clk.now(), 0), false))
	e, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, 2.0, e.Value.Number())
}

func TestSQLiteSweep(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	s := newTestSQLite(t, clk)

	require.NoError(t, s.Put(ctx, key(t, "a", "1"), backend.NewEntry(backend.Numeric(1, nil), clk.now(), time.Second), true))
	require.NoError(t, s.Put(ctx, key(t, "b", "2"), backend.NewEntry(backend.Numeric(2, nil), clk.now(), time.Second), true))
	require.NoError(t, s.Put(ctx, key(t, "b", "3"), backend.NewEntry(backend.Numeric(3, nil), clk.now(), 0), true))
	clk.advance(2 * time.Second)

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var rows int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM cache_storage`).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestSQLiteIncrement(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t, nil)
	k := key(t, "ns", "counter")

	assert.ErrorIs(t, s.Increment(ctx, k, 1), backend.ErrNotFound)

	require.NoError(t, s.Put(ctx, k, backend.NewEntry(backend.Numeric(10, nil), time.Now(), 0), true))
	require.NoError(t, s.Increment(ctx, k, 3))
	require.NoError(t, s.Increment(ctx, k, -0.5))
	e, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.True(t, e.Value.IsNumeric())
	assert.Equal(t, 12.5, e.Value.Number())

	str := key(t, "ns", "string")
	require.NoError(t, s.Put(ctx, str, backend.NewEntry(backend.Opaque([]byte(`"x"`)), time.Now(), 0), true))
	assert.ErrorIs(t, s.Increment(ctx, str, 1), backend.ErrNotNumeric)
}

func TestSQLiteClearScopes(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t, nil)

	a := key(t, "a", "1")
	b := key(t, "b", "1")
	for _, k := range []keycodec.DerivedKey{a, b} {
		require.NoError(t, s.Put(ctx, k, backend.NewEntry(backend.Numeric(1, nil), time.Now(), 0), true))
	}

	require.NoError(t, s.Clear(ctx, backend.NamespaceScope(a)))
	ok, _ := s.Exists(ctx, a)
	assert.False(t, ok)
	ok, _ = s.Exists(ctx, b)
	assert.True(t, ok)

	require.NoError(t, s.Clear(ctx, backend.AllScope()))
	ok, _ = s.Exists(ctx, b)
	assert.False(t, ok)
}

func TestSQLiteDeleteAndClose(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t, nil)
	k := key(t, "ns", "gone")

	assert.NoError(t, s.Delete(ctx, k))
	require.NoError(t, s.Put(ctx, k, backend.NewEntry(backend.Numeric(1, nil), time.Now(), 0), true))
	assert.NoError(t, s.Delete(ctx, k))

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))
	_, err := s.Get(ctx, k)
	assert.ErrorIs(t, err, backend.ErrUnavailable)
	_, err = s.Sweep(ctx)
	assert.ErrorIs(t, err, backend.ErrUnavailable)
}
