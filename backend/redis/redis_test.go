package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/polycache/backend"
	"github.com/unkn0wn-root/polycache/keycodec"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	r, err := New(Config{Client: client, CloseClient: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return mr, r
}

func key(t *testing.T, ns, k string) keycodec.DerivedKey {
	t.Helper()
	var c keycodec.Codec
	d, err := c.Derive(ns, k)
	require.NoError(t, err)
	return d
}

func TestNewNilClient(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestRedisPutGet(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRedis(t)
	k := key(t, "users", "u:1")

	_, err := r.Get(ctx, k)
	assert.ErrorIs(t, err, backend.ErrNotFound)

	now := time.Now()
	require.NoError(t, r.Put(ctx, k, backend.NewEntry(backend.Opaque([]byte(`{"id":1}`)), now, 0), false))
	e, err := r.Get(ctx, k)
	require.NoError(t, err)
	assert.False(t, e.Value.IsNumeric())
	assert.Equal(t, `{"id":1}`, string(e.Value.Payload()))
	assert.False(t, e.Expires())
	assert.Equal(t, now.UnixMilli(), e.CreatedAt.UnixMilli())

	err = r.Put(ctx, k, backend.NewEntry(backend.Opaque([]byte(`2`)), now, 0), false)
	assert.ErrorIs(t, err, backend.ErrKeyExists)

	require.NoError(t, r.Put(ctx, k, backend.NewEntry(backend.Opaque([]byte(`3`)), now, 0), true))
	e, err = r.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, "3", string(e.Value.Payload()))
}

func TestRedisNativeExpiry(t *testing.T) {
	ctx := context.Background()
	mr, r := newTestRedis(t)
	k := key(t, "ns", "ttl")

	require.NoError(t, r.Put(ctx, k, backend.NewEntry(backend.Numeric(1, nil), time.Now(), 2*time.Second), false))
	e, err := r.Get(ctx, k)
	require.NoError(t, err)
	assert.True(t, e.Expires())

	mr.FastForward(3 * time.Second)

	ok, err := r.Exists(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)
	// expired slot is free again
	assert.NoError(t, r.Put(ctx, k, backend.NewEntry(backend.Numeric(2, nil), time.Now(), 0), false))
}

func TestRedisIncrement(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRedis(t)
	k := key(t, "ns", "counter")

	assert.ErrorIs(t, r.Increment(ctx, k, 1), backend.ErrNotFound)

	require.NoError(t, r.Put(ctx, k, backend.NewEntry(backend.Numeric(10, nil), time.Now(), 0), true))
	require.NoError(t, r.Increment(ctx, k, 3))
	e, err := r.Get(ctx, k)
	require.NoError(t, err)
	assert.True(t, e.Value.IsNumeric())
	assert.Equal(t, 13.0, e.Value.Number())

	require.NoError(t, r.Increment(ctx, k, -3.5))
	e, err = r.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, 9.5, e.Value.Number())

	s := key(t, "ns", "string")
	require.NoError(t, r.Put(ctx, s, backend.NewEntry(backend.Opaque([]byte(`"x"`)), time.Now(), 0), true))
	assert.ErrorIs(t, r.Increment(ctx, s, 1), backend.ErrNotNumeric)
}

func TestRedisDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRedis(t)
	k := key(t, "ns", "gone")
	assert.NoError(t, r.Delete(ctx, k))
	require.NoError(t, r.Put(ctx, k, backend.NewEntry(backend.Opaque([]byte("1")), time.Now(), 0), true))
	assert.NoError(t, r.Delete(ctx, k))
	ok, err := r.Exists(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisClearScopes(t *testing.T) {
	ctx := context.Background()
	mr, r := newTestRedis(t)
	require.NoError(t, mr.Set("foreign", "keep"))

	a := key(t, "a", "1")
	b := key(t, "b", "1")
	for _, k := range []keycodec.DerivedKey{a, b} {
		require.NoError(t, r.Put(ctx, k, backend.NewEntry(backend.Numeric(1, nil), time.Now(), 0), true))
	}

	require.NoError(t, r.Clear(ctx, backend.NamespaceScope(a)))
	ok, _ := r.Exists(ctx, a)
	assert.False(t, ok)
	ok, _ = r.Exists(ctx, b)
	assert.True(t, ok)

	require.NoError(t, r.Clear(ctx, backend.AllScope()))
	ok, _ = r.Exists(ctx, b)
	assert.False(t, ok)
	assert.True(t, mr.Exists("foreign"), "keys outside the prefix must survive")
}

func TestRedisClosed(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRedis(t)
	require.NoError(t, r.Close(ctx))
	require.NoError(t, r.Close(ctx))
	_, err := r.Get(ctx, key(t, "ns", "k"))
	assert.ErrorIs(t, err, backend.ErrUnavailable)
}

func TestRedisTransportFault(t *testing.T) {
	ctx := context.Background()
	mr, r := newTestRedis(t)
	mr.Close()
	_, err := r.Exists(ctx, key(t, "ns", "k"))
	assert.ErrorIs(t, err, backend.ErrTransaction)
}

func TestRedisSubMillisecondTTL(t *testing.T) {
	ctx := context.Background()
	mr, r := newTestRedis(t)
	k := key(t, "ns", "short")

	require.NoError(t, r.Put(ctx, k, backend.NewEntry(backend.Opaque([]byte(`"v1"`)), time.Now(), 0), false))
	err := r.Put(ctx, k, backend.NewEntry(backend.Opaque([]byte(`"v2"`)), time.Now(), 500*time.Microsecond), false)
	assert.ErrorIs(t, err, backend.ErrKeyExists)
	e, err := r.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, `"v1"`, string(e.Value.Payload()))

	// rounded up to 1ms rather than dropped
	fresh := key(t, "ns", "fresh")
	require.NoError(t, r.Put(ctx, fresh, backend.NewEntry(backend.Opaque([]byte(`"x"`)), time.Now(), 500*time.Microsecond), true))
	assert.Equal(t, time.Millisecond, mr.TTL(fresh.Composite))
}

func TestRedisExpiredPut(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRedis(t)
	k := key(t, "ns", "k")
	stale := backend.Entry{
		Value:     backend.Opaque([]byte(`"v2"`)),
		CreatedAt: time.Now().Add(-time.Second),
		ExpiresAt: time.Now().Add(-time.Millisecond),
	}

	// nothing live: the expired write leaves the key absent
	require.NoError(t, r.Put(ctx, k, stale, false))
	ok, err := r.Exists(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Put(ctx, k, backend.NewEntry(backend.Opaque([]byte(`"v1"`)), time.Now(), 0), false))
	assert.ErrorIs(t, r.Put(ctx, k, stale, false), backend.ErrKeyExists)
	ok, err = r.Exists(ctx, k)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, r.Put(ctx, k, stale, true))
	ok, err = r.Exists(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)
}
