package file

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/polycache/backend"
	"github.com/unkn0wn-root/polycache/keycodec"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	return s
}

func key(t *testing.T, ns, k string) keycodec.DerivedKey {
	t.Helper()
	var c keycodec.Codec
	d, err := c.Derive(ns, k)
	require.NoError(t, err)
	return d
}

func TestNewEmptyRoot(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrNoRoot)
}

func TestFileLayout(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	k := key(t, "users", "u:1")

	require.NoError(t, s.Put(ctx, k, backend.NewEntry(backend.Opaque([]byte(`{"id":1}`)), time.Now(), 0), false))

	want := filepath.Join(s.Root(), k.NamespaceHash, k.KeyHash+Ext)
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, string(data))
}

func TestFilePutGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	k := key(t, "ns", "a")

	_, err := s.Get(ctx, k)
	assert.ErrorIs(t, err, backend.ErrNotFound)

	require.NoError(t, s.Put(ctx, k, backend.NewEntry(backend.Opaque([]byte("1")), time.Now(), 0), false))
	err = s.Put(ctx, k, backend.NewEntry(backend.Opaque([]byte("2")), time.Now(), 0), false)
	assert.ErrorIs(t, err, backend.ErrKeyExists)

	require.NoError(t, s.Put(ctx, k, backend.NewEntry(backend.Opaque([]byte("3")), time.Now(), 0), true))
	e, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, "3", string(e.Value.Payload()))
	assert.False(t, e.CreatedAt.IsZero())
	assert.False(t, e.Expires())
}

func TestFileIgnoresTTL(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	k := key(t, "ns", "ttl")

	require.NoError(t, s.Put(ctx, k, backend.NewEntry(backend.Opaque([]byte("1")), time.Now(), time.Millisecond), false))
	time.Sleep(5 * time.Millisecond)
	ok, err := s.Exists(ctx, k)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileNumericStoredAsPayload(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	withPayload := key(t, "ns", "n1")
	bare := key(t, "ns", "n2")

	require.NoError(t, s.Put(ctx, withPayload, backend.NewEntry(backend.Numeric(5, []byte("5")), time.Now(), 0), true))
	require.NoError(t, s.Put(ctx, bare, backend.NewEntry(backend.Numeric(2.5, nil), time.Now(), 0), true))

	e, err := s.Get(ctx, withPayload)
	require.NoError(t, err)
	assert.Equal(t, "5", string(e.Value.Payload()))
	e, err = s.Get(ctx, bare)
	require.NoError(t, err)
	assert.Equal(t, "2.5", string(e.Value.Payload()))

	// increment is accepted and leaves the file untouched
	require.NoError(t, s.Increment(ctx, withPayload, 10))
	e, err = s.Get(ctx, withPayload)
	require.NoError(t, err)
	assert.Equal(t, "5", string(e.Value.Payload()))
}

func TestFileConcurrentCreateHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	k := key(t, "ns", "race")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Put(ctx, k, backend.NewEntry(backend.Opaque([]byte("x")), time.Now(), 0), false); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestFileClearScopes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := key(t, "a", "1")
	b := key(t, "b", "1")
	for _, k := range []keycodec.DerivedKey{a, b} {
		require.NoError(t, s.Put(ctx, k, backend.NewEntry(backend.Opaque([]byte("1")), time.Now(), 0), true))
	}

	require.NoError(t, s.Clear(ctx, backend.NamespaceScope(a)))
	ok, _ := s.Exists(ctx, a)
	assert.False(t, ok)
	ok, _ = s.Exists(ctx, b)
	assert.True(t, ok)

	require.NoError(t, s.Clear(ctx, backend.AllScope()))
	ok, _ = s.Exists(ctx, b)
	assert.False(t, ok)

	// the store stays usable after a full clear
	require.NoError(t, s.Put(ctx, a, backend.NewEntry(backend.Opaque([]byte("2")), time.Now(), 0), false))
}

func TestFileDeleteAndClose(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	k := key(t, "ns", "gone")

	assert.NoError(t, s.Delete(ctx, k))
	require.NoError(t, s.Put(ctx, k, backend.NewEntry(backend.Opaque([]byte("1")), time.Now(), 0), true))
	assert.NoError(t, s.Delete(ctx, k))

	require.NoError(t, s.Close(ctx))
	_, err := s.Get(ctx, k)
	assert.ErrorIs(t, err, backend.ErrUnavailable)
}
