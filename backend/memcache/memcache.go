// Package memcache implements the CacheServer backend on bradfitz/gomemcache.
//
// Items hold an internal/wire envelope, so liveness is checked against the
// stored expiry on read (memcached's own expiry has one-second resolution).
// Clear is unsupported: memcached has no scoped delete.
package memcache

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	mc "github.com/bradfitz/gomemcache/memcache"

	"github.com/unkn0wn-root/polycache/backend"
	"github.com/unkn0wn-root/polycache/internal/wire"
	"github.com/unkn0wn-root/polycache/keycodec"
)

// relativeLimit is the largest expiration memcached treats as relative seconds.
const relativeLimit = 30 * 24 * 60 * 60

const defaultCASRetries = 8

var ErrNilClient = errors.New("memcache backend: nil client")

// Client is the subset of *memcache.Client used by the backend.
type Client interface {
	Get(key string) (*mc.Item, error)
	Set(item *mc.Item) error
	Add(item *mc.Item) error
	CompareAndSwap(item *mc.Item) error
	Delete(key string) error
}

var _ Client = (*mc.Client)(nil)

type Memcache struct {
	c          Client
	casRetries int
	closed     atomic.Bool
}

var _ backend.Backend = (*Memcache)(nil)

type Config struct {
	Client     Client
	CASRetries int // 0 => 8
}

func New(cfg Config) (*Memcache, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	retries := cfg.CASRetries
	if retries <= 0 {
		retries = defaultCASRetries
	}
	return &Memcache{c: cfg.Client, casRetries: retries}, nil
}

// NewServers dials the given memcached servers.
func NewServers(servers ...string) (*Memcache, error) {
	if len(servers) == 0 {
		return nil, errors.New("memcache backend: no servers")
	}
	return New(Config{Client: mc.New(servers...)})
}

func (m *Memcache) check(k keycodec.DerivedKey) error {
	if m.closed.Load() {
		return backend.ErrUnavailable
	}
	return backend.RequireKey(k)
}

// expiration converts an absolute expiry to memcached's format: relative
// seconds rounded up, or a unix timestamp beyond 30 days.
func expiration(e backend.Entry, now time.Time) int32 {
	if !e.Expires() {
		return 0
	}
	secs := int64(math.Ceil(e.TTL(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	if secs > relativeLimit {
		return int32(e.ExpiresAt.Unix())
	}
	return int32(secs)
}

func (m *Memcache) Put(ctx context.Context, k keycodec.DerivedKey, e backend.Entry, overwrite bool) error {
	if err := m.check(k); err != nil {
		return err
	}
	now := time.Now()
	if !e.Live(now) {
		if overwrite {
			return m.del(k)
		}
		ok, err := m.Exists(ctx, k)
		if err != nil {
			return err
		}
		if ok {
			return backend.ErrKeyExists
		}
		return nil
	}
	item := &mc.Item{Key: k.Composite, Value: wire.EncodeEntry(e), Expiration: expiration(e, now)}
	if overwrite {
		if err := m.c.Set(item); err != nil {
			return backend.Fault("memcache set", err)
		}
		return nil
	}

	err := m.c.Add(item)
	if !errors.Is(err, mc.ErrNotStored) {
		if err != nil {
			return backend.Fault("memcache add", err)
		}
		return nil
	}
	// Occupied. The occupant may be expired by our clock but not yet by
	// memcached's; swap it out only if it is still the same item.
	cur, err := m.c.Get(k.Composite)
	if errors.Is(err, mc.ErrCacheMiss) {
		if err := m.c.Add(item); err != nil {
			if errors.Is(err, mc.ErrNotStored) {
				return backend.ErrKeyExists
			}
			return backend.Fault("memcache add", err)
		}
		return nil
	}
	if err != nil {
		return backend.Fault("memcache get", err)
	}
	if old, derr := wire.DecodeEntry(cur.Value); derr == nil && old.Live(now) {
		return backend.ErrKeyExists
	}
	cur.Value, cur.Expiration = item.Value, item.Expiration
	if err := m.c.CompareAndSwap(cur); err != nil {
		if errors.Is(err, mc.ErrCASConflict) || errors.Is(err, mc.ErrNotStored) {
			return backend.ErrKeyExists
		}
		return backend.Fault("memcache cas", err)
	}
	return nil
}

// load returns the raw item and its live entry. Corrupt or expired items are
// deleted and reported as ErrNotFound.
func (m *Memcache) load(k keycodec.DerivedKey) (*mc.Item, backend.Entry, error) {
	item, err := m.c.Get(k.Composite)
	if errors.Is(err, mc.ErrCacheMiss) {
		return nil, backend.Entry{}, backend.ErrNotFound
	}
	if err != nil {
		return nil, backend.Entry{}, backend.Fault("memcache get", err)
	}
	e, err := wire.DecodeEntry(item.Value)
	if err != nil || !e.Live(time.Now()) {
		_ = m.del(k)
		return nil, backend.Entry{}, backend.ErrNotFound
	}
	return item, e, nil
}

func (m *Memcache) Get(_ context.Context, k keycodec.DerivedKey) (backend.Entry, error) {
	if err := m.check(k); err != nil {
		return backend.Entry{}, err
	}
	_, e, err := m.load(k)
	return e, err
}

func (m *Memcache) Exists(_ context.Context, k keycodec.DerivedKey) (bool, error) {
	if err := m.check(k); err != nil {
		return false, err
	}
	_, _, err := m.load(k)
	if errors.Is(err, backend.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (m *Memcache) del(k keycodec.DerivedKey) error {
	if err := m.c.Delete(k.Composite); err != nil && !errors.Is(err, mc.ErrCacheMiss) {
		return backend.Fault("memcache delete", err)
	}
	return nil
}

func (m *Memcache) Delete(_ context.Context, k keycodec.DerivedKey) error {
	if err := m.check(k); err != nil {
		return err
	}
	return m.del(k)
}

// Increment is a get/compare-and-swap loop that keeps the remaining TTL.
// Absent keys fail with ErrNotFound.
func (m *Memcache) Increment(_ context.Context, k keycodec.DerivedKey, delta float64) error {
	if err := m.check(k); err != nil {
		return err
	}
	for attempt := 0; attempt < m.casRetries; attempt++ {
		item, e, err := m.load(k)
		if err != nil {
			return err
		}
		if !e.Value.IsNumeric() {
			return backend.ErrNotNumeric
		}
		e.Value = e.Value.Add(delta)
		item.Value = wire.EncodeEntry(e)
		item.Expiration = expiration(e, time.Now())

		err = m.c.CompareAndSwap(item)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, mc.ErrCASConflict):
			continue
		case errors.Is(err, mc.ErrNotStored), errors.Is(err, mc.ErrCacheMiss):
			return backend.ErrNotFound
		default:
			return backend.Fault("memcache cas", err)
		}
	}
	return backend.Fault("memcache incr", mc.ErrCASConflict)
}

// Clear is not supported by memcached without flushing the whole server.
func (m *Memcache) Clear(context.Context, backend.Scope) error {
	if m.closed.Load() {
		return backend.ErrUnavailable
	}
	return backend.ErrUnsupported
}

// Close marks the backend closed. The gomemcache client holds no resources
// that need releasing.
func (m *Memcache) Close(context.Context) error {
	m.closed.Store(true)
	return nil
}
