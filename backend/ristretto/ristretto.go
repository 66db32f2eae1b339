// Package ristretto implements the Bounded backend: an in-process cache with
// a cost budget, admission policy and per-entry TTL, built on ristretto.
//
// Writes may be dropped under pressure; a dropped Put reports
// backend.ErrRejected. Conditional puts and increments are check-then-act
// under the backend's mutex.
package ristretto

import (
	"context"
	"errors"
	"sync"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/polycache/backend"
	"github.com/unkn0wn-root/polycache/keycodec"
)

const (
	defaultNumCounters = 100_000
	defaultMaxCost     = 64 << 20
	defaultBufferItems = 64

	// entryOverhead approximates per-entry bookkeeping in cost units (bytes).
	entryOverhead = 64
)

type Config struct {
	NumCounters int64 // 0 => 100k
	MaxCost     int64 // 0 => 64 MiB
	BufferItems int64 // 0 => 64
	Metrics     bool
}

type Bounded struct {
	c *rc.Cache

	mu     sync.Mutex
	index  map[string]map[string]struct{} // namespace hash -> composite keys
	closed bool
}

var (
	_ backend.Backend = (*Bounded)(nil)
	_ backend.Sweeper = (*Bounded)(nil)
)

func New(cfg Config) (*Bounded, error) {
	if cfg.NumCounters < 0 || cfg.MaxCost < 0 || cfg.BufferItems < 0 {
		return nil, errors.New("ristretto backend: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: coalesce(cfg.NumCounters, defaultNumCounters),
		MaxCost:     coalesce(cfg.MaxCost, defaultMaxCost),
		BufferItems: coalesce(cfg.BufferItems, defaultBufferItems),
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Bounded{c: c, index: make(map[string]map[string]struct{})}, nil
}

func coalesce(v, def int64) int64 {
	if v == 0 {
		return def
	}
	return v
}

// Metrics exposes ristretto's counters; nil unless Config.Metrics is set.
func (b *Bounded) Metrics() *rc.Metrics { return b.c.Metrics }

func cost(e backend.Entry) int64 {
	return int64(len(e.Value.Payload())) + entryOverhead
}

// lookup returns the live entry at k. Caller holds mu.
func (b *Bounded) lookup(k keycodec.DerivedKey, now time.Time) (backend.Entry, bool) {
	v, ok := b.c.Get(k.Composite)
	if !ok {
		return backend.Entry{}, false
	}
	e, ok := v.(backend.Entry)
	if !ok || !e.Live(now) {
		// self-heal: drop unexpected or stale entry
		b.c.Del(k.Composite)
		return backend.Entry{}, false
	}
	return e, true
}

// store writes e and waits for the write to be applied. Caller holds mu.
func (b *Bounded) store(k keycodec.DerivedKey, e backend.Entry, now time.Time) error {
	var ttl time.Duration
	if e.Expires() {
		ttl = e.TTL(now)
	}
	if !b.c.SetWithTTL(k.Composite, e, cost(e), ttl) {
		return backend.ErrRejected
	}
	b.c.Wait()
	// the admission policy may still drop the item once buffered
	if _, ok := b.c.Get(k.Composite); !ok {
		return backend.ErrRejected
	}
	keys := b.index[k.NamespaceHash]
	if keys == nil {
		keys = make(map[string]struct{})
		b.index[k.NamespaceHash] = keys
	}
	keys[k.Composite] = struct{}{}
	return nil
}

func (b *Bounded) check(k keycodec.DerivedKey) error {
	if b.closed {
		return backend.ErrUnavailable
	}
	return backend.RequireKey(k)
}

func (b *Bounded) Put(_ context.Context, k keycodec.DerivedKey, e backend.Entry, overwrite bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(k); err != nil {
		return err
	}
	now := time.Now()
	if !overwrite {
		if _, ok := b.lookup(k, now); ok {
			return backend.ErrKeyExists
		}
	}
	if !e.Live(now) {
		b.c.Del(k.Composite)
		return nil
	}
	return b.store(k, e, now)
}

func (b *Bounded) Get(_ context.Context, k keycodec.DerivedKey) (backend.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(k); err != nil {
		return backend.Entry{}, err
	}
	e, ok := b.lookup(k, time.Now())
	if !ok {
		return backend.Entry{}, backend.ErrNotFound
	}
	return e, nil
}

func (b *Bounded) Exists(_ context.Context, k keycodec.DerivedKey) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(k); err != nil {
		return false, err
	}
	_, ok := b.lookup(k, time.Now())
	return ok, nil
}

func (b *Bounded) Delete(_ context.Context, k keycodec.DerivedKey) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(k); err != nil {
		return err
	}
	b.c.Del(k.Composite)
	if keys := b.index[k.NamespaceHash]; keys != nil {
		delete(keys, k.Composite)
	}
	return nil
}

// Increment is a no-op on absent keys and keeps the remaining TTL.
func (b *Bounded) Increment(_ context.Context, k keycodec.DerivedKey, delta float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(k); err != nil {
		return err
	}
	now := time.Now()
	e, ok := b.lookup(k, now)
	if !ok {
		return nil
	}
	if !e.Value.IsNumeric() {
		return backend.ErrNotNumeric
	}
	e.Value = e.Value.Add(delta)
	return b.store(k, e, now)
}

func (b *Bounded) Clear(_ context.Context, s backend.Scope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return backend.ErrUnavailable
	}
	if s.All {
		b.c.Clear()
		b.index = make(map[string]map[string]struct{})
		return nil
	}
	for key := range b.index[s.NamespaceHash] {
		b.c.Del(key)
	}
	delete(b.index, s.NamespaceHash)
	b.c.Wait()
	return nil
}

// Sweep prunes index entries whose keys ristretto has expired or evicted.
func (b *Bounded) Sweep(context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, backend.ErrUnavailable
	}
	now := time.Now()
	removed := 0
	for ns, keys := range b.index {
		for key := range keys {
			v, ok := b.c.Get(key)
			if e, isEntry := v.(backend.Entry); ok && isEntry && e.Live(now) {
				continue
			}
			b.c.Del(key)
			delete(keys, key)
			removed++
		}
		if len(keys) == 0 {
			delete(b.index, ns)
		}
	}
	return removed, nil
}

func (b *Bounded) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.c.Wait()
	b.c.Close()
	return nil
}
