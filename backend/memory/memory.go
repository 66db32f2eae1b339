package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/polycache/backend"
	"github.com/unkn0wn-root/polycache/keycodec"
	"github.com/unkn0wn-root/polycache/reaper"
)

type config struct {
	interval time.Duration
	observer reaper.Observer
	now      func() time.Time
}

type Option func(*config)

// WithReapInterval overrides reaper.DefaultInterval.
func WithReapInterval(d time.Duration) Option {
	return func(c *config) { c.interval = d }
}

// WithSweepObserver is called after every background sweep.
func WithSweepObserver(o reaper.Observer) Option {
	return func(c *config) { c.observer = o }
}

// WithClock overrides time.Now for liveness checks and sweeps.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

func newStore(opts []Option) (*Store, *reaper.Reaper) {
	cfg := config{interval: reaper.DefaultInterval}
	for _, o := range opts {
		o(&cfg)
	}
	s := NewStore()
	if cfg.now != nil {
		s.now = cfg.now
	}
	r := reaper.New(s, reaper.WithInterval(cfg.interval), reaper.WithObserver(cfg.observer))
	return s, r
}

// Backend is a Local or Shared adapter over a Store.
type Backend struct {
	store  *Store
	reaper *reaper.Reaper
	owner  bool
	closed atomic.Bool
}

var (
	_ backend.Backend = (*Backend)(nil)
	_ backend.Sweeper = (*Backend)(nil)
	_ backend.Reaped  = (*Backend)(nil)
)

// NewLocal returns a Local backend owning its store and reaper.
// The reaper is created stopped.
func NewLocal(opts ...Option) *Backend {
	s, r := newStore(opts)
	return &Backend{store: s, reaper: r, owner: true}
}

func (b *Backend) check() error {
	if b.closed.Load() {
		return backend.ErrUnavailable
	}
	return nil
}

func (b *Backend) Put(_ context.Context, k keycodec.DerivedKey, e backend.Entry, overwrite bool) error {
	if err := b.check(); err != nil {
		return err
	}
	if err := backend.RequireKey(k); err != nil {
		return err
	}
	return b.store.put(k, e, overwrite)
}

func (b *Backend) Get(_ context.Context, k keycodec.DerivedKey) (backend.Entry, error) {
	if err := b.check(); err != nil {
		return backend.Entry{}, err
	}
	if err := backend.RequireKey(k); err != nil {
		return backend.Entry{}, err
	}
	return b.store.get(k)
}

func (b *Backend) Exists(_ context.Context, k keycodec.DerivedKey) (bool, error) {
	if err := b.check(); err != nil {
		return false, err
	}
	if err := backend.RequireKey(k); err != nil {
		return false, err
	}
	return b.store.exists(k)
}

func (b *Backend) Delete(_ context.Context, k keycodec.DerivedKey) error {
	if err := b.check(); err != nil {
		return err
	}
	if err := backend.RequireKey(k); err != nil {
		return err
	}
	return b.store.del(k)
}

func (b *Backend) Increment(_ context.Context, k keycodec.DerivedKey, delta float64) error {
	if err := b.check(); err != nil {
		return err
	}
	if err := backend.RequireKey(k); err != nil {
		return err
	}
	return b.store.incr(k, delta)
}

func (b *Backend) Clear(_ context.Context, s backend.Scope) error {
	if err := b.check(); err != nil {
		return err
	}
	return b.store.clear(s)
}

func (b *Backend) Sweep(ctx context.Context) (int, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	return b.store.Sweep(ctx)
}

// Reaper returns the reaper driving this backend's store. For Shared
// attachments it is the store-wide reaper.
func (b *Backend) Reaper() *reaper.Reaper { return b.reaper }

// Store exposes the underlying map store.
func (b *Backend) Store() *Store { return b.store }

// Close detaches a Shared attachment, or stops the reaper and drops the data
// of a Local backend. Safe to call multiple times.
func (b *Backend) Close(context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if b.owner {
		b.reaper.Stop()
		b.store.shutdown()
	}
	return nil
}

// SharedStore is a process-wide store that facades attach to without owning it.
type SharedStore struct {
	store  *Store
	reaper *reaper.Reaper

	mu   sync.Mutex
	down bool
}

// NewSharedStore creates an independent shared store. Tests that need
// isolation create their own instead of using DefaultShared.
func NewSharedStore(opts ...Option) *SharedStore {
	s, r := newStore(opts)
	return &SharedStore{store: s, reaper: r}
}

// Attach returns a backend reading and writing the shared store.
// After Teardown, attachments fail with backend.ErrUnavailable.
func (s *SharedStore) Attach() *Backend {
	return &Backend{store: s.store, reaper: s.reaper}
}

// Reaper returns the store-wide reaper. Stopping it affects every attachment.
func (s *SharedStore) Reaper() *reaper.Reaper { return s.reaper }

func (s *SharedStore) Store() *Store { return s.store }

// Teardown stops the reaper and drops all data. Returns false if already torn down.
func (s *SharedStore) Teardown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return false
	}
	s.down = true
	s.reaper.Stop()
	s.store.shutdown()
	return true
}

var (
	defaultOnce   sync.Once
	defaultShared *SharedStore
)

// DefaultShared returns the lazily created process-wide shared store.
func DefaultShared() *SharedStore {
	defaultOnce.Do(func() { defaultShared = NewSharedStore() })
	return defaultShared
}
