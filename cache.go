package polycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/polycache/backend"
	"github.com/unkn0wn-root/polycache/codec"
	"github.com/unkn0wn-root/polycache/keycodec"
)

// settings is the mutable part of the configuration. Every operation works
// on a copy taken when it starts.
type settings struct {
	ns      string
	ttl     time.Duration
	be      backend.Backend
	verbose bool

	inflight *sync.WaitGroup // operations running against be
}

type cache struct {
	mu  sync.RWMutex
	cfg settings

	keys          keycodec.Codec
	codec         codec.Codec
	log           Logger
	hooks         Hooks
	fanOutLimit   int
	disableReaper bool
	unwatch       func() // drops the Swept subscription on be's reaper
}

var _ Cache = (*cache)(nil)

func newCache(opts Options) (*cache, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("polycache: backend is required: %w", ErrInvalidArgument)
	}
	if opts.DefaultTTL < 0 {
		return nil, fmt.Errorf("polycache: negative default ttl: %w", ErrInvalidArgument)
	}
	if opts.FanOutLimit < 0 {
		return nil, fmt.Errorf("polycache: negative fan-out limit: %w", ErrInvalidArgument)
	}

	c := &cache{
		cfg: settings{
			ns:       opts.Namespace,
			ttl:      opts.DefaultTTL,
			be:       opts.Backend,
			verbose:  opts.Verbose,
			inflight: new(sync.WaitGroup),
		},
		fanOutLimit:   opts.FanOutLimit,
		disableReaper: opts.DisableReaper,
	}

	// defaults
	c.codec = coalesce[codec.Codec](opts.Codec, DefaultCodec)
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})

	c.unwatch = c.watch(opts.Backend)
	c.startReaper(opts.Backend)
	return c, nil
}

// watch forwards sweeps of b's reaper to Hooks.Swept.
func (c *cache) watch(b backend.Backend) func() {
	if r, ok := b.(backend.Reaped); ok {
		return r.Reaper().Subscribe(c.hooks.Swept)
	}
	return func() {}
}

func (c *cache) startReaper(b backend.Backend) {
	if c.disableReaper {
		return
	}
	if r, ok := b.(backend.Reaped); ok && r.Reaper().Start() {
		c.log.Debug("reaper started", Fields{"backend": fmt.Sprintf("%T", b)})
	}
}

func (c *cache) snapshot() settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// acquire snapshots the settings for an operation that will call the
// backend; pair with release.
func (c *cache) acquire() settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.cfg.inflight.Add(1)
	return c.cfg
}

func (c *cache) release(s settings) { s.inflight.Done() }

func (c *cache) Namespace() string { return c.snapshot().ns }

func (c *cache) SetNamespace(ns string) {
	c.mu.Lock()
	c.cfg.ns = ns
	c.mu.Unlock()
}

func (c *cache) DefaultTTL() time.Duration { return c.snapshot().ttl }

func (c *cache) SetDefaultTTL(ttl time.Duration) error {
	if ttl < 0 {
		return invalid("set default ttl", "")
	}
	c.mu.Lock()
	c.cfg.ttl = ttl
	c.mu.Unlock()
	return nil
}

func (c *cache) Backend() backend.Backend { return c.snapshot().be }

// SetBackend switches to b. Operations started afterwards use b; the
// previous backend is closed once the operations still running on it have
// returned, or when ctx is done, whichever comes first.
func (c *cache) SetBackend(ctx context.Context, b backend.Backend) error {
	if b == nil {
		return invalid("set backend", "")
	}
	c.mu.Lock()
	prev, prevInflight, prevUnwatch := c.cfg.be, c.cfg.inflight, c.unwatch
	if prev == b {
		c.mu.Unlock()
		return nil
	}
	c.cfg.be = b
	c.cfg.inflight = new(sync.WaitGroup)
	c.unwatch = c.watch(b)
	c.mu.Unlock()

	prevUnwatch()
	c.startReaper(b)
	if prev == nil {
		return nil
	}
	drained := make(chan struct{})
	go func() {
		prevInflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		c.log.Warn("closing previous backend with operations in flight", Fields{"err": ctx.Err()})
	}
	if err := prev.Close(ctx); err != nil {
		return c.fail(c.snapshot(), "set backend", "", err)
	}
	return nil
}

func (c *cache) SetVerbose(v bool) {
	c.mu.Lock()
	c.cfg.verbose = v
	c.mu.Unlock()
}

func (c *cache) Close(ctx context.Context) error {
	c.mu.Lock()
	c.unwatch()
	c.unwatch = func() {}
	c.mu.Unlock()
	s := c.snapshot()
	if err := s.be.Close(ctx); err != nil {
		return c.fail(s, "close", "", err)
	}
	return nil
}

// fail converts err into a *Error, logging the cause when verbose.
func (c *cache) fail(s settings, op, key string, err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	kind := kindOf(err)
	fault := kind == ErrTransaction || kind == ErrUnavailable || kind == ErrSerialization
	if fault {
		c.hooks.BackendFault(op, key, err)
	}
	if s.verbose {
		f := Fields{"op": op, "key": key, "namespace": s.ns, "kind": kind.Error(), "err": err}
		if fault {
			c.log.Error("operation failed", f)
		} else {
			c.log.Debug("operation failed", f)
		}
	}
	return &Error{Op: op, Key: key, Kind: kind}
}

func (c *cache) derive(s settings, op, key string) (keycodec.DerivedKey, error) {
	k, err := c.keys.Derive(s.ns, key)
	if err != nil {
		return keycodec.DerivedKey{}, invalid(op, key)
	}
	return k, nil
}

// entry builds the stored form of value. Numbers keep their codec payload
// for stores that cannot hold the numeric tag.
func (c *cache) entry(value any, now time.Time, ttl time.Duration) (backend.Entry, error) {
	payload, err := c.codec.Encode(value)
	if err != nil {
		return backend.Entry{}, err
	}
	if f, ok := numberOf(value); ok {
		return backend.NewEntry(backend.Numeric(f, payload), now, ttl), nil
	}
	return backend.NewEntry(backend.Opaque(payload), now, ttl), nil
}

func resolveTTL(s settings, opts []PushOption) time.Duration {
	var pc pushConfig
	for _, o := range opts {
		o(&pc)
	}
	if pc.hasTTL {
		return pc.ttl
	}
	return s.ttl
}

func (c *cache) Push(ctx context.Context, key string, value any, overwrite bool, opts ...PushOption) error {
	s := c.acquire()
	defer c.release(s)
	ttl := resolveTTL(s, opts)
	if ttl < 0 {
		return invalid("push", key)
	}
	k, err := c.derive(s, "push", key)
	if err != nil {
		return err
	}
	return c.push(ctx, s, k, key, value, overwrite, ttl)
}

func (c *cache) push(ctx context.Context, s settings, k keycodec.DerivedKey, key string, value any, overwrite bool, ttl time.Duration) error {
	e, err := c.entry(value, time.Now(), ttl)
	if err != nil {
		return c.fail(s, "push", key, fmt.Errorf("%w: %w", ErrSerialization, err))
	}
	err = s.be.Put(ctx, k, e, overwrite)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, backend.ErrRejected):
		c.hooks.SetRejected("push", key)
		c.log.Debug("push rejected by backend (pressure)", Fields{"key": key})
		return nil
	case errors.Is(err, ErrKeyExists):
		c.log.Debug("push collision", Fields{"key": key})
	}
	return c.fail(s, "push", key, err)
}

func (c *cache) Pull(ctx context.Context, key string, quiet bool) (any, error) {
	s := c.acquire()
	defer c.release(s)
	k, err := c.derive(s, "pull", key)
	if err != nil {
		return nil, err
	}
	v, _, err := c.pull(ctx, s, k, key, quiet)
	return v, err
}

// pull reports found=false for a quiet miss.
func (c *cache) pull(ctx context.Context, s settings, k keycodec.DerivedKey, key string, quiet bool) (any, bool, error) {
	e, err := s.be.Get(ctx, k)
	if errors.Is(err, ErrNotFound) {
		c.log.Debug("pull miss", Fields{"key": key})
		if quiet {
			return nil, false, nil
		}
	}
	if err != nil {
		return nil, false, c.fail(s, "pull", key, err)
	}
	v, err := c.decode(e.Value)
	if err != nil {
		return nil, false, c.fail(s, "pull", key, err)
	}
	return v, true, nil
}

// decode returns numbers as float64 and everything else in the codec's
// generic shape.
func (c *cache) decode(v backend.Value) (any, error) {
	if v.IsNumeric() {
		return v.Number(), nil
	}
	var out any
	if err := c.codec.Decode(v.Payload(), &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return out, nil
}

func (c *cache) PullInto(ctx context.Context, key string, dst any) (bool, error) {
	s := c.acquire()
	defer c.release(s)
	k, err := c.derive(s, "pull", key)
	if err != nil {
		return false, err
	}
	e, err := s.be.Get(ctx, k)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, c.fail(s, "pull", key, err)
	}
	if e.Value.IsNumeric() {
		err = assignNumber(e.Value.Number(), dst)
	} else if err = c.codec.Decode(e.Value.Payload(), dst); err != nil {
		err = fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	if err != nil {
		return false, c.fail(s, "pull", key, err)
	}
	return true, nil
}

func (c *cache) Has(ctx context.Context, key string) (bool, error) {
	s := c.acquire()
	defer c.release(s)
	k, err := c.derive(s, "has", key)
	if err != nil {
		return false, err
	}
	return c.has(ctx, s, k, key)
}

func (c *cache) has(ctx context.Context, s settings, k keycodec.DerivedKey, key string) (bool, error) {
	ok, err := s.be.Exists(ctx, k)
	if err != nil {
		return false, c.fail(s, "has", key, err)
	}
	return ok, nil
}

func (c *cache) Remove(ctx context.Context, key string) error {
	s := c.acquire()
	defer c.release(s)
	k, err := c.derive(s, "remove", key)
	if err != nil {
		return err
	}
	return c.remove(ctx, s, k, key)
}

func (c *cache) remove(ctx context.Context, s settings, k keycodec.DerivedKey, key string) error {
	if err := s.be.Delete(ctx, k); err != nil {
		return c.fail(s, "remove", key, err)
	}
	return nil
}

func (c *cache) Increment(ctx context.Context, key string, delta float64) error {
	s := c.acquire()
	defer c.release(s)
	k, err := c.derive(s, "increment", key)
	if err != nil {
		return err
	}
	return c.increment(ctx, s, k, key, delta)
}

// Decrement is Increment with -delta.
func (c *cache) Decrement(ctx context.Context, key string, delta float64) error {
	return c.Increment(ctx, key, -delta)
}

func (c *cache) increment(ctx context.Context, s settings, k keycodec.DerivedKey, key string, delta float64) error {
	err := s.be.Increment(ctx, k, delta)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, backend.ErrRejected):
		c.hooks.SetRejected("increment", key)
		return nil
	}
	return c.fail(s, "increment", key, err)
}

// Invalidate clears the active namespace, or the whole backend when all is set.
func (c *cache) Invalidate(ctx context.Context, all bool) error {
	s := c.acquire()
	defer c.release(s)
	scope := backend.AllScope()
	if !all {
		scope = backend.NamespaceScope(c.keys.DeriveNamespace(s.ns))
	}
	if err := s.be.Clear(ctx, scope); err != nil {
		return c.fail(s, "invalidate", "", err)
	}
	c.log.Debug("invalidated", Fields{"namespace": s.ns, "all": all})
	return nil
}

// Sweep drops expired entries on backends that support it.
func (c *cache) Sweep(ctx context.Context) (int, error) {
	s := c.acquire()
	defer c.release(s)
	sw, ok := s.be.(backend.Sweeper)
	if !ok {
		return 0, &Error{Op: "sweep", Kind: ErrUnsupported}
	}
	n, err := sw.Sweep(ctx)
	c.hooks.Swept(n, err)
	if err != nil {
		return n, c.fail(s, "sweep", "", err)
	}
	return n, nil
}

func (c *cache) StartReaper() bool {
	r, ok := c.snapshot().be.(backend.Reaped)
	return ok && r.Reaper().Start()
}

func (c *cache) StopReaper() bool {
	r, ok := c.snapshot().be.(backend.Reaped)
	return ok && r.Reaper().Stop()
}
