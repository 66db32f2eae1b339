// Package reaper runs periodic sweeps that drop expired entries from stores
// without native expiry.
package reaper

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is the tick between sweeps.
const DefaultInterval = time.Second

// Sweeper removes expired entries and reports how many were dropped.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// SweepFunc adapts a function to Sweeper.
type SweepFunc func(ctx context.Context) (int, error)

func (f SweepFunc) Sweep(ctx context.Context) (int, error) { return f(ctx) }

// Observer receives the outcome of every sweep. It runs on the reaper goroutine.
type Observer func(removed int, err error)

type Option func(*Reaper)

// WithInterval overrides DefaultInterval. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithObserver(o Observer) Option {
	return func(r *Reaper) { r.observe = o }
}

// Reaper is a two-state machine: Stopped and Running.
// The zero value is not usable; construct with New.
type Reaper struct {
	target   Sweeper
	interval time.Duration
	observe  Observer

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	subMu  sync.Mutex
	subs   map[int]Observer
	nextID int
}

func New(target Sweeper, opts ...Option) *Reaper {
	r := &Reaper{target: target, interval: DefaultInterval}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start moves Stopped -> Running. It sweeps immediately, then once per tick.
// Returns false if already running.
func (r *Reaper) Start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.loop(ctx)
	return true
}

// Stop moves Running -> Stopped and waits for an in-flight sweep to finish.
// Returns false if already stopped.
func (r *Reaper) Stop() bool {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	r.wg.Wait()
	return true
}

// Subscribe adds an observer next to the one given at construction. The
// returned func removes it and may be called more than once.
func (r *Reaper) Subscribe(o Observer) (unsubscribe func()) {
	if o == nil {
		return func() {}
	}
	r.subMu.Lock()
	if r.subs == nil {
		r.subs = make(map[int]Observer)
	}
	id := r.nextID
	r.nextID++
	r.subs[id] = o
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
}

func (r *Reaper) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

func (r *Reaper) loop(ctx context.Context) {
	defer r.wg.Done()
	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	n, err := r.target.Sweep(ctx)
	if r.observe != nil {
		r.observe(n, err)
	}
	r.subMu.Lock()
	subs := make([]Observer, 0, len(r.subs))
	for _, o := range r.subs {
		subs = append(subs, o)
	}
	r.subMu.Unlock()
	for _, o := range subs {
		o(n, err)
	}
}
