// Package asynchook decorates polycache.Hooks with a bounded queue drained by
// worker goroutines, so slow hook implementations never block cache calls.
// Events are dropped when the queue is full.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    RejectedEvery: 10, // sample logs: ~every 10th rejected write
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := polycache.New(polycache.Options{
//	    Namespace: "app:prod:user",
//	    Backend:   memory.NewLocal(),
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/polycache"
)

type Hooks struct {
	inner   polycache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ polycache.Hooks = (*Hooks)(nil)

func New(inner polycache.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = polycache.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events sent afterwards
// are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) SetRejected(op, key string) { h.try(func() { h.inner.SetRejected(op, key) }) }
func (h *Hooks) Swept(n int, err error)     { h.try(func() { h.inner.Swept(n, err) }) }
func (h *Hooks) BackendFault(op, key string, err error) {
	h.try(func() { h.inner.BackendFault(op, key, err) })
}
func (h *Hooks) FanOutFailed(op string, requested, failed int) {
	h.try(func() { h.inner.FanOutFailed(op, requested, failed) })
}
