package polycache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/polycache/backend"
	"github.com/unkn0wn-root/polycache/codec"
)

// Cache is the storage-agnostic cache API. Every call blocks until the
// backend answers and returns a *Error on failure.
type Cache interface {
	// Single
	Push(ctx context.Context, key string, value any, overwrite bool, opts ...PushOption) error
	Pull(ctx context.Context, key string, quiet bool) (any, error)
	PullInto(ctx context.Context, key string, dst any) (found bool, err error)
	Has(ctx context.Context, key string) (bool, error)
	Remove(ctx context.Context, key string) error
	Increment(ctx context.Context, key string, delta float64) error
	Decrement(ctx context.Context, key string, delta float64) error

	// Multi (results follow input order)
	PushMulti(ctx context.Context, items map[string]any, overwrite bool, opts ...PushOption) error
	PullMulti(ctx context.Context, keys []string, quiet, omitNotFound bool) ([]Pair[any], error)
	HasMulti(ctx context.Context, keys []string) ([]Pair[bool], error)
	HasAll(ctx context.Context, keys []string) (bool, error)
	RemoveMulti(ctx context.Context, keys []string) error
	IncrementMulti(ctx context.Context, keys []string, delta float64) error
	DecrementMulti(ctx context.Context, keys []string, delta float64) error

	// Namespace and store maintenance
	Invalidate(ctx context.Context, all bool) error
	Sweep(ctx context.Context) (removed int, err error)
	StartReaper() bool
	StopReaper() bool

	// Configuration; changes apply to operations started afterwards.
	Namespace() string
	SetNamespace(ns string)
	DefaultTTL() time.Duration
	SetDefaultTTL(ttl time.Duration) error
	Backend() backend.Backend
	SetBackend(ctx context.Context, b backend.Backend) error
	SetVerbose(v bool)

	Close(ctx context.Context) error
}

// Options configure a Cache. Only Backend is required; others have sensible defaults.
type Options struct {
	// Required
	Backend backend.Backend

	Namespace     string        // "" => no namespace
	DefaultTTL    time.Duration // 0 => entries never expire; negative is rejected
	Codec         codec.Codec   // nil => DefaultCodec (JSON)
	Logger        Logger        // nil => NopLogger
	Hooks         Hooks         // nil => NopHooks
	Verbose       bool          // log backend causes at error level
	FanOutLimit   int           // max concurrent per-key calls in multi ops; 0 => unlimited
	DisableReaper bool          // do not start the backend reaper in New/SetBackend
}

// PushOption tunes a single Push or PushMulti call.
type PushOption func(*pushConfig)

type pushConfig struct {
	ttl    time.Duration
	hasTTL bool
}

// WithTTL overrides the default TTL for this call. 0 means no expiry.
func WithTTL(ttl time.Duration) PushOption {
	return func(p *pushConfig) {
		p.ttl = ttl
		p.hasTTL = true
	}
}

// New returns a Cache over opts.Backend. Backends driven by a reaper
// (Local, Shared) get it started unless DisableReaper is set.
func New(opts Options) (Cache, error) {
	return newCache(opts)
}
