package config

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/polycache"
	"github.com/unkn0wn-root/polycache/backend"
	"github.com/unkn0wn-root/polycache/backend/file"
	"github.com/unkn0wn-root/polycache/backend/memcache"
	"github.com/unkn0wn-root/polycache/backend/memory"
	"github.com/unkn0wn-root/polycache/backend/redis"
	"github.com/unkn0wn-root/polycache/backend/ristretto"
	"github.com/unkn0wn-root/polycache/backend/sqlite"
	"github.com/unkn0wn-root/polycache/codec"
)

type openConfig struct {
	logger        polycache.Logger
	hooks         polycache.Hooks
	shared        *memory.SharedStore
	disableReaper bool
}

type OpenOption func(*openConfig)

func WithLogger(l polycache.Logger) OpenOption {
	return func(o *openConfig) { o.logger = l }
}

func WithHooks(h polycache.Hooks) OpenOption {
	return func(o *openConfig) { o.hooks = h }
}

// WithSharedStore attaches the Shared strategy to s instead of
// memory.DefaultShared().
func WithSharedStore(s *memory.SharedStore) OpenOption {
	return func(o *openConfig) { o.shared = s }
}

func WithoutReaper() OpenOption {
	return func(o *openConfig) { o.disableReaper = true }
}

// NewBackend builds the backend selected by c.Strategy.
func NewBackend(ctx context.Context, c Config, opts ...OpenOption) (backend.Backend, error) {
	var oc openConfig
	for _, o := range opts {
		o(&oc)
	}
	b, err := newBackend(ctx, c, oc)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func newBackend(ctx context.Context, c Config, oc openConfig) (backend.Backend, error) {
	switch c.Strategy {
	case polycache.Local:
		var mo []memory.Option
		if c.ReapInterval > 0 {
			mo = append(mo, memory.WithReapInterval(c.ReapInterval))
		}
		return memory.NewLocal(mo...), nil
	case polycache.Shared:
		s := oc.shared
		if s == nil {
			s = memory.DefaultShared()
		}
		return s.Attach(), nil
	case polycache.KVStore:
		client := goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs:    c.Redis.Addrs,
			Username: c.Redis.Username,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		r, err := redis.New(redis.Config{Client: client, CloseClient: true})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return r, nil
	case polycache.CacheServer:
		m, err := memcache.NewServers(c.Memcache.Servers...)
		if err != nil {
			return nil, err
		}
		return m, nil
	case polycache.Relational:
		s, err := sqlite.Open(ctx, c.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case polycache.File:
		f, err := file.New(c.File.Root)
		if err != nil {
			return nil, err
		}
		return f, nil
	case polycache.Bounded:
		b, err := ristretto.New(ristretto.Config{
			NumCounters: c.Ristretto.NumCounters,
			MaxCost:     c.Ristretto.MaxCost,
			BufferItems: c.Ristretto.BufferItems,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: strategy %v", ErrInvalid, c.Strategy)
}

// Open validates c, builds its backend and returns a Cache owning it.
func Open(ctx context.Context, c Config, opts ...OpenOption) (polycache.Cache, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var oc openConfig
	for _, o := range opts {
		o(&oc)
	}
	cd, err := codec.ByName(c.Codec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	b, err := newBackend(ctx, c, oc)
	if err != nil {
		return nil, err
	}
	cache, err := polycache.New(polycache.Options{
		Backend:       b,
		Namespace:     c.Namespace,
		DefaultTTL:    c.DefaultTTL,
		Codec:         cd,
		Logger:        oc.logger,
		Hooks:         oc.hooks,
		Verbose:       c.Verbose,
		FanOutLimit:   c.FanOutLimit,
		DisableReaper: oc.disableReaper,
	})
	if err != nil {
		_ = b.Close(ctx)
		return nil, err
	}
	return cache, nil
}
