package polycache

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/polycache/keycodec"
)

// Pair is one result of a multi-key operation, in input order.
type Pair[T any] struct {
	Key   string
	Value T
}

// deriveAll validates the whole batch before any backend call.
func (c *cache) deriveAll(s settings, op string, keys []string) ([]keycodec.DerivedKey, error) {
	if len(keys) == 0 {
		return nil, invalid(op, "")
	}
	out := make([]keycodec.DerivedKey, len(keys))
	for i, key := range keys {
		k, err := c.derive(s, op, key)
		if err != nil {
			return nil, err
		}
		out[i] = k
	}
	return out, nil
}

// fanOut runs fn for every index concurrently (bounded by FanOutLimit) and
// waits for all of them. A failing call does not cancel the others. The
// error returned is the one with the lowest index.
func fanOut[T any](ctx context.Context, c *cache, op string, n int, fn func(ctx context.Context, i int) (T, error)) ([]T, error) {
	results := make([]T, n)
	errs := make([]error, n)

	var g errgroup.Group
	if c.fanOutLimit > 0 {
		g.SetLimit(c.fanOutLimit)
	}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			results[i], errs[i] = fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()

	var (
		first  error
		failed int
	)
	for _, err := range errs {
		if err == nil {
			continue
		}
		if first == nil {
			first = err
		}
		failed++
	}
	if failed > 0 {
		c.hooks.FanOutFailed(op, n, failed)
		c.log.Debug("multi-key operation failed", Fields{"op": op, "requested": n, "failed": failed})
		return nil, first
	}
	return results, nil
}

// PushMulti stores every item; keys are processed in lexicographic order, so
// the error returned is the one for the smallest failing key.
func (c *cache) PushMulti(ctx context.Context, items map[string]any, overwrite bool, opts ...PushOption) error {
	s := c.acquire()
	defer c.release(s)
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ttl := resolveTTL(s, opts)
	if ttl < 0 {
		return invalid("push multi", "")
	}
	dks, err := c.deriveAll(s, "push multi", keys)
	if err != nil {
		return err
	}
	_, err = fanOut(ctx, c, "push multi", len(keys), func(ctx context.Context, i int) (struct{}, error) {
		return struct{}{}, c.push(ctx, s, dks[i], keys[i], items[keys[i]], overwrite, ttl)
	})
	return err
}

// PullMulti reads every key. With quiet, misses yield nil values; with
// omitNotFound they are dropped from the result instead.
func (c *cache) PullMulti(ctx context.Context, keys []string, quiet, omitNotFound bool) ([]Pair[any], error) {
	s := c.acquire()
	defer c.release(s)
	dks, err := c.deriveAll(s, "pull multi", keys)
	if err != nil {
		return nil, err
	}
	type pulled struct {
		v   any
		hit bool
	}
	res, err := fanOut(ctx, c, "pull multi", len(keys), func(ctx context.Context, i int) (pulled, error) {
		v, hit, err := c.pull(ctx, s, dks[i], keys[i], quiet || omitNotFound)
		return pulled{v: v, hit: hit}, err
	})
	if err != nil {
		return nil, err
	}
	out := make([]Pair[any], 0, len(keys))
	for i, r := range res {
		if omitNotFound && !r.hit {
			continue
		}
		out = append(out, Pair[any]{Key: keys[i], Value: r.v})
	}
	return out, nil
}

func (c *cache) HasMulti(ctx context.Context, keys []string) ([]Pair[bool], error) {
	s := c.acquire()
	defer c.release(s)
	dks, err := c.deriveAll(s, "has multi", keys)
	if err != nil {
		return nil, err
	}
	res, err := fanOut(ctx, c, "has multi", len(keys), func(ctx context.Context, i int) (bool, error) {
		return c.has(ctx, s, dks[i], keys[i])
	})
	if err != nil {
		return nil, err
	}
	out := make([]Pair[bool], len(keys))
	for i, ok := range res {
		out[i] = Pair[bool]{Key: keys[i], Value: ok}
	}
	return out, nil
}

// HasAll reports whether every key is live. All checks run to completion
// before the result is evaluated.
func (c *cache) HasAll(ctx context.Context, keys []string) (bool, error) {
	pairs, err := c.HasMulti(ctx, keys)
	if err != nil {
		return false, err
	}
	for _, p := range pairs {
		if !p.Value {
			return false, nil
		}
	}
	return true, nil
}

func (c *cache) RemoveMulti(ctx context.Context, keys []string) error {
	s := c.acquire()
	defer c.release(s)
	dks, err := c.deriveAll(s, "remove multi", keys)
	if err != nil {
		return err
	}
	_, err = fanOut(ctx, c, "remove multi", len(keys), func(ctx context.Context, i int) (struct{}, error) {
		return struct{}{}, c.remove(ctx, s, dks[i], keys[i])
	})
	return err
}

func (c *cache) IncrementMulti(ctx context.Context, keys []string, delta float64) error {
	s := c.acquire()
	defer c.release(s)
	dks, err := c.deriveAll(s, "increment multi", keys)
	if err != nil {
		return err
	}
	_, err = fanOut(ctx, c, "increment multi", len(keys), func(ctx context.Context, i int) (struct{}, error) {
		return struct{}{}, c.increment(ctx, s, dks[i], keys[i], delta)
	})
	return err
}

// DecrementMulti is IncrementMulti with -delta.
func (c *cache) DecrementMulti(ctx context.Context, keys []string, delta float64) error {
	return c.IncrementMulti(ctx, keys, -delta)
}
