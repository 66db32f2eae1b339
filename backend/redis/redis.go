// Package redis implements the KVStore backend on go-redis.
//
// Each entry is a hash at the composite key:
//
//	v - payload bytes, or the decimal number for numeric entries
//	n - "1" for numeric entries, "0" otherwise
//	c - creation time, unix milliseconds
//
// Expiry is native (PEXPIRE). Conditional puts and increments run as Lua
// scripts, so overwrite=false is atomic.
package redis

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/polycache/backend"
	"github.com/unkn0wn-root/polycache/keycodec"
)

var ErrNilClient = errors.New("redis backend: nil client")

const (
	fieldValue   = "v"
	fieldNumeric = "n"
	fieldCreated = "c"

	scanBatch = 500
)

// KEYS[1]=key ARGV: overwrite, value, numeric, created, ttl ms (0 = none)
var putScript = goredis.NewScript(`
if ARGV[1] == '0' and redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'v', ARGV[2], 'n', ARGV[3], 'c', ARGV[4])
if tonumber(ARGV[5]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[5])
end
return 1
`)

// KEYS[1]=key ARGV[1]=delta. Returns -1 missing, -2 not numeric, 1 ok.
var incrScript = goredis.NewScript(`
local n = redis.call('HGET', KEYS[1], 'n')
if not n then
	return -1
end
if n ~= '1' then
	return -2
end
redis.call('HINCRBYFLOAT', KEYS[1], 'v', ARGV[1])
return 1
`)

type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
	closed      atomic.Bool
}

var _ backend.Backend = (*Redis)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this backend exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

func (r *Redis) check(k keycodec.DerivedKey) error {
	if r.closed.Load() {
		return backend.ErrUnavailable
	}
	return backend.RequireKey(k)
}

func encodeValue(v backend.Value) string {
	if v.IsNumeric() {
		return strconv.FormatFloat(v.Number(), 'f', -1, 64)
	}
	return string(v.Payload())
}

func (r *Redis) Put(ctx context.Context, k keycodec.DerivedKey, e backend.Entry, overwrite bool) error {
	if err := r.check(k); err != nil {
		return err
	}
	var ttlMs int64
	if e.Expires() {
		ttl := e.TTL(time.Now())
		if ttl <= 0 {
			return r.putExpired(ctx, k, overwrite)
		}
		// PEXPIRE granularity; never round a live entry down to "no expiry"
		ttlMs = int64((ttl + time.Millisecond - 1) / time.Millisecond)
	}
	ow, num := "0", "0"
	if overwrite {
		ow = "1"
	}
	if e.Value.IsNumeric() {
		num = "1"
	}
	res, err := putScript.Run(ctx, r.rdb, []string{k.Composite},
		ow, encodeValue(e.Value), num, e.CreatedAt.UnixMilli(), ttlMs).Int()
	if err != nil {
		return backend.Fault("redis put", err)
	}
	if res == 0 {
		return backend.ErrKeyExists
	}
	return nil
}

// putExpired stores an entry that is already past expiry: a live occupant
// still wins when overwrite is false, otherwise the key ends up absent.
func (r *Redis) putExpired(ctx context.Context, k keycodec.DerivedKey, overwrite bool) error {
	if !overwrite {
		ok, err := r.Exists(ctx, k)
		if err != nil {
			return err
		}
		if ok {
			return backend.ErrKeyExists
		}
		return nil
	}
	return r.Delete(ctx, k)
}

func (r *Redis) Get(ctx context.Context, k keycodec.DerivedKey) (backend.Entry, error) {
	if err := r.check(k); err != nil {
		return backend.Entry{}, err
	}
	var (
		fields *goredis.SliceCmd
		pttl   *goredis.DurationCmd
	)
	_, err := r.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		fields = p.HMGet(ctx, k.Composite, fieldValue, fieldNumeric, fieldCreated)
		pttl = p.PTTL(ctx, k.Composite)
		return nil
	})
	if err != nil {
		return backend.Entry{}, backend.Fault("redis get", err)
	}
	vals := fields.Val()
	if len(vals) != 3 || vals[0] == nil {
		return backend.Entry{}, backend.ErrNotFound
	}

	now := time.Now()
	e := backend.Entry{CreatedAt: now}
	if c, ok := vals[2].(string); ok {
		if ms, err := strconv.ParseInt(c, 10, 64); err == nil {
			e.CreatedAt = time.UnixMilli(ms)
		}
	}
	if d := pttl.Val(); d > 0 {
		e.ExpiresAt = now.Add(d)
	}

	raw, _ := vals[0].(string)
	if n, _ := vals[1].(string); n == "1" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return backend.Entry{}, backend.Fault("redis get", err)
		}
		e.Value = backend.Numeric(f, nil)
	} else {
		e.Value = backend.Opaque([]byte(raw))
	}
	return e, nil
}

func (r *Redis) Exists(ctx context.Context, k keycodec.DerivedKey) (bool, error) {
	if err := r.check(k); err != nil {
		return false, err
	}
	n, err := r.rdb.Exists(ctx, k.Composite).Result()
	if err != nil {
		return false, backend.Fault("redis exists", err)
	}
	return n > 0, nil
}

func (r *Redis) Delete(ctx context.Context, k keycodec.DerivedKey) error {
	if err := r.check(k); err != nil {
		return err
	}
	if err := r.rdb.Del(ctx, k.Composite).Err(); err != nil {
		return backend.Fault("redis del", err)
	}
	return nil
}

// Increment fails with ErrNotFound on absent keys, unlike the in-process backends.
func (r *Redis) Increment(ctx context.Context, k keycodec.DerivedKey, delta float64) error {
	if err := r.check(k); err != nil {
		return err
	}
	res, err := incrScript.Run(ctx, r.rdb, []string{k.Composite},
		strconv.FormatFloat(delta, 'f', -1, 64)).Int()
	if err != nil {
		return backend.Fault("redis incr", err)
	}
	switch res {
	case -1:
		return backend.ErrNotFound
	case -2:
		return backend.ErrNotNumeric
	}
	return nil
}

// Clear scans for the scope's key pattern and deletes matches in batches.
func (r *Redis) Clear(ctx context.Context, s backend.Scope) error {
	if r.closed.Load() {
		return backend.ErrUnavailable
	}
	pattern := keycodec.Prefix + keycodec.Separator + "*"
	if !s.All {
		pattern = keycodec.NamespacePattern(s.NamespaceHash)
	}
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return backend.Fault("redis scan", err)
		}
		if len(keys) > 0 {
			if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
				return backend.Fault("redis del", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close releases the underlying redis client only when this backend owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (r *Redis) Close(context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if r.closeClient {
		if err := r.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
