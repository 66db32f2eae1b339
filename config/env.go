package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/unkn0wn-root/polycache"
)

// EnvPrefix prefixes every recognised environment variable.
const EnvPrefix = "POLYCACHE_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads .env files into the process environment without
// overriding variables already set. Missing files are skipped; with no
// arguments ".env" is tried.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// ReadDotEnv parses .env files into a lookup without touching the process
// environment.
func ReadDotEnv(files ...string) (LookupFunc, error) {
	m, err := godotenv.Read(files...)
	if err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// FromEnv overlays POLYCACHE_* variables on base.
func FromEnv(base Config, lookup LookupFunc) (Config, error) {
	c := base
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok
	}
	var err error
	bad := func(name string, e error) error {
		return fmt.Errorf("%w: %s%s: %v", ErrInvalid, EnvPrefix, name, e)
	}

	if v, ok := get("NAMESPACE"); ok {
		c.Namespace = v
	}
	if v, ok := get("DEFAULT_TTL"); ok {
		if c.DefaultTTL, err = ParseDuration(v); err != nil {
			return base, err
		}
	}
	if v, ok := get("STRATEGY"); ok && v != "" {
		if c.Strategy, err = polycache.ParseStrategy(v); err != nil {
			return base, bad("STRATEGY", err)
		}
	}
	if v, ok := get("VERBOSE"); ok && v != "" {
		if c.Verbose, err = strconv.ParseBool(v); err != nil {
			return base, bad("VERBOSE", err)
		}
	}
	if v, ok := get("FAN_OUT_LIMIT"); ok && v != "" {
		if c.FanOutLimit, err = strconv.Atoi(v); err != nil {
			return base, bad("FAN_OUT_LIMIT", err)
		}
	}
	if v, ok := get("CODEC"); ok && v != "" {
		c.Codec = v
	}
	if v, ok := get("REAP_INTERVAL"); ok {
		if c.ReapInterval, err = ParseDuration(v); err != nil {
			return base, err
		}
	}

	if v, ok := get("REDIS_ADDR"); ok && v != "" {
		c.Redis.Addrs = splitList(v)
	}
	if v, ok := get("REDIS_USERNAME"); ok {
		c.Redis.Username = v
	}
	if v, ok := get("REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	if v, ok := get("REDIS_DB"); ok && v != "" {
		if c.Redis.DB, err = strconv.Atoi(v); err != nil {
			return base, bad("REDIS_DB", err)
		}
	}
	if v, ok := get("MEMCACHE_SERVERS"); ok && v != "" {
		c.Memcache.Servers = splitList(v)
	}
	if v, ok := get("SQLITE_PATH"); ok {
		c.SQLite.Path = v
	}
	if v, ok := get("FILE_ROOT"); ok && v != "" {
		c.File.Root = v
	}
	return c, nil
}
