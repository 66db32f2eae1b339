// Package config loads polycache settings from YAML, .env files and
// POLYCACHE_* environment variables, and opens a Cache from them.
//
// Precedence, lowest first: Default, YAML file, environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/polycache"
	"github.com/unkn0wn-root/polycache/codec"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Namespace    string
	DefaultTTL   time.Duration // 0 => no default expiry
	Strategy     polycache.Strategy
	Verbose      bool
	FanOutLimit  int
	Codec        string        // json | msgpack | cbor
	ReapInterval time.Duration // Local reaper tick; 0 => reaper.DefaultInterval

	Redis     Redis
	Memcache  Memcache
	SQLite    SQLite
	File      File
	Ristretto Ristretto
}

type Redis struct {
	Addrs    []string
	Username string
	Password string
	DB       int
}

type Memcache struct {
	Servers []string
}

type SQLite struct {
	Path string // "" or ":memory:" => private in-memory database
}

type File struct {
	Root string
}

type Ristretto struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

// Default is a Local cache with JSON values and no default expiry.
func Default() Config {
	return Config{
		Strategy: polycache.Local,
		Codec:    "json",
		Redis:    Redis{Addrs: []string{"127.0.0.1:6379"}},
		Memcache: Memcache{Servers: []string{"127.0.0.1:11211"}},
		File:     File{Root: "polycache-data"},
	}
}

// ParseDuration accepts str2duration strings ("90s", "1h30m", "2d", "1w")
// and bare integers, read as seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: duration %q: %v", ErrInvalid, s, err)
	}
	return d, nil
}

func (c Config) Validate() error {
	if !c.Strategy.Valid() {
		return fmt.Errorf("%w: strategy %d", ErrInvalid, int(c.Strategy))
	}
	if c.DefaultTTL < 0 {
		return fmt.Errorf("%w: negative default_ttl", ErrInvalid)
	}
	if c.FanOutLimit < 0 {
		return fmt.Errorf("%w: negative fan_out_limit", ErrInvalid)
	}
	if _, err := codec.ByName(c.Codec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch c.Strategy {
	case polycache.KVStore:
		if len(c.Redis.Addrs) == 0 {
			return fmt.Errorf("%w: redis strategy needs redis.addrs", ErrInvalid)
		}
	case polycache.CacheServer:
		if len(c.Memcache.Servers) == 0 {
			return fmt.Errorf("%w: memcache strategy needs memcache.servers", ErrInvalid)
		}
	case polycache.File:
		if c.File.Root == "" {
			return fmt.Errorf("%w: file strategy needs file.root", ErrInvalid)
		}
	}
	return nil
}

// fileConfig is the YAML document. Scalars are kept as nodes so durations and
// strategies can be written either as strings or numbers.
type fileConfig struct {
	Namespace    *string   `yaml:"namespace"`
	DefaultTTL   yaml.Node `yaml:"default_ttl"`
	Strategy     yaml.Node `yaml:"strategy"`
	Verbose      *bool     `yaml:"verbose"`
	FanOutLimit  *int      `yaml:"fan_out_limit"`
	Codec        *string   `yaml:"codec"`
	ReapInterval yaml.Node `yaml:"reap_interval"`

	Redis *struct {
		Addrs    []string `yaml:"addrs"`
		Addr     string   `yaml:"addr"`
		Username string   `yaml:"username"`
		Password string   `yaml:"password"`
		DB       int      `yaml:"db"`
	} `yaml:"redis"`
	Memcache *struct {
		Servers []string `yaml:"servers"`
	} `yaml:"memcache"`
	SQLite *struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`
	File *struct {
		Root string `yaml:"root"`
	} `yaml:"file"`
	Ristretto *struct {
		NumCounters int64 `yaml:"num_counters"`
		MaxCost     int64 `yaml:"max_cost"`
		BufferItems int64 `yaml:"buffer_items"`
	} `yaml:"ristretto"`
}

func scalar(n yaml.Node) (string, bool) {
	if n.Kind != yaml.ScalarNode || n.Tag == "!!null" {
		return "", false
	}
	return n.Value, true
}

// Parse overlays a YAML document on base.
func Parse(base Config, data []byte) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return base, fmt.Errorf("%w: yaml: %v", ErrInvalid, err)
	}
	c := base
	if fc.Namespace != nil {
		c.Namespace = *fc.Namespace
	}
	if v, ok := scalar(fc.DefaultTTL); ok {
		d, err := ParseDuration(v)
		if err != nil {
			return base, err
		}
		c.DefaultTTL = d
	}
	if v, ok := scalar(fc.Strategy); ok {
		s, err := polycache.ParseStrategy(v)
		if err != nil {
			return base, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		c.Strategy = s
	}
	if fc.Verbose != nil {
		c.Verbose = *fc.Verbose
	}
	if fc.FanOutLimit != nil {
		c.FanOutLimit = *fc.FanOutLimit
	}
	if fc.Codec != nil {
		c.Codec = *fc.Codec
	}
	if v, ok := scalar(fc.ReapInterval); ok {
		d, err := ParseDuration(v)
		if err != nil {
			return base, err
		}
		c.ReapInterval = d
	}
	if r := fc.Redis; r != nil {
		switch {
		case len(r.Addrs) > 0:
			c.Redis.Addrs = r.Addrs
		case r.Addr != "":
			c.Redis.Addrs = []string{r.Addr}
		}
		c.Redis.Username, c.Redis.Password, c.Redis.DB = r.Username, r.Password, r.DB
	}
	if m := fc.Memcache; m != nil && len(m.Servers) > 0 {
		c.Memcache.Servers = m.Servers
	}
	if s := fc.SQLite; s != nil {
		c.SQLite.Path = s.Path
	}
	if f := fc.File; f != nil && f.Root != "" {
		c.File.Root = f.Root
	}
	if r := fc.Ristretto; r != nil {
		c.Ristretto = Ristretto{NumCounters: r.NumCounters, MaxCost: r.MaxCost, BufferItems: r.BufferItems}
	}
	return c, nil
}

// Load reads the YAML file at path (skipped when path is empty), loads the
// given .env files into the environment and applies POLYCACHE_* overrides.
func Load(path string, envFiles ...string) (Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("config: read %s: %w", path, err)
		}
		if c, err = Parse(c, data); err != nil {
			return c, err
		}
	}
	if err := LoadDotEnv(envFiles...); err != nil {
		return c, err
	}
	c, err := FromEnv(c, os.LookupEnv)
	if err != nil {
		return c, err
	}
	return c, c.Validate()
}
