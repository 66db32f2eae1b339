package polycache

import (
	"fmt"
	"strconv"
	"strings"
)

// Strategy names a backend variant. The numeric codes are stable and may be
// used in configuration instead of names.
type Strategy int

const (
	Local Strategy = iota
	Shared
	KVStore
	CacheServer
	Relational
	File
	Bounded
)

var strategyNames = [...]string{
	Local:       "local",
	Shared:      "shared",
	KVStore:     "redis",
	CacheServer: "memcache",
	Relational:  "sqlite",
	File:        "file",
	Bounded:     "ristretto",
}

var strategyAliases = map[string]Strategy{
	"memory":      Local,
	"kvstore":     KVStore,
	"cacheserver": CacheServer,
	"memcached":   CacheServer,
	"relational":  Relational,
	"sql":         Relational,
	"filestore":   File,
	"bounded":     Bounded,
}

func (s Strategy) Valid() bool { return s >= Local && s <= Bounded }

func (s Strategy) String() string {
	if !s.Valid() {
		return "Strategy(" + strconv.Itoa(int(s)) + ")"
	}
	return strategyNames[s]
}

// ParseStrategy accepts a name ("redis", "sqlite", ...), an alias
// ("kvstore", "relational", ...) or a numeric code ("2").
func ParseStrategy(v string) (Strategy, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if n, err := strconv.Atoi(v); err == nil {
		if s := Strategy(n); s.Valid() {
			return s, nil
		}
		return 0, fmt.Errorf("%w: unknown strategy code %d", ErrInvalidArgument, n)
	}
	for i, name := range strategyNames {
		if name == v {
			return Strategy(i), nil
		}
	}
	if s, ok := strategyAliases[v]; ok {
		return s, nil
	}
	return 0, fmt.Errorf("%w: unknown strategy %q", ErrInvalidArgument, v)
}

func (s Strategy) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: invalid strategy %d", ErrInvalidArgument, int(s))
	}
	return []byte(s.String()), nil
}

func (s *Strategy) UnmarshalText(b []byte) error {
	v, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
