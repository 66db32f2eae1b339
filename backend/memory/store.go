// Package memory implements the Local and Shared in-process backends.
//
// Both are a Store: namespace hash -> key hash -> Entry behind one mutex.
// Neither has native expiry; a reaper sweeps expired entries every second.
//
//	local := memory.NewLocal()               // owned by one facade, dropped on Close
//	shared := memory.NewSharedStore()        // create
//	b := shared.Attach()                     // attach (any number of facades)
//	shared.Teardown()                        // teardown, affects every attachment
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/polycache/backend"
	"github.com/unkn0wn-root/polycache/keycodec"
)

// Store is the in-process map shared by Local and Shared backends.
type Store struct {
	mu     sync.Mutex
	data   map[string]map[string]backend.Entry
	now    func() time.Time
	closed bool
}

func NewStore() *Store {
	return &Store{data: make(map[string]map[string]backend.Entry), now: time.Now}
}

func (s *Store) put(k keycodec.DerivedKey, e backend.Entry, overwrite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.ErrUnavailable
	}
	ns := s.data[k.NamespaceHash]
	if ns == nil {
		ns = make(map[string]backend.Entry)
		s.data[k.NamespaceHash] = ns
	}
	if !overwrite {
		if cur, ok := ns[k.KeyHash]; ok && cur.Live(s.now()) {
			return backend.ErrKeyExists
		}
	}
	ns[k.KeyHash] = e
	return nil
}

// lookup returns the live entry at k, dropping it if expired. Caller holds mu.
func (s *Store) lookup(k keycodec.DerivedKey) (backend.Entry, bool) {
	ns := s.data[k.NamespaceHash]
	e, ok := ns[k.KeyHash]
	if !ok {
		return backend.Entry{}, false
	}
	if !e.Live(s.now()) {
		delete(ns, k.KeyHash)
		return backend.Entry{}, false
	}
	return e, true
}

func (s *Store) get(k keycodec.DerivedKey) (backend.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.Entry{}, backend.ErrUnavailable
	}
	e, ok := s.lookup(k)
	if !ok {
		return backend.Entry{}, backend.ErrNotFound
	}
	return e, nil
}

func (s *Store) exists(k keycodec.DerivedKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, backend.ErrUnavailable
	}
	_, ok := s.lookup(k)
	return ok, nil
}

func (s *Store) del(k keycodec.DerivedKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.ErrUnavailable
	}
	if ns := s.data[k.NamespaceHash]; ns != nil {
		delete(ns, k.KeyHash)
		if len(ns) == 0 {
			delete(s.data, k.NamespaceHash)
		}
	}
	return nil
}

// incr is a no-op for absent keys.
func (s *Store) incr(k keycodec.DerivedKey, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.ErrUnavailable
	}
	e, ok := s.lookup(k)
	if !ok {
		return nil
	}
	if !e.Value.IsNumeric() {
		return backend.ErrNotNumeric
	}
	e.Value = e.Value.Add(delta)
	s.data[k.NamespaceHash][k.KeyHash] = e
	return nil
}

func (s *Store) clear(sc backend.Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.ErrUnavailable
	}
	if sc.All {
		s.data = make(map[string]map[string]backend.Entry)
		return nil
	}
	delete(s.data, sc.NamespaceHash)
	return nil
}

// Sweep removes every entry whose expiry is at or before now, across all namespaces.
func (s *Store) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, nil
	}
	now := s.now()
	removed := 0
	for nsHash, ns := range s.data {
		for kh, e := range ns {
			if e.Expires() && !e.ExpiresAt.After(now) {
				delete(ns, kh)
				removed++
			}
		}
		if len(ns) == 0 {
			delete(s.data, nsHash)
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ns := range s.data {
		n += len(ns)
	}
	return n
}

func (s *Store) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.data = make(map[string]map[string]backend.Entry)
	s.mu.Unlock()
}
