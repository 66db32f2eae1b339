// Package backend defines the storage contract used by polycache.
//
// Every adapter is a flat, independent implementation of Backend addressed by
// keycodec.DerivedKey. Adapters must be safe for concurrent use.
//
// Expired entries are absent for every primitive: Put treats them as free
// slots, Get/Exists never return them. Adapters remove them opportunistically.
package backend

import (
	"context"
	"time"

	"github.com/unkn0wn-root/polycache/keycodec"
	"github.com/unkn0wn-root/polycache/reaper"
)

// Backend executes single-key primitives against one storage substrate.
type Backend interface {
	// Put stores e at k. With overwrite=false it fails with ErrKeyExists when
	// a live entry is already stored.
	Put(ctx context.Context, k keycodec.DerivedKey, e Entry, overwrite bool) error

	// Get returns the live entry at k or ErrNotFound.
	Get(ctx context.Context, k keycodec.DerivedKey) (Entry, error)

	// Exists reports whether a live entry is stored at k.
	Exists(ctx context.Context, k keycodec.DerivedKey) (bool, error)

	// Delete removes k. Missing keys are not an error.
	Delete(ctx context.Context, k keycodec.DerivedKey) error

	// Increment adds delta to a numeric entry.
	Increment(ctx context.Context, k keycodec.DerivedKey, delta float64) error

	// Clear removes every entry in scope.
	Clear(ctx context.Context, s Scope) error

	// Close releases resources owned by the adapter.
	Close(ctx context.Context) error
}

// Sweeper is implemented by adapters that can drop expired entries on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (removed int, err error)
}

// Reaped is implemented by adapters driven by a background reaper.
type Reaped interface {
	Reaper() *reaper.Reaper
}

// Scope selects entries for Clear: one namespace, or everything.
type Scope struct {
	NamespaceHash string
	All           bool
}

// NamespaceScope returns the scope of a single namespace.
func NamespaceScope(k keycodec.DerivedKey) Scope {
	return Scope{NamespaceHash: k.NamespaceHash}
}

// AllScope returns the scope covering every namespace.
func AllScope() Scope { return Scope{All: true} }

// Entry is one cached value plus its metadata.
type Entry struct {
	Value     Value
	CreatedAt time.Time
	ExpiresAt time.Time // zero => never expires
}

// NewEntry builds an entry created at now. ttl <= 0 means no expiry.
func NewEntry(v Value, now time.Time, ttl time.Duration) Entry {
	e := Entry{Value: v, CreatedAt: now}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}
	return e
}

// Live reports whether e has not expired at now.
func (e Entry) Live(now time.Time) bool {
	return e.ExpiresAt.IsZero() || e.ExpiresAt.After(now)
}

// Expires reports whether e carries an expiry.
func (e Entry) Expires() bool { return !e.ExpiresAt.IsZero() }

// TTL returns the time left until expiry at now; 0 for entries that never expire.
// Entries already past expiry report a negative duration.
func (e Entry) TTL(now time.Time) time.Duration {
	if e.ExpiresAt.IsZero() {
		return 0
	}
	return e.ExpiresAt.Sub(now)
}

// Value is the payload of an entry: either a number or opaque encoded bytes.
//
// Numeric values also carry the codec payload of the original number so that
// stores without a numeric representation (files) can persist them as-is.
// After an increment Payload is stale and dropped.
type Value struct {
	numeric bool
	number  float64
	payload []byte
}

// Numeric returns a numeric value. payload may be nil.
func Numeric(f float64, payload []byte) Value {
	return Value{numeric: true, number: f, payload: payload}
}

// Opaque returns a non-numeric value holding encoded bytes.
func Opaque(payload []byte) Value {
	return Value{payload: payload}
}

func (v Value) IsNumeric() bool  { return v.numeric }
func (v Value) Number() float64  { return v.number }
func (v Value) Payload() []byte  { return v.payload }
func (v Value) HasPayload() bool { return v.payload != nil }

// Add returns v incremented by delta. The stale payload is dropped.
func (v Value) Add(delta float64) Value {
	return Value{numeric: true, number: v.number + delta}
}
