// Package keycodec derives backend-safe identifiers from a namespace and a logical key.
//
// Layout:
//
//	<Prefix>:<sha256(namespace)>:<sha256(key)>
//
// An empty namespace hashes to the NoNamespace sentinel.
package keycodec

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
)

const (
	Prefix      = "polycache"
	Separator   = ":"
	NoNamespace = "_"
)

var ErrEmptyKey = errors.New("keycodec: empty key")

// DerivedKey is the backend-addressable form of a logical key.
// KeyHash and Composite are empty for namespace-wide keys.
type DerivedKey struct {
	NamespaceHash string
	KeyHash       string
	Composite     string
}

// HasKey reports whether d addresses a single entry rather than a whole namespace.
func (d DerivedKey) HasKey() bool { return d.KeyHash != "" }

// Hash returns the hex sha256 digest of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// NamespaceHash hashes ns, mapping "" to NoNamespace.
func NamespaceHash(ns string) string {
	if ns == "" {
		return NoNamespace
	}
	return Hash(ns)
}

// Compose joins a namespace hash and a key hash into a flat key.
func Compose(nsHash, keyHash string) string {
	return Prefix + Separator + nsHash + Separator + keyHash
}

// NamespacePattern is the glob matching every composite key in nsHash.
func NamespacePattern(nsHash string) string {
	return Prefix + Separator + nsHash + Separator + "*"
}

// Codec memoizes the namespace digest. The zero value is ready to use and safe
// for concurrent use.
type Codec struct {
	mu     sync.Mutex
	ns     string
	nsHash string
	warm   bool
}

func (c *Codec) namespaceHash(ns string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.warm || c.ns != ns {
		c.ns = ns
		c.nsHash = NamespaceHash(ns)
		c.warm = true
	}
	return c.nsHash
}

// Derive returns the derived key for key under namespace.
func (c *Codec) Derive(namespace, key string) (DerivedKey, error) {
	if key == "" {
		return DerivedKey{}, ErrEmptyKey
	}
	nh := c.namespaceHash(namespace)
	kh := Hash(key)
	return DerivedKey{
		NamespaceHash: nh,
		KeyHash:       kh,
		Composite:     Compose(nh, kh),
	}, nil
}

// DeriveNamespace returns a namespace-wide key (no KeyHash, no Composite).
func (c *Codec) DeriveNamespace(namespace string) DerivedKey {
	return DerivedKey{NamespaceHash: c.namespaceHash(namespace)}
}
