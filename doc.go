// Package polycache implements a storage-agnostic cache facade. One Cache API
// stores, reads, increments and invalidates entries on any backend.Backend,
// and the backend can be swapped at runtime without touching call sites.
//
// Backends:
//   - memory: Local (owned map) and Shared (process-wide SharedStore), both
//     swept by a background reaper.
//   - redis: KVStore on go-redis with native expiry.
//   - memcache: CacheServer on gomemcache.
//   - sqlite: RelationalStore on database/sql; expired rows go on Sweep.
//   - file: one file per key, no expiry.
//   - ristretto: Bounded in-process cache with admission and cost budget.
//
// Keys:
//
//	polycache:<sha256(namespace)>:<sha256(key)>
//
// Numbers (any Go int/uint/float kind or json.Number) are stored as numeric
// entries and may be incremented; they always read back as float64. Other
// values go through the configured codec.Codec (JSON by default).
//
// Multi-key operations validate the whole batch first, then fan out one call
// per key. Results keep input order and the error returned belongs to the
// first failing key in that order.
package polycache
