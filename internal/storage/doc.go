// Package storage persists the relative-transform samples accepted by the
// collaborative scheduler, so that a restarted coordinator can rebuild its
// pose clusters instead of relocalising every pair from scratch.
//
// # Overview
//
// Samples are append-only. The scene registry writes one Sample per
// accepted relocalisation and reads them all back once at startup:
//
//	┌─────────────────────────────────────┐
//	│      Scene Registry (clusters)      │
//	└─────────────────────────────────────┘
//	          │ Append        ▲ Load
//	          ▼               │
//	┌─────────────────────────────────────┐
//	│         SampleStore interface       │
//	└─────────────────────────────────────┘
//	          │
//	    ┌─────┴──────┐
//	    ▼            ▼
//	┌────────┐  ┌────────┐
//	│ Memory │  │ Redis  │
//	│ Store  │  │ Store  │
//	└────────┘  └────────┘
//
// # Implementations
//
// MemoryStore: In-memory storage with sync.RWMutex
//   - No persistence (samples lost on restart)
//   - Default when no Redis address is configured
//   - Suitable for tests and single-session runs
//
// RedisStore: Redis list of CBOR-encoded samples
//   - Survives coordinator restarts
//   - Keys namespaced by a configurable prefix
//   - Pair set kept alongside for cheap statistics
//
// # Sample identity
//
// Every sample carries a random UUID and a UTC timestamp so entries from
// separate coordinator runs stay distinguishable in a shared store.
package storage
