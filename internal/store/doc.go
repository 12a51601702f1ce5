// Package store provides SQLite-backed storage for coresync.
//
// One database holds three repositories:
//   - Control: system and object states, and the core/system id maps
//   - Staging: raw payloads between Read and Promote
//   - Core: canonical entities with their provenance and checksum
//
// # Invariants
//
// Maps are unique per (system, core type, core id) and per
// (system, core type, system id). Map batches are validated before any
// write and applied in one transaction: a batch persists completely or
// not at all.
//
// A staged entity is stamped exactly once, promoted or ignored. The
// UPDATE only matches rows that are still unstamped.
//
// Live staged entities (not ignored) are unique per
// (system, type, checksum), so re-reading an unchanged payload stages
// nothing.
//
// # Transactions
//
// InTx carries its transaction in the context. Every method resolves its
// connection from the context, so engine code can group calls across
// repositories without knowing about SQL.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Timestamps are INTEGER unix nanoseconds in UTC.
package store
