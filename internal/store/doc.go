// Package store provides SQLite-backed durable storage for a till.
//
// One database file holds:
//   - Tables, Orders and OrderItems: the live state machine
//   - Settlements: append-only sales records
//   - Shifts: cashier sessions with per-instrument accumulators
//   - CancelledOrders: write-once void snapshots
//   - SyncLog: the outbox drained by the sync engine
//   - Products and Customers: collaborator records read at add/settle time
//
// # Transactions
//
// Multi-row invariants are written through WithTx. Transactions begin
// IMMEDIATE (_txlock=immediate), so a second writer blocks at BEGIN for up
// to busy_timeout instead of failing at COMMIT. Table rows carry a version
// that SetTableState checks, giving move/merge an optimistic guard on top.
//
// # Ordering
//
// The outbox is ordered by its INTEGER seq, never by timestamps.
// Timestamps are informational and stored as fixed-width UTC text.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
