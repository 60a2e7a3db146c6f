// Package store provides SQLite-backed durable storage for identifier
// lineages, gate transitions and ring message consumption.
//
// The store is append-only:
//   - Identifiers: every identifier a lineage has carried, with the drift
//     class that caused it
//   - Gate transitions: every Off/On/Recovery change per signal
//   - Consumed messages: (node, message id) pairs, UNIQUE, so a ring node
//     backed by Store.Ledger consumes each message exactly once even
//     across restarts
//
// # Ordering
//
// All reads order by the seq column assigned on insert, never by
// timestamps, so results are identical across replays.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
package store
