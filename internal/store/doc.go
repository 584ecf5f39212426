// Package store provides the SQLite-backed versioned projection of
// water-grant ledger state.
//
// Every entity version and every sensor child row carries a validity
// interval [start_block, end_block). The current version of an entity has
// end_block = model.OpenBlock. Reads filter "as of" a height h with
//
//	start_block <= h AND end_block > h
//
// and the current view uses h = MAX(block_num) from blocks.
//
// # Invariants
//
//   - At most one open row per entity key (enforced by partial unique
//     indexes from schema version 1).
//   - start_block strictly increases across a key's versions.
//   - A blocks row exists for every start_block in use.
//   - ApplyBlock is all-or-nothing: fork rollback, the blocks row and every
//     upsert share one transaction.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during the writer's transaction
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - one open connection: SQLite has a single writer
package store
