// Package store provides SQLite-backed storage for the ordering engine.
//
// The store holds three tiers of data behind one transactional boundary:
//
//   - Session Events: append-only log of every state-changing action
//     (the durable source of truth, replayable)
//   - Sessions + Cart Lines: ephemeral working state, always
//     reconstructible from the event log
//   - Checkouts, Orders + Order Lines: permanent records created by
//     cart promotion, never swept
//
// # Critical Patterns
//
// CP-1: Write-Ahead-Then-Apply
//   - Every mutator runs as one transaction that inserts the event row
//     BEFORE applying the ephemeral change
//   - A committed cart row therefore always has its causing event
//
// CP-2: Logical Per-Session Ordering
//   - Events carry seq INTEGER assigned inside the append transaction
//     (MAX(seq)+1 per session), UNIQUE(session_id, seq)
//   - All reads use ORDER BY seq ASC, id ASC for deterministic replay
//
// CP-3: Promotion Idempotency
//   - orders.checkout_id is UNIQUE; PromoteCart checks for an existing
//     order before creating one, so a retried promotion with the same
//     checkout id can never double-create an order
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// SQLite's single-writer connection linearizes concurrent mutations for
// the same session without any in-process locking.
package store
