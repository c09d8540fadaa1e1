// Package reconcile links imported transaction records to canonical reference
// entities.
//
// Each record carries a fixed set of mapping slots (line item, client,
// secondary client, vehicle). The package provides:
//
//   - QueryService: paged queries with independent per-slot status filters.
//   - Resolver: reads slot state and commits a candidate with validation,
//     idempotence and read-your-writes.
//   - Workflow: the operator-facing state machine (Viewing, Picking,
//     Confirming) for resolving one slot.
//   - Aggregator: scope-level completion summaries and batch triggers.
//
// Storage is abstracted behind TransactionStore, CandidateLookup and
// SlotCounter so the same engine runs against the graph repository, the
// in-memory store, or the remote HTTP client.
package reconcile
