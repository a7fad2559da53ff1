// Package cq implements continuous queries: predicates registered by clients that are
// re-evaluated incrementally whenever a cache entry of their type changes.
//
// The Analyzer keeps two tables per type: the registered predicates and, per cache key, the
// predicates whose result set currently contains that key. A mutation populates a pooled
// single-entry EvaluationIndex with the entry's new values, re-evaluates the type's
// predicates against it and derives three batches:
//
//   - exclusion: the key left a result set (delivered as a Remove notification)
//   - retention: the key stayed in a result set but its value changed (Update)
//   - inclusion: the key entered a result set (Add)
//
// Batches are always delivered in that order. Evaluation runs on a single-worker processor,
// delivery on a two-worker processor, or both inline in synchronous mode.
//
// The Manager tracks which clients hold which query, deduplicates equal queries, merges
// the data filters clients request per notification class and reference counts
// unregistration. Its State can be serialized for snapshots and replica transfer.
package cq
