// Package util provides the small concurrency and bookkeeping structures shared by the
// cache libraries.
//
// The package contains:
//   - queue: a lock-free multi-producer queue with a channel-based consumer side, used as
//     the FIFO of the async task processors
//   - duequeue: a heap+map priority queue of scheduled ids ordered by due time, used by the
//     retransmission scheduler
//   - functions: seeded string hashing and shard selection
//   - statistics: distribution metrics for shard balance reporting
package util
