// Package store provides a high-level interface for query cache operations with unified
// error handling. It serves as an abstraction layer over cache.Cache so the same
// operations can be served by a single process or by a RAFT replicated shard.
//
// Key Components:
//
//   - IStore Interface: The core abstraction defining entry mutations, reads, searches and
//     the continuous query operations (register, unregister, results, poll). All
//     implementations share this interface, so the RPC server and the CLI do not care
//     whether a shard is replicated.
//
//   - Error System: Errors of the cache packages are mapped by FromError to a *Error with a
//     typed RetCode (schema error, conversion error, not found, ...). The codes survive the
//     RPC round trip so clients can react to specific conditions.
//
//   - CacheFactory: Creates the underlying cache.Cache instances. ConfigFactory builds one
//     from a cache.Config.
//
// Implementations:
//
//	- Local Store (lstore): Serves all calls directly from one cache.Cache.
//	  Available in the "github.com/ValentinKolb/dCache/lib/store/lstore" package.
//
//	- Distributed Store (dstore): Replicates all mutations and query registrations through
//	  the Dragonboat RAFT library. Every replica holds a full cache and evaluates the
//	  continuous queries itself, notifications are buffered on every replica.
//	  Available in the "github.com/ValentinKolb/dCache/lib/store/dstore" package.
package store
