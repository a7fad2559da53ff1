// Package dstore implements a distributed, fault-tolerant query cache using the Dragonboat
// RAFT consensus library. It provides a strongly consistent implementation of the
// store.IStore interface that can operate across multiple nodes.
//
// Architecture:
//
//   - Store Client: Implements store.IStore. It serializes mutations and query
//     registrations into commands, proposes them to the consensus layer and decodes the
//     results.
//
//   - State Machine: A Dragonboat IConcurrentStateMachine holding a full cache.Cache on
//     every replica. Committed commands are applied in log order, so all replicas hold the
//     same entries, indexes and continuous query registrations.
//
//   - Communication Protocol: Defined in the internal package.
//
// Write Operations:
//
//	Insert, Add, Remove, Clear, RegisterQuery, UnRegisterQuery and DisconnectClient are
//	proposed via SyncPropose and applied on every replica. Client query ids are generated
//	before proposing so that every replica registers the same id.
//
// Read Operations:
//
//	Reads use SyncRead (linearizable) except GetInfo, which uses StaleRead. Every replica
//	evaluates the continuous queries itself and buffers notifications for its clients, so
//	Poll drains the inbox of the replica serving the read.
//
// Snapshotting and Recovery:
//
//	PrepareSnapshot captures cache.SaveState while no update runs, SaveSnapshot writes the
//	captured bytes. RecoverFromSnapshot replaces the cache with cache.LoadState, which
//	re-indexes all entries and rebuilds the predicates of the registered queries.
//
// Usage:
//
//	nh, err := dragonboat.NewNodeHost(nodeHostConfig)
//	if err != nil { ... }
//
//	err = nh.StartConcurrentReplica(
//	    clusterMembers,
//	    false,
//	    dstore.CreateStateMachineFactory(store.ConfigFactory(cacheConfig)),
//	    shardConfig)
//	if err != nil { ... }
//
//	s := dstore.NewDistributedStore(nh, shardID, 5*time.Second)
//
// For scenarios where distributed consensus is not required, use the lstore package.
package dstore
