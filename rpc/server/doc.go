// Package server implements the RPC server of dCache. A server hosts any number of
// cache shards behind one transport endpoint and routes every request to the shard
// named in it.
//
// Key Components:
//
//   - IRPCServerAdapter: translates a request message into calls on a store.IStore
//     and builds the response message.
//
//   - NewIStoreServerAdapter: the adapter for all cache and continuous query operations.
//
//   - NewRPCServer: creates a server from a configuration, a transport and a serializer.
//
// Shard types:
//
//   - ShardTypeLocal: a cache living in the server process only.
//
//   - ShardTypeReplicated: a cache replicated with raft. Every replica holds the full
//     cache and evaluates the continuous queries itself. The raft settings of the
//     configuration (RTTMillisecond, SnapshotEntries, CompactionOverhead, DataDir,
//     ReplicaID and ClusterMembers) must be set.
//
// Peer group:
//
//	When Peers.Endpoint is set the server joins a group of servers connected by the tcp
//	peer transport. Every client notification of a local shard is multicast reliably to
//	the group and put into the inbox of the same client on every peer, so a client may
//	poll whichever server it reaches. Peers that cannot be dialed are suspected until
//	they are reachable again.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Shards:        []common.ServerShard{{ShardID: 1, Type: common.ShardTypeLocal}},
//	  Endpoint:      "0.0.0.0:8080",
//	  TimeoutSecond: 5,
//	  LogLevel:      "info",
//	  Cache:         common.CacheConfig{TypeSchema: "Employee(Name:string,Salary:int)"},
//	}
//
//	s := server.NewRPCServer(config, http.NewHttpServerTransport(), serializer.NewBinarySerializer())
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Thread Safety:
//
//	Requests are handled concurrently. Serve must be called only once.
package server
