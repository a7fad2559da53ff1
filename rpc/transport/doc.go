// Package transport defines the interfaces between the RPC layer and the medium that
// carries serialized messages. Requests are routed by shard id, a server may host
// any number of cache shards behind one endpoint.
//
// Key Components:
//
//   - IRPCClientTransport: sends a serialized request to one of the configured
//     endpoints and returns the serialized response.
//
//   - IRPCServerTransport: receives requests and hands them to a ServerHandleFunc.
//
// The http sub package contains the implementation used by the dcache binary. The tcp sub
// package is not an RPC transport, it connects the servers of a peer group.
package transport
