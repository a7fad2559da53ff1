// Package rpc provides the remote procedure call layer of the query cache. It acts as the
// communication layer between clients and servers.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, configuration structures, and logging.
//
//   - transport: Network communication abstractions with an HTTP implementation.
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - client: RPC client implementing store.IStore over a transport.
//
//   - server: RPC server that maps incoming messages to the store of a shard.
package rpc
