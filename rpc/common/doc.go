// Package common provides core data structures and utilities shared across the RPC layer
// of the query cache. It defines the message protocol, configuration structures and the
// logger integration with Dragonboat.
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication. Simple operations use the
//     flat fields (Key, Value, Ok), structured payloads (metadata, query specs,
//     registrations, notifications, info) are carried as JSON in Meta. Errors keep their
//     store.RetCode in Code.
//
//   - MessageType: Enumeration of all supported operations, split into entry operations,
//     continuous query operations and control messages.
//
//   - ServerConfig: Configuration for server nodes, including RAFT parameters, network
//     settings and the CacheConfig shared by all shards.
//
//   - ClientConfig: Configuration for clients, controlling endpoints, timeouts and retries.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's logging
//     system while providing consistent formatting across the application.
package common
