// Package internal provides the communication protocol structures and serialization
// logic for the dstore package. It defines the wire format used to transmit operations
// between the store client and the distributed state machine.
//
// This package is intended for internal use by the dstore implementation and should
// not be imported directly by external code.
//
// The package consists of two main components:
//
//   - Command System: Defines write operations (Insert, Add, Remove, Clear, Register,
//     Unregister, Disconnect) that modify the cache. Commands are serialized and proposed
//     to the RAFT cluster, applied on every replica, and produce an UpdateResult that is
//     returned to the client as JSON.
//
//   - Query System: Defines read operations (Get, Has, Search, Results, Poll, GetInfo).
//     Queries are executed locally on the state machine and therefore do not require
//     serialization.
//
// Command Format:
//
//	- 1 byte: Command type
//	- 4 bytes: Key length (uint32, big endian)
//	- N bytes: Key data (entry key, client query id or client id)
//	- 4 bytes: Meta length (uint32, big endian)
//	- N bytes: Meta data (JSON metadata or JSON registration request)
//	- M bytes: Value data (optional, only present for Insert and Add)
//
// Thread Safety:
//
//	The types in this package are not thread-safe and should not be shared
//	across goroutines without external synchronization.
package internal
