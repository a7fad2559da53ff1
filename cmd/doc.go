// Package cmd implements the dcache command-line interface.
//
// Sub packages:
//
//   - serve: starts a server hosting local or raft replicated cache shards
//   - cache: entry operations (set, add, get, del, has, search, clear, info) and a perf tool
//   - cq: continuous queries (register, unregister, disconnect, results, poll)
//   - util: flag and client helpers shared by the commands
//
// All flags can also be set through environment variables with the DCACHE_ prefix,
// dashes replaced by underscores. .env and .env.local files are loaded on startup.
package cmd
