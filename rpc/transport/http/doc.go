// Package http implements the RPC transport over HTTP.
//
// The server accepts serialized messages at POST /{shardId} and answers with the
// serialized response in the body. GET /metrics exposes the process metrics in the
// Prometheus text format and GET /health reports liveness.
//
// The client distributes requests round-robin over all configured endpoints and
// retries failed requests on the next endpoint. It is safe for concurrent use.
package http
