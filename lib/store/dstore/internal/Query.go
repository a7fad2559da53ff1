package internal

import (
	"github.com/ValentinKolb/dCache/lib/cq"
	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/ValentinKolb/dCache/lib/predicate"
)

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTGet     QueryType = iota // Retrieve an entry by key.
	QueryTHas                      // Check if a key is present.
	QueryTSearch                   // Evaluate a predicate against the indexes.
	QueryTResults                  // Retrieve the result set of a continuous query.
	QueryTPoll                     // Drain the buffered notifications of a client on this replica.
	QueryTGetInfo                  // Retrieve statistics about the cache underlying the machine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTGet:
		return "Get"
	case QueryTHas:
		return "Has"
	case QueryTSearch:
		return "Search"
	case QueryTResults:
		return "Results"
	case QueryTPoll:
		return "Poll"
	case QueryTGetInfo:
		return "GetInfo"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or ReadStale.
// Lookups never leave the process, so the query carries structured values.
type Query struct {
	Type     QueryType              // The type of Query to perform.
	Key      string                 // Entry key, query id or client id (empty for some queries).
	TypeName string                 // Search only.
	Spec     predicate.Spec         // Search only.
	Bindings map[string]index.Value // Search only.
	Max      int                    // Poll only.
}

// UpdateResult is the JSON payload of a successful command result.
type UpdateResult struct {
	Removed bool          `json:"removed,omitempty"`
	Info    *cq.StateInfo `json:"info,omitempty"`
	Keys    []string      `json:"keys,omitempty"`
}
