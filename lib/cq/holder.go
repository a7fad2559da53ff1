package cq

import (
	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/ValentinKolb/dCache/lib/predicate"
)

// PredicateHolder is an immutable registration of one predicate.
type PredicateHolder struct {
	QueryID     string
	CommandText string
	ObjectType  string
	Predicate   predicate.Predicate
	Values      map[string]index.Value
}

// Equals compares holders by query id.
func (h *PredicateHolder) Equals(o *PredicateHolder) bool {
	return h != nil && o != nil && h.QueryID == o.QueryID
}

func indexOfHolder(holders []*PredicateHolder, queryID string) int {
	for i, h := range holders {
		if h.QueryID == queryID {
			return i
		}
	}
	return -1
}

func removeHolder(holders []*PredicateHolder, queryID string) []*PredicateHolder {
	i := indexOfHolder(holders, queryID)
	if i < 0 {
		return holders
	}
	return append(holders[:i:i], holders[i+1:]...)
}
