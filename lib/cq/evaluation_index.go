package cq

import (
	"sync"

	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/ValentinKolb/dCache/lib/predicate"
)

// EvaluationIndex is a scratch index of a single type holding at most one entry. It is
// populated with the new values of a mutated entry, predicates are re-evaluated against it
// and it is cleared again. All stores are hash stores.
type EvaluationIndex struct {
	mu   sync.Mutex
	ti   *index.TypeInfo
	idx  *index.AttributeIndex
	info *index.IndexInformation
}

// NewEvaluationIndex creates the evaluation index of a type. ti may be nil for types
// without declared attributes.
func NewEvaluationIndex(typeName string, ti *index.TypeInfo) *EvaluationIndex {
	return &EvaluationIndex{
		ti:   ti,
		idx:  index.NewAttributeIndex(typeName, ti, index.AttributeIndexOptions{HashStores: true}),
		info: &index.IndexInformation{},
	}
}

// Evaluate populates the index with one entry, calls fn with the index as predicate source
// and clears the index afterwards, also if fn panics.
func (e *EvaluationIndex) Evaluate(key string, meta *index.MetaInfo, fn func(src predicate.Source)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.clear(key)

	if err := e.populate(key, meta); err != nil {
		return err
	}
	fn(e.idx)
	return nil
}

func (e *EvaluationIndex) populate(key string, meta *index.MetaInfo) error {
	var values map[string]index.Value
	if e.ti != nil && meta != nil {
		v, err := e.ti.Values(meta)
		if err != nil {
			return err
		}
		values = v
	}
	if err := e.idx.AddToIndex(key, values, e.info); err != nil {
		return err
	}
	if meta == nil {
		return nil
	}
	e.idx.AddTags(key, meta.Tags, e.info)
	named, err := index.NamedTagValues(meta)
	if err != nil {
		return err
	}
	e.idx.AddNamedTags(key, named, e.info)
	return nil
}

func (e *EvaluationIndex) clear(key string) {
	e.idx.RemoveFromIndex(key, e.info)
	e.info.Reset()
}

// Count returns the number of entries currently held, zero outside Evaluate.
func (e *EvaluationIndex) Count() int {
	return e.idx.Count()
}
