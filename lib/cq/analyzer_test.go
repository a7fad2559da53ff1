package cq

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/ValentinKolb/dCache/lib/predicate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []*QueryChangeNotification
}

func (r *recorder) OnQueryChanged(n *QueryChangeNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, n)
	return nil
}

func (r *recorder) take() []*QueryChangeNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := r.events
	r.events = nil
	return events
}

func employees(t *testing.T) *index.TypeInfoMap {
	t.Helper()
	types, err := index.ParseTypeInfoMap("Employee(Name:string,Salary:int);Worker=Employee")
	require.NoError(t, err)
	return types
}

func employee(salary int) *index.MetaInfo {
	return &index.MetaInfo{TypeName: "Employee", Attributes: map[string]any{"Name": "Ann", "Salary": salary}}
}

func salaryAbove(limit int) predicate.Predicate {
	return predicate.NewCompare("Salary", index.GreaterThan, predicate.Const(limit))
}

func salaryBelow(limit int) predicate.Predicate {
	return predicate.NewCompare("Salary", index.LessThan, predicate.Const(limit))
}

func newSyncAnalyzer(t *testing.T) (*Analyzer, *recorder) {
	t.Helper()
	rec := &recorder{}
	a, err := NewAnalyzer(employees(t), rec, AnalyzerOptions{Sync: true})
	require.NoError(t, err)
	t.Cleanup(a.Dispose)
	return a, rec
}

func TestAnalyzerAddEntersResultSet(t *testing.T) {
	a, rec := newSyncAnalyzer(t)
	a.RegisterPredicate("Employee", "Salary > 50000", nil, salaryAbove(50000), "q1", nil)

	a.OnItemAdded("e1", employee(60000), nil)
	a.OnItemAdded("e2", employee(30000), nil)

	events := rec.take()
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].Key)
	assert.Equal(t, ChangeAdd, events[0].ChangeType)
	assert.Equal(t, []string{"q1"}, events[0].QueryIDs)
	assert.Equal(t, []string{"e1"}, a.Search("q1"))
	assert.True(t, a.IsRegistered("e1", employee(0)))
	assert.False(t, a.IsRegistered("e2", employee(0)))
}

func TestAnalyzerUpdateLeavesResultSet(t *testing.T) {
	a, rec := newSyncAnalyzer(t)
	a.RegisterPredicate("Employee", "Salary > 50000", nil, salaryAbove(50000), "q1", nil)
	a.OnItemAdded("e1", employee(60000), nil)
	rec.take()

	a.OnItemUpdated("e1", employee(40000), &EventContext{ID: EventID{UniqueID: "op-1", ChangeType: ChangeUpdate}})

	events := rec.take()
	require.Len(t, events, 1)
	assert.Equal(t, ChangeRemove, events[0].ChangeType)
	assert.Equal(t, []string{"q1"}, events[0].QueryIDs)
	assert.Equal(t, ChangeRemove, events[0].Context.ID.ChangeType, "context is cloned for the batch")
	assert.Equal(t, "op-1", events[0].Context.ID.UniqueID)
	assert.Empty(t, a.Search("q1"))
}

func TestAnalyzerUpdateRetained(t *testing.T) {
	a, rec := newSyncAnalyzer(t)
	a.RegisterPredicate("Employee", "Salary > 50000", nil, salaryAbove(50000), "q1", nil)
	a.OnItemAdded("e1", employee(60000), nil)
	rec.take()

	a.OnItemUpdated("e1", employee(70000), nil)

	events := rec.take()
	require.Len(t, events, 1)
	assert.Equal(t, ChangeUpdate, events[0].ChangeType)
	assert.Equal(t, []string{"e1"}, a.Search("q1"))
}

func TestAnalyzerUpdateOrdering(t *testing.T) {
	a, rec := newSyncAnalyzer(t)
	a.RegisterPredicate("Employee", "Salary > 50000", nil, salaryAbove(50000), "high", nil)
	a.RegisterPredicate("Employee", "Salary < 65000", nil, salaryBelow(65000), "low", nil)
	a.RegisterPredicate("Employee", "Salary > 10000", nil, salaryAbove(10000), "any", nil)
	a.OnItemAdded("e1", employee(30000), nil)
	rec.take()

	// leaves low, stays in any, enters high
	a.OnItemUpdated("e1", employee(70000), nil)

	events := rec.take()
	require.Len(t, events, 3)
	assert.Equal(t, ChangeRemove, events[0].ChangeType)
	assert.Equal(t, []string{"low"}, events[0].QueryIDs)
	assert.Equal(t, ChangeUpdate, events[1].ChangeType)
	assert.Equal(t, []string{"any"}, events[1].QueryIDs)
	assert.Equal(t, ChangeAdd, events[2].ChangeType)
	assert.Equal(t, []string{"high"}, events[2].QueryIDs)
}

func TestAnalyzerRemoveExcludesAll(t *testing.T) {
	a, rec := newSyncAnalyzer(t)
	a.RegisterPredicate("Employee", "Salary > 50000", nil, salaryAbove(50000), "q1", nil)
	a.RegisterPredicate("Employee", "*", nil, predicate.NewAll(), "q2", nil)
	a.OnItemAdded("e1", employee(60000), nil)
	rec.take()

	a.OnItemRemoved("e1", employee(60000), nil)

	events := rec.take()
	require.Len(t, events, 1)
	assert.Equal(t, ChangeRemove, events[0].ChangeType)
	assert.ElementsMatch(t, []string{"q1", "q2"}, events[0].QueryIDs)
	assert.Empty(t, a.Search("q1"))
	assert.Equal(t, 0, a.Stats().TrackedKeys)
}

func TestAnalyzerAliasSharesPredicates(t *testing.T) {
	a, rec := newSyncAnalyzer(t)
	a.RegisterPredicate("Worker", "Salary > 50000", nil, salaryAbove(50000), "q1", nil)

	a.OnItemAdded("w1", &index.MetaInfo{TypeName: "Worker", Attributes: map[string]any{"Salary": 90000}}, nil)

	require.Len(t, rec.take(), 1)
	assert.Len(t, a.GetPredicatesForType("Employee"), 1)
}

func TestAnalyzerParameterBindings(t *testing.T) {
	a, rec := newSyncAnalyzer(t)
	p := predicate.NewCompare("Salary", index.GreaterEquals, predicate.Param("min"))
	a.RegisterPredicate("Employee", "Salary >= ?", map[string]index.Value{"min": index.Int(1000)}, p, "q1", nil)

	a.OnItemAdded("e1", employee(1000), nil)
	require.Len(t, rec.take(), 1)
}

func TestAnalyzerFailingPredicateIsIsolated(t *testing.T) {
	a, rec := newSyncAnalyzer(t)
	a.RegisterPredicate("Employee", "Bonus > 1", nil, predicate.NewCompare("Bonus", index.GreaterThan, predicate.Const(1)), "broken", nil)
	a.RegisterPredicate("Employee", "Salary > 50000", nil, salaryAbove(50000), "q1", nil)

	a.OnItemAdded("e1", employee(60000), nil)

	events := rec.take()
	require.Len(t, events, 1)
	assert.Equal(t, []string{"q1"}, events[0].QueryIDs)
}

func TestAnalyzerFailingPredicateKeepsResultOnUpdate(t *testing.T) {
	a, rec := newSyncAnalyzer(t)
	broken := predicate.NewCompare("Bonus", index.GreaterThan, predicate.Const(1))
	a.RegisterPredicate("Employee", "Bonus > 1", nil, broken, "broken", []string{"e1"})
	a.RegisterPredicate("Employee", "Salary > 50000", nil, salaryAbove(50000), "q1", []string{"e1"})

	a.OnItemUpdated("e1", employee(70000), nil)

	events := rec.take()
	require.Len(t, events, 1)
	assert.Equal(t, ChangeUpdate, events[0].ChangeType)
	assert.Equal(t, []string{"q1"}, events[0].QueryIDs)
	assert.Equal(t, []string{"e1"}, a.Search("broken"))
	assert.Equal(t, []string{"e1"}, a.Search("q1"))

	a.OnItemUpdated("e1", employee(10), nil)

	events = rec.take()
	require.Len(t, events, 1)
	assert.Equal(t, ChangeRemove, events[0].ChangeType)
	assert.Equal(t, []string{"q1"}, events[0].QueryIDs)
	assert.Equal(t, []string{"e1"}, a.Search("broken"))
	assert.Empty(t, a.Search("q1"))
}

func TestAnalyzerUnRegister(t *testing.T) {
	a, _ := newSyncAnalyzer(t)
	a.RegisterPredicate("Employee", "Salary > 50000", nil, salaryAbove(50000), "q1", []string{"e1", "e2"})
	assert.Equal(t, []string{"e1", "e2"}, a.Search("q1"))
	assert.True(t, a.IsQueryRegistered("q1"))

	a.UnRegisterPredicate("q1")
	assert.Empty(t, a.Search("q1"))
	assert.False(t, a.IsQueryRegistered("q1"))
	assert.Equal(t, 0, a.Stats().RegisteredPredicates)
	assert.Equal(t, 0, a.Stats().TrackedKeys)

	a.UnRegisterPredicate("q1")
	assert.Empty(t, a.GetPredicatesForType("Employee"))
}

func TestAnalyzerRegisterIsIdempotent(t *testing.T) {
	a, _ := newSyncAnalyzer(t)
	a.RegisterPredicate("Employee", "Salary > 50000", nil, salaryAbove(50000), "q1", nil)
	a.RegisterPredicate("Employee", "Salary > 50000", nil, salaryAbove(50000), "q1", nil)
	assert.Len(t, a.GetPredicatesForType("Employee"), 1)
}

func TestAnalyzerResultsAreSubsetOfRegistered(t *testing.T) {
	a, _ := newSyncAnalyzer(t)
	a.RegisterPredicate("Employee", "Salary > 50000", nil, salaryAbove(50000), "q1", nil)
	a.RegisterPredicate("Employee", "Salary < 65000", nil, salaryBelow(65000), "q2", nil)
	for i, salary := range []int{10000, 55000, 60000, 90000} {
		a.OnItemAdded(string(rune('a'+i)), employee(salary), nil)
	}
	a.UnRegisterPredicate("q2")
	a.OnItemUpdated("a", employee(80000), nil)

	a.mu.Lock()
	defer a.mu.Unlock()
	for typeName, byKey := range a.results {
		for key, holders := range byKey {
			for _, h := range holders {
				assert.GreaterOrEqual(t, indexOfHolder(a.registered[typeName], h.QueryID), 0, "key %s", key)
			}
		}
	}
}

func TestAnalyzerAsync(t *testing.T) {
	rec := &recorder{}
	a, err := NewAnalyzer(employees(t), rec, AnalyzerOptions{})
	require.NoError(t, err)
	defer a.Dispose()

	a.RegisterPredicate("Employee", "Salary > 50000", nil, salaryAbove(50000), "q1", nil)
	a.OnItemAdded("e1", employee(60000), nil)
	a.OnItemUpdated("e1", employee(40000), nil)
	a.OnItemUpdated("e1", employee(45000), nil)
	require.True(t, a.Flush(time.Second))

	// notifications of different mutations may be delivered by different workers
	events := rec.take()
	require.Len(t, events, 2)
	sort.Slice(events, func(i, j int) bool { return events[i].Context.ID.Sequence < events[j].Context.ID.Sequence })
	assert.Equal(t, ChangeAdd, events[0].ChangeType)
	assert.Equal(t, ChangeRemove, events[1].ChangeType)
	assert.Empty(t, a.Search("q1"))
	assert.Equal(t, int64(3), a.Stats().Evaluations)
}

func TestAnalyzerDisposeStopsDelivery(t *testing.T) {
	rec := &recorder{}
	a, err := NewAnalyzer(employees(t), rec, AnalyzerOptions{})
	require.NoError(t, err)
	a.RegisterPredicate("Employee", "Salary > 50000", nil, salaryAbove(50000), "q1", nil)

	a.Dispose()
	a.OnItemAdded("e1", employee(60000), nil)
	assert.Empty(t, rec.take())
	a.Dispose()
}
