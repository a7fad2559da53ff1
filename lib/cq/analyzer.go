package cq

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCache/lib/async"
	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/ValentinKolb/dCache/lib/predicate"
	"github.com/VictoriaMetrics/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var log = logger.GetLogger("cq")

var (
	notifiedAdds     = metrics.GetOrCreateCounter(`dcache_cq_notifications_total{type="add"}`)
	notifiedUpdates  = metrics.GetOrCreateCounter(`dcache_cq_notifications_total{type="update"}`)
	notifiedRemoves  = metrics.GetOrCreateCounter(`dcache_cq_notifications_total{type="remove"}`)
	evaluationErrors = metrics.GetOrCreateCounter(`dcache_cq_evaluation_errors_total`)
	deliveryErrors   = metrics.GetOrCreateCounter(`dcache_cq_delivery_errors_total`)
)

func countNotification(ct ChangeType) {
	switch ct {
	case ChangeAdd:
		notifiedAdds.Inc()
	case ChangeUpdate:
		notifiedUpdates.Inc()
	case ChangeRemove:
		notifiedRemoves.Inc()
	}
}

// AnalyzerOptions configures an Analyzer.
type AnalyzerOptions struct {
	// Sync evaluates and delivers inline on the mutating goroutine.
	Sync bool

	// EvalIndexPoolSize bounds the number of pooled per-type evaluation indexes.
	EvalIndexPoolSize int

	// StopTimeout bounds how long Dispose waits for each processor.
	StopTimeout time.Duration
}

// AnalyzerStats is a snapshot of the analyzer's bookkeeping.
type AnalyzerStats struct {
	RegisteredPredicates int     `json:"registered_predicates"`
	TrackedKeys          int     `json:"tracked_keys"`
	PooledEvalIndexes    int     `json:"pooled_eval_indexes"`
	Evaluations          int64   `json:"evaluations"`
	MeanEvalMicros       float64 `json:"mean_eval_micros"`
	P99EvalMicros        float64 `json:"p99_eval_micros"`
}

// batch is one notification class of a mutation
type batch struct {
	changeType ChangeType
	queryIDs   []string
}

// Analyzer tracks registered predicates and their result sets and turns cache mutations
// into query change notifications.
//
// Thread-safety: all methods are safe for concurrent use. One mutex guards both tables.
type Analyzer struct {
	mu         sync.Mutex
	types      *index.TypeInfoMap
	opts       AnalyzerOptions
	registered map[string][]*PredicateHolder
	results    map[string]map[string][]*PredicateHolder
	pool       *lru.Cache[string, *EvaluationIndex]

	listener     Listener
	evaluation   *async.Processor
	notification *async.Processor

	registry  gometrics.Registry
	evalTimer gometrics.Timer
	sequence  atomic.Uint64
	disposed  atomic.Bool
}

// NewAnalyzer creates an analyzer delivering to listener. Unless opts.Sync is set, the
// evaluation processor (one worker) and the notification processor (two workers) are
// started.
func NewAnalyzer(types *index.TypeInfoMap, listener Listener, opts AnalyzerOptions) (*Analyzer, error) {
	if types == nil {
		types = index.NewTypeInfoMap()
	}
	if opts.EvalIndexPoolSize <= 0 {
		opts.EvalIndexPoolSize = 64
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}

	pool, err := lru.New[string, *EvaluationIndex](opts.EvalIndexPoolSize)
	if err != nil {
		return nil, fmt.Errorf("evaluation index pool: %w", err)
	}

	a := &Analyzer{
		types:      types,
		opts:       opts,
		registered: make(map[string][]*PredicateHolder),
		results:    make(map[string]map[string][]*PredicateHolder),
		pool:       pool,
		listener:   listener,
		registry:   gometrics.NewRegistry(),
	}
	a.evalTimer = gometrics.GetOrRegisterTimer("cq.evaluation", a.registry)

	if !opts.Sync {
		a.evaluation = async.NewProcessor("cq-evaluation", 1)
		a.notification = async.NewProcessor("cq-notification", 2)
		a.evaluation.Start()
		a.notification.Start()
	}
	return a, nil
}

// SetListener replaces the notification listener.
func (a *Analyzer) SetListener(l Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listener = l
}

// --------------------------------------------------------------------------
// Registration
// --------------------------------------------------------------------------

// RegisterPredicate registers a predicate for a type and seeds its result set with
// initialKeys, the keys matched by a full evaluation at registration time. Registering the
// same query id twice keeps the first registration.
func (a *Analyzer) RegisterPredicate(typeName, commandText string, values map[string]index.Value,
	p predicate.Predicate, queryID string, initialKeys []string) {

	typeName = a.types.Canonical(typeName)
	h := &PredicateHolder{
		QueryID:     queryID,
		CommandText: commandText,
		ObjectType:  typeName,
		Predicate:   p,
		Values:      values,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if indexOfHolder(a.registered[typeName], queryID) >= 0 {
		return
	}
	a.registered[typeName] = append(a.registered[typeName], h)

	if len(initialKeys) == 0 {
		return
	}
	byKey := a.results[typeName]
	if byKey == nil {
		byKey = make(map[string][]*PredicateHolder)
		a.results[typeName] = byKey
	}
	for _, key := range initialKeys {
		byKey[key] = append(byKey[key], h)
	}
}

// UnRegisterPredicate removes a predicate from the registry and from every result set.
// Empty keys and types are pruned. Unknown ids are ignored.
func (a *Analyzer) UnRegisterPredicate(queryID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for typeName, holders := range a.registered {
		holders = removeHolder(holders, queryID)
		if len(holders) == 0 {
			delete(a.registered, typeName)
		} else {
			a.registered[typeName] = holders
		}
	}

	for typeName, byKey := range a.results {
		for key, holders := range byKey {
			holders = removeHolder(holders, queryID)
			if len(holders) == 0 {
				delete(byKey, key)
			} else {
				byKey[key] = holders
			}
		}
		if len(byKey) == 0 {
			delete(a.results, typeName)
		}
	}
}

// --------------------------------------------------------------------------
// Mutation hooks
// --------------------------------------------------------------------------

// OnItemAdded re-evaluates the predicates of the entry's type for a new entry.
func (a *Analyzer) OnItemAdded(key string, meta *index.MetaInfo, ctx *EventContext) {
	a.submit(key, meta, ChangeAdd, ctx)
}

// OnItemUpdated re-evaluates the predicates of the entry's type for changed values. meta
// holds the new values.
func (a *Analyzer) OnItemUpdated(key string, meta *index.MetaInfo, ctx *EventContext) {
	a.submit(key, meta, ChangeUpdate, ctx)
}

// OnItemRemoved drops the entry from every result set it is in.
func (a *Analyzer) OnItemRemoved(key string, meta *index.MetaInfo, ctx *EventContext) {
	a.submit(key, meta, ChangeRemove, ctx)
}

func (a *Analyzer) submit(key string, meta *index.MetaInfo, ct ChangeType, ctx *EventContext) {
	if a.disposed.Load() {
		return
	}
	if ctx == nil {
		ctx = &EventContext{ID: EventID{ChangeType: ct}}
	}
	if ctx.ID.Sequence == 0 {
		ctx.ID.Sequence = a.sequence.Add(1)
	}

	if a.evaluation == nil {
		a.NotifyModifiedQueries(key, meta, ct, ctx)
		return
	}
	err := a.evaluation.Enqueue(async.TaskFunc(func() error {
		a.NotifyModifiedQueries(key, meta, ct, ctx)
		return nil
	}))
	if err != nil {
		log.Warningf("dropping %s evaluation of %q: %v", ct, key, err)
	}
}

// NotifyModifiedQueries applies one mutation to the result-set table and raises the
// resulting notifications in the order exclusion, retention, inclusion.
func (a *Analyzer) NotifyModifiedQueries(key string, meta *index.MetaInfo, ct ChangeType, ctx *EventContext) {
	a.mu.Lock()
	typeName := a.types.TypeOf(meta)
	var exclusion, retention, inclusion []string

	switch ct {
	case ChangeAdd:
		previous := a.results[typeName][key]
		matched, _ := a.evaluateLocked(typeName, key, meta)
		for _, h := range matched {
			if indexOfHolder(previous, h.QueryID) < 0 {
				previous = append(previous, h)
				inclusion = append(inclusion, h.QueryID)
			}
		}
		a.setResultsLocked(typeName, key, previous)

	case ChangeUpdate:
		previous := a.results[typeName][key]
		matched, failed := a.evaluateLocked(typeName, key, meta)
		current := matched
		for _, h := range previous {
			switch {
			case indexOfHolder(matched, h.QueryID) >= 0:
				retention = append(retention, h.QueryID)
			case indexOfHolder(failed, h.QueryID) >= 0:
				// a failing predicate keeps its previous result
				current = append(current, h)
			default:
				exclusion = append(exclusion, h.QueryID)
			}
		}
		for _, h := range matched {
			if indexOfHolder(previous, h.QueryID) < 0 {
				inclusion = append(inclusion, h.QueryID)
			}
		}
		a.setResultsLocked(typeName, key, current)

	case ChangeRemove:
		for _, h := range a.results[typeName][key] {
			exclusion = append(exclusion, h.QueryID)
		}
		a.setResultsLocked(typeName, key, nil)
	}
	a.mu.Unlock()

	var batches []batch
	if len(exclusion) > 0 {
		batches = append(batches, batch{ChangeRemove, exclusion})
	}
	if len(retention) > 0 {
		batches = append(batches, batch{ChangeUpdate, retention})
	}
	if len(inclusion) > 0 {
		batches = append(batches, batch{ChangeAdd, inclusion})
	}
	a.raise(key, meta, batches, ctx)
}

// setResultsLocked stores the holders matching key, pruning empty keys and types.
func (a *Analyzer) setResultsLocked(typeName, key string, holders []*PredicateHolder) {
	byKey := a.results[typeName]
	if len(holders) == 0 {
		if byKey != nil {
			delete(byKey, key)
			if len(byKey) == 0 {
				delete(a.results, typeName)
			}
		}
		return
	}
	if byKey == nil {
		byKey = make(map[string][]*PredicateHolder)
		a.results[typeName] = byKey
	}
	byKey[key] = holders
}

// evaluateLocked splits the registered holders of typeName into those whose predicate
// matches the entry and those whose predicate failed. Failures are logged.
func (a *Analyzer) evaluateLocked(typeName, key string, meta *index.MetaInfo) (matched, failed []*PredicateHolder) {
	holders := a.registered[typeName]
	if len(holders) == 0 {
		return nil, nil
	}

	start := time.Now()
	defer a.evalTimer.UpdateSince(start)

	err := a.evaluationIndexLocked(typeName).Evaluate(key, meta, func(src predicate.Source) {
		for _, h := range holders {
			keys, err := h.Predicate.ReEvaluate(src, h.Values)
			if err != nil {
				evaluationErrors.Inc()
				log.Errorf("query %s (%s) failed on %q: %v", h.QueryID, h.CommandText, key, err)
				failed = append(failed, h)
				continue
			}
			if _, ok := keys[key]; ok {
				matched = append(matched, h)
			}
		}
	})
	if err != nil {
		evaluationErrors.Inc()
		log.Errorf("cannot evaluate queries of %s for %q: %v", typeName, key, err)
		return nil, holders
	}
	return matched, failed
}

func (a *Analyzer) evaluationIndexLocked(typeName string) *EvaluationIndex {
	if ei, ok := a.pool.Get(typeName); ok {
		return ei
	}
	ti, _ := a.types.ByName(typeName)
	ei := NewEvaluationIndex(typeName, ti)
	a.pool.Add(typeName, ei)
	return ei
}

// --------------------------------------------------------------------------
// Notification
// --------------------------------------------------------------------------

// RaiseQueryChangeNotification delivers one notification for the given queries, inline in
// synchronous mode or via the notification processor.
func (a *Analyzer) RaiseQueryChangeNotification(key string, ct ChangeType, queryIDs []string, meta *index.MetaInfo, ctx *EventContext) {
	if len(queryIDs) == 0 {
		return
	}
	a.raise(key, meta, []batch{{ct, queryIDs}}, ctx)
}

// raise delivers all batches of one mutation from a single task so their order holds on
// the multi-worker processor.
func (a *Analyzer) raise(key string, meta *index.MetaInfo, batches []batch, ctx *EventContext) {
	if len(batches) == 0 {
		return
	}

	a.mu.Lock()
	listener := a.listener
	a.mu.Unlock()
	if listener == nil {
		return
	}

	deliver := func() error {
		for _, b := range batches {
			n := &QueryChangeNotification{
				Key:        key,
				ChangeType: b.changeType,
				QueryIDs:   b.queryIDs,
				Meta:       meta,
				Context:    ctx.CloneFor(b.changeType),
			}
			countNotification(b.changeType)
			if err := listener.OnQueryChanged(n); err != nil {
				deliveryErrors.Inc()
				log.Errorf("delivering %s notification for %q to %v: %v", b.changeType, key, b.queryIDs, err)
			}
		}
		return nil
	}

	if a.notification == nil {
		_ = deliver()
		return
	}
	if err := a.notification.Enqueue(async.TaskFunc(deliver)); err != nil {
		log.Warningf("dropping notifications for %q: %v", key, err)
	}
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

// Search returns the keys currently in the result set of a query, sorted.
func (a *Analyzer) Search(queryID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var keys []string
	for _, byKey := range a.results {
		for key, holders := range byKey {
			if indexOfHolder(holders, queryID) >= 0 {
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// GetPredicatesForType returns the holders registered for a type.
func (a *Analyzer) GetPredicatesForType(typeName string) []*PredicateHolder {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*PredicateHolder(nil), a.registered[a.types.Canonical(typeName)]...)
}

// IsRegistered reports whether the key is in the result set of any query.
func (a *Analyzer) IsRegistered(key string, meta *index.MetaInfo) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.results[a.types.TypeOf(meta)][key]
	return ok
}

// IsQueryRegistered reports whether a query id is registered.
func (a *Analyzer) IsQueryRegistered(queryID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, holders := range a.registered {
		if indexOfHolder(holders, queryID) >= 0 {
			return true
		}
	}
	return false
}

// Clear empties all result sets, registrations are kept.
func (a *Analyzer) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = make(map[string]map[string][]*PredicateHolder)
}

// Flush waits until all queued evaluations and notifications have been processed.
func (a *Analyzer) Flush(timeout time.Duration) bool {
	if a.evaluation == nil {
		return true
	}
	deadline := time.Now().Add(timeout)
	if !a.evaluation.Flush(timeout) {
		return false
	}
	return a.notification.Flush(time.Until(deadline))
}

// Stats returns counters and evaluation latency.
func (a *Analyzer) Stats() AnalyzerStats {
	a.mu.Lock()
	stats := AnalyzerStats{PooledEvalIndexes: a.pool.Len()}
	for _, holders := range a.registered {
		stats.RegisteredPredicates += len(holders)
	}
	for _, byKey := range a.results {
		stats.TrackedKeys += len(byKey)
	}
	a.mu.Unlock()

	snap := a.evalTimer.Snapshot()
	stats.Evaluations = snap.Count()
	stats.MeanEvalMicros = snap.Mean() / float64(time.Microsecond)
	stats.P99EvalMicros = snap.Percentile(0.99) / float64(time.Microsecond)
	return stats
}

// Dispose stops both processors after draining them and drops all state.
func (a *Analyzer) Dispose() {
	if !a.disposed.CompareAndSwap(false, true) {
		return
	}
	for _, p := range []*async.Processor{a.evaluation, a.notification} {
		if p == nil {
			continue
		}
		if err := p.Stop(a.opts.StopTimeout); err != nil {
			log.Warningf("%s: %v", p.Name(), err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.registered = make(map[string][]*PredicateHolder)
	a.results = make(map[string]map[string][]*PredicateHolder)
	a.pool.Purge()
	a.evalTimer.Stop()
	a.registry.UnregisterAll()
}
