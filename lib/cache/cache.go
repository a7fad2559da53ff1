package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dCache/lib/cq"
	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/ValentinKolb/dCache/lib/predicate"
	"github.com/ValentinKolb/dCache/lib/util"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("cache")

var (
	// ErrKeyExists is returned by Add for a present key.
	ErrKeyExists = errors.New("key already exists")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("cache is closed")
)

var (
	inserts = metrics.GetOrCreateCounter(`dcache_cache_operations_total{op="insert"}`)
	removes = metrics.GetOrCreateCounter(`dcache_cache_operations_total{op="remove"}`)
	gets    = metrics.GetOrCreateCounter(`dcache_cache_operations_total{op="get"}`)
)

// Entry is a cached value with its query metadata.
type Entry struct {
	Key     string          `json:"key"`
	Value   []byte          `json:"value,omitempty"`
	Meta    *index.MetaInfo `json:"meta,omitempty"`
	Version uint64          `json:"version"`

	info *index.IndexInformation
}

func (e *Entry) snapshot() *Entry {
	return &Entry{Key: e.Key, Value: e.Value, Meta: e.Meta, Version: e.Version}
}

// Cache is an in-memory object cache with attribute indexes and continuous queries.
//
// Thread-safety: all methods are safe for concurrent use.
type Cache struct {
	cfg     Config
	types   *index.TypeInfoMap
	seed    uint64
	shards  []*xsync.MapOf[string, *Entry]
	writeMu sync.Mutex
	version atomic.Uint64
	closed  atomic.Bool

	indexes  *index.NamedTagIndexManager
	analyzer *cq.Analyzer
	queries  *cq.Manager
	inboxes  *xsync.MapOf[string, *inbox]
	forward  atomic.Pointer[Forwarder]
}

// New creates a cache. The index manager and the analyzer are started right away.
func New(cfg Config) (*Cache, error) {
	cfg.normalize()
	types, err := cfg.Types()
	if err != nil {
		return nil, err
	}

	c := &Cache{
		cfg:     cfg,
		types:   types,
		seed:    util.GenerateSeed(),
		shards:  make([]*xsync.MapOf[string, *Entry], cfg.Shards),
		indexes: index.NewNamedTagIndexManager(),
		queries: cq.NewManager(),
		inboxes: xsync.NewMapOf[string, *inbox](),
	}
	for i := range c.shards {
		c.shards[i] = xsync.NewMapOf[string, *Entry]()
	}

	err = c.indexes.Initialize(types, index.Options{
		IndexForAll:                 cfg.IndexForAll,
		DisableIndexNotDefinedError: cfg.DisableIndexNotDefinedError,
		StopTimeout:                 cfg.StopTimeout,
	})
	if err != nil {
		return nil, err
	}

	c.analyzer, err = cq.NewAnalyzer(types, c, cq.AnalyzerOptions{
		Sync:              cfg.SyncQueryEvaluation,
		EvalIndexPoolSize: cfg.EvalIndexPoolSize,
		StopTimeout:       cfg.StopTimeout,
	})
	if err != nil {
		c.indexes.Dispose()
		return nil, err
	}

	log.Infof("cache created: %d type(s), %d shard(s), asyncIndexing=%v, syncQueries=%v",
		types.Len(), cfg.Shards, cfg.AsyncIndexing, cfg.SyncQueryEvaluation)
	return c, nil
}

// Config returns the effective configuration.
func (c *Cache) Config() Config { return c.cfg }

// Types returns the type schema.
func (c *Cache) Types() *index.TypeInfoMap { return c.types }

func (c *Cache) shard(key string) *xsync.MapOf[string, *Entry] {
	return c.shards[util.ShardFor(key, c.seed, len(c.shards))]
}

func (c *Cache) newContext(ct cq.ChangeType, payload []byte) *cq.EventContext {
	return &cq.EventContext{
		ID:      cq.EventID{UniqueID: uuid.NewString(), ChangeType: ct},
		Payload: payload,
	}
}

// validate coerces the metadata like the index would, so conversion errors surface
// before anything is mutated, also with async indexing.
func (c *Cache) validate(meta *index.MetaInfo) error {
	if meta == nil {
		return nil
	}
	if ti, ok := c.types.ByName(c.types.TypeOf(meta)); ok {
		if _, err := ti.Values(meta); err != nil {
			return err
		}
	}
	_, err := index.NamedTagValues(meta)
	return err
}

func (c *Cache) addToIndex(e *Entry) error {
	if c.cfg.AsyncIndexing {
		return c.indexes.AsyncAddToIndex(e.Key, e.Meta, e.info)
	}
	return c.indexes.AddToIndex(e.Key, e.Meta, e.info)
}

func (c *Cache) removeFromIndex(e *Entry) error {
	if c.cfg.AsyncIndexing {
		return c.indexes.AsyncRemoveFromIndex(e.Key, e.Meta, e.info)
	}
	return c.indexes.RemoveFromIndex(e.Key, e.Meta, e.info)
}

// --------------------------------------------------------------------------
// Mutations
// --------------------------------------------------------------------------

// Insert adds or replaces an entry. The indexes of a replaced entry are removed before
// the new values are indexed. Conversion errors abort the insert.
func (c *Cache) Insert(key string, value []byte, meta *index.MetaInfo) error {
	return c.insert(key, value, meta, false)
}

// Add inserts an entry and fails with ErrKeyExists if the key is present.
func (c *Cache) Add(key string, value []byte, meta *index.MetaInfo) error {
	return c.insert(key, value, meta, true)
}

func (c *Cache) insert(key string, value []byte, meta *index.MetaInfo, mustBeNew bool) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.validate(meta); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	shard := c.shard(key)
	old, exists := shard.Load(key)
	if exists && mustBeNew {
		return fmt.Errorf("%w: %s", ErrKeyExists, key)
	}

	e := &Entry{
		Key:     key,
		Value:   value,
		Meta:    meta,
		Version: c.version.Add(1),
		info:    &index.IndexInformation{},
	}
	if exists {
		if err := c.removeFromIndex(old); err != nil {
			return err
		}
	}
	if err := c.addToIndex(e); err != nil {
		if exists {
			_ = c.addToIndex(old)
		}
		return err
	}
	shard.Store(key, e)
	inserts.Inc()

	switch {
	case exists && c.types.TypeOf(old.Meta) != c.types.TypeOf(meta):
		// the key leaves the result sets of its old type
		c.analyzer.OnItemRemoved(key, old.Meta, c.newContext(cq.ChangeRemove, old.Value))
		c.analyzer.OnItemAdded(key, meta, c.newContext(cq.ChangeAdd, value))
	case exists:
		c.analyzer.OnItemUpdated(key, meta, c.newContext(cq.ChangeUpdate, value))
	default:
		c.analyzer.OnItemAdded(key, meta, c.newContext(cq.ChangeAdd, value))
	}
	return nil
}

// Remove deletes an entry and reports whether it was present.
func (c *Cache) Remove(key string) (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	old, ok := c.shard(key).LoadAndDelete(key)
	if !ok {
		return false, nil
	}
	removes.Inc()
	if err := c.removeFromIndex(old); err != nil {
		log.Warningf("removing %q from index: %v", key, err)
	}
	c.analyzer.OnItemRemoved(key, old.Meta, c.newContext(cq.ChangeRemove, old.Value))
	return true, nil
}

// Clear removes all entries and empties every index and query result set. Queries stay
// registered and no notifications are raised.
func (c *Cache) Clear() error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.clearLocked()
	return nil
}

func (c *Cache) clearLocked() {
	c.indexes.Flush(c.cfg.StopTimeout)
	c.analyzer.Flush(c.cfg.StopTimeout)
	for _, shard := range c.shards {
		shard.Clear()
	}
	c.indexes.Clear()
	c.analyzer.Clear()
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// Get returns a copy of the entry stored under key.
func (c *Cache) Get(key string) (*Entry, bool) {
	gets.Inc()
	e, ok := c.shard(key).Load(key)
	if !ok {
		return nil, false
	}
	return e.snapshot(), true
}

// Has reports whether key is present.
func (c *Cache) Has(key string) bool {
	_, ok := c.shard(key).Load(key)
	return ok
}

// Count returns the number of entries.
func (c *Cache) Count() int {
	var n int
	for _, shard := range c.shards {
		n += shard.Size()
	}
	return n
}

// Search evaluates p against the live index of a type and returns the matching keys,
// sorted. Pending async index updates are applied first.
func (c *Cache) Search(typeName string, p predicate.Predicate, bindings map[string]index.Value) ([]string, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.cfg.AsyncIndexing {
		c.indexes.Flush(c.cfg.StopTimeout)
	}
	idx, ok := c.indexes.GetIndex(typeName)
	if !ok {
		return nil, nil
	}
	keys, err := p.ReEvaluate(idx, bindings)
	if err != nil {
		return nil, err
	}
	return predicate.Sorted(keys), nil
}

// SearchSpec builds the predicate of spec and runs Search.
func (c *Cache) SearchSpec(typeName string, spec predicate.Spec, bindings map[string]index.Value) ([]string, error) {
	p, err := spec.Build()
	if err != nil {
		return nil, err
	}
	return c.Search(typeName, p, bindings)
}

// Flush waits until pending index updates, query evaluations and notifications are done.
func (c *Cache) Flush() bool {
	return c.indexes.Flush(c.cfg.StopTimeout) && c.analyzer.Flush(c.cfg.StopTimeout)
}

// Close stops all background processing and closes the client inboxes.
func (c *Cache) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.indexes.Dispose()
	c.analyzer.Dispose()
	c.inboxes.Range(func(clientID string, ib *inbox) bool {
		ib.close()
		c.inboxes.Delete(clientID)
		return true
	})
	log.Infof("cache closed")
}
