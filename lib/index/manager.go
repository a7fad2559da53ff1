package index

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ValentinKolb/dCache/lib/async"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("index")

var (
	indexAdds        = metrics.GetOrCreateCounter(`dcache_index_operations_total{op="add"}`)
	indexRemoves     = metrics.GetOrCreateCounter(`dcache_index_operations_total{op="remove"}`)
	conversionErrors = metrics.GetOrCreateCounter(`dcache_index_conversion_errors_total`)
)

// State is the lifecycle state of a Manager.
type State uint8

const (
	StateUninitialized State = iota
	StateInitialized
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Options configures a Manager.
type Options struct {
	// IndexForAll indexes entries of undeclared types by key.
	IndexForAll bool

	// DisableIndexNotDefinedError materializes empty stores for unknown attributes.
	DisableIndexNotDefinedError bool

	// StopTimeout bounds how long Dispose waits for pending async work.
	StopTimeout time.Duration
}

// Indexer is the contract of every manager variant. Async tasks always dispatch through
// the outermost variant so tag indexing is applied to async adds as well.
type Indexer interface {
	AddToIndex(key string, meta *MetaInfo, info *IndexInformation) error
	RemoveFromIndex(key string, meta *MetaInfo, info *IndexInformation) error
}

// Manager maintains one index per declared type and routes entry mutations to them.
//
// Lifecycle: Uninitialized -> Initialized -> Disposed. All mutations of the index map are
// serialized by one manager mutex.
type Manager struct {
	mu        sync.Mutex
	state     State
	types     *TypeInfoMap
	opts      Options
	indexes   map[string]Index
	processor *async.Processor
	disabled  bool

	self Indexer
}

// NewManager creates an uninitialized manager without tag support.
func NewManager() *Manager {
	m := &Manager{indexes: make(map[string]Index)}
	m.self = m
	return m
}

// Initialize creates the per-type indexes. Types with attributes get an AttributeIndex,
// types without attributes a TypeIndex. If no type is declared and IndexForAll is off,
// indexing is disabled and every type maps to a VirtualIndex. When any index exists the
// single-worker async processor is started.
func (m *Manager) Initialize(types *TypeInfoMap, opts Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateInitialized:
		return fmt.Errorf("index manager already initialized")
	case StateDisposed:
		return ErrManagerDisposed
	}

	if types == nil {
		types = NewTypeInfoMap()
	}
	m.types = types
	m.opts = opts
	if m.opts.StopTimeout <= 0 {
		m.opts.StopTimeout = 5 * time.Second
	}

	aiOpts := AttributeIndexOptions{DisableIndexNotDefinedError: opts.DisableIndexNotDefinedError}
	for _, ti := range types.Types() {
		if ti.HasAttributes() {
			m.indexes[ti.Name] = NewAttributeIndex(ti.Name, ti, aiOpts)
		} else {
			m.indexes[ti.Name] = NewTypeIndex(ti.Name, aiOpts)
		}
	}

	m.disabled = len(m.indexes) == 0 && !opts.IndexForAll
	if !m.disabled {
		m.processor = async.NewProcessor("index", 1)
		m.processor.Start()
	}

	m.state = StateInitialized
	log.Infof("index manager initialized: %d type(s), indexForAll=%v, disabled=%v", len(m.indexes), opts.IndexForAll, m.disabled)
	return nil
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Types returns the schema the manager was initialized with.
func (m *Manager) Types() *TypeInfoMap { return m.types }

func (m *Manager) checkState() error {
	switch m.state {
	case StateUninitialized:
		return ErrManagerNotInitialized
	case StateDisposed:
		return ErrManagerDisposed
	}
	return nil
}

// indexForLocked returns the index of a canonical type name. With create, undeclared types
// get a key-only TypeIndex.
func (m *Manager) indexForLocked(typeName string, create bool) (Index, bool) {
	if m.disabled {
		return NewVirtualIndex(typeName), true
	}
	if idx, ok := m.indexes[typeName]; ok {
		return idx, true
	}
	if !create {
		return nil, false
	}
	idx := NewTypeIndex(typeName, AttributeIndexOptions{DisableIndexNotDefinedError: m.opts.DisableIndexNotDefinedError})
	m.indexes[typeName] = idx
	return idx, true
}

// AddToIndex indexes the attributes of an entry. Values are coerced to the declared types;
// a conversion failure aborts the add and is returned as *ConversionError.
func (m *Manager) AddToIndex(key string, meta *MetaInfo, info *IndexInformation) error {
	return m.addToIndex(key, meta, info)
}

func (m *Manager) addToIndex(key string, meta *MetaInfo, info *IndexInformation) error {
	if meta == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkState(); err != nil {
		return err
	}

	var values map[string]Value
	typeName := m.types.TypeOf(meta)
	if ti, ok := m.types.resolveType(meta); ok {
		v, err := ti.Values(meta)
		if err != nil {
			conversionErrors.Inc()
			return err
		}
		values = v
	}

	idx, ok := m.indexForLocked(typeName, m.opts.IndexForAll)
	if !ok {
		return nil
	}
	indexAdds.Inc()
	return idx.AddToIndex(key, values, info)
}

// RemoveFromIndex removes an entry using the positions recorded in info.
func (m *Manager) RemoveFromIndex(key string, meta *MetaInfo, info *IndexInformation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkState(); err != nil {
		return err
	}

	typeName := m.types.TypeOf(meta)
	idx, ok := m.indexForLocked(typeName, false)
	if !ok {
		if info != nil {
			info.Reset()
		}
		return nil
	}
	indexRemoves.Inc()
	idx.RemoveFromIndex(key, info)
	return nil
}

// AsyncAddToIndex enqueues AddToIndex on the single-worker processor, so adds and
// removes of the same key are applied in submission order. Without a processor the add
// runs synchronously.
func (m *Manager) AsyncAddToIndex(key string, meta *MetaInfo, info *IndexInformation) error {
	self := m.self
	return m.async(func() error { return self.AddToIndex(key, meta, info) })
}

// AsyncRemoveFromIndex enqueues RemoveFromIndex on the single-worker processor.
func (m *Manager) AsyncRemoveFromIndex(key string, meta *MetaInfo, info *IndexInformation) error {
	self := m.self
	return m.async(func() error { return self.RemoveFromIndex(key, meta, info) })
}

func (m *Manager) async(fn func() error) error {
	m.mu.Lock()
	p := m.processor
	err := m.checkState()
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if p == nil {
		return fn()
	}
	return p.Enqueue(async.TaskFunc(fn))
}

// Flush waits until all async index work enqueued so far has been applied.
func (m *Manager) Flush(timeout time.Duration) bool {
	m.mu.Lock()
	p := m.processor
	m.mu.Unlock()
	if p == nil {
		return true
	}
	return p.Flush(timeout)
}

// GetIndex returns the index of a type or alias.
func (m *Manager) GetIndex(typeName string) (Index, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkState() != nil {
		return nil, false
	}
	return m.indexForLocked(m.types.Canonical(typeName), false)
}

// IndexedTypes returns the names of all types with an index, sorted.
func (m *Manager) IndexedTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.indexes))
	for name := range m.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear empties every index.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, idx := range m.indexes {
		idx.Clear()
	}
}

// Size returns the approximate memory held by all indexes in bytes.
func (m *Manager) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var size int64
	for _, idx := range m.indexes {
		size += idx.Size()
	}
	return size
}

// Dispose stops the async processor, clears all indexes and moves to Disposed. Pending
// async work is drained up to Options.StopTimeout.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.state == StateDisposed {
		m.mu.Unlock()
		return
	}
	p := m.processor
	m.processor = nil
	m.mu.Unlock()

	if p != nil {
		if err := p.Stop(m.opts.StopTimeout); err != nil {
			log.Warningf("index processor: %v", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, idx := range m.indexes {
		idx.Clear()
	}
	m.indexes = make(map[string]Index)
	m.state = StateDisposed
}
