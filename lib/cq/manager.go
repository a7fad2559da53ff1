package cq

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ValentinKolb/dCache/lib/index"
)

var (
	// ErrQueryNotFound is returned for an unknown server query id.
	ErrQueryNotFound = errors.New("continuous query not found")

	// ErrClientQueryNotFound is returned for an unknown client query id.
	ErrClientQueryNotFound = errors.New("client query not found")

	// ErrDuplicateClientQuery is returned when a client query id is registered twice.
	ErrDuplicateClientQuery = errors.New("client query already registered")
)

// Target is the delivery information of one client for a server query.
type Target struct {
	Filter         DataFilter
	ClientQueryIDs []string
}

// Manager keeps the continuous queries registered by clients and the per client
// subscriptions on them. Equal queries of different clients are stored once and
// reference counted.
//
// Thread-safety: all methods are safe for concurrent use.
type Manager struct {
	mu sync.RWMutex

	queries          []*ContinuousQuery
	clientRefs       map[string]map[string][]string
	addFilters       map[string]map[string]DataFilter
	updateFilters    map[string]map[string]DataFilter
	removeFilters    map[string]map[string]DataFilter
	subscriptions    map[string]*Subscription
	clientQueryIndex map[string]string
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	m := &Manager{}
	m.reset()
	return m
}

func (m *Manager) reset() {
	m.queries = nil
	m.clientRefs = make(map[string]map[string][]string)
	m.addFilters = make(map[string]map[string]DataFilter)
	m.updateFilters = make(map[string]map[string]DataFilter)
	m.removeFilters = make(map[string]map[string]DataFilter)
	m.subscriptions = make(map[string]*Subscription)
	m.clientQueryIndex = make(map[string]string)
}

func (m *Manager) filterTable(ct ChangeType) map[string]map[string]DataFilter {
	switch ct {
	case ChangeAdd:
		return m.addFilters
	case ChangeUpdate:
		return m.updateFilters
	default:
		return m.removeFilters
	}
}

// --------------------------------------------------------------------------
// Registration
// --------------------------------------------------------------------------

// Register adds a client query. If an equal query is already registered the client is
// attached to it and the returned state info has IsNew unset; the caller only registers
// the predicate with the analyzer for new queries.
func (m *Manager) Register(query *ContinuousQuery, clientID, clientQueryID string, notify NotificationType, filters Filters) (*StateInfo, error) {
	if query == nil {
		return nil, fmt.Errorf("nil query")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subscriptions[clientQueryID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateClientQuery, clientQueryID)
	}

	isNew := true
	for _, q := range m.queries {
		if q.Equals(query) {
			query = q
			isNew = false
			break
		}
	}
	if isNew {
		m.queries = append(m.queries, query)
	}

	m.updateLocked(query.UniqueID, clientID, clientQueryID, notify, filters)
	return &StateInfo{
		QueryUID:      query.UniqueID,
		ClientID:      clientID,
		ClientQueryID: clientQueryID,
		IsNew:         isNew,
	}, nil
}

// updateLocked attaches a client query to a server query and merges its data filters.
func (m *Manager) updateLocked(uid, clientID, clientQueryID string, notify NotificationType, filters Filters) {
	refs := m.clientRefs[uid]
	if refs == nil {
		refs = make(map[string][]string)
		m.clientRefs[uid] = refs
	}
	refs[clientID] = append(refs[clientID], clientQueryID)

	for _, ct := range []ChangeType{ChangeAdd, ChangeUpdate, ChangeRemove} {
		if !notify.Has(ct) {
			continue
		}
		table := m.filterTable(ct)
		byClient := table[uid]
		if byClient == nil {
			byClient = make(map[string]DataFilter)
			table[uid] = byClient
		}
		if cur, ok := byClient[clientID]; ok {
			byClient[clientID] = maxFilter(cur, filters.For(ct))
		} else {
			byClient[clientID] = filters.For(ct)
		}
	}

	m.subscriptions[clientQueryID] = &Subscription{
		ClientID: clientID,
		QueryUID: uid,
		Notify:   notify,
		Filters:  filters,
	}
	m.clientQueryIndex[clientQueryID] = uid
}

// UnRegister removes a client query. last is set when it was the final reference to the
// server query, which is then removed as well.
func (m *Manager) UnRegister(clientQueryID string) (uid string, last bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unRegisterLocked(clientQueryID)
}

func (m *Manager) unRegisterLocked(clientQueryID string) (string, bool, error) {
	sub, ok := m.subscriptions[clientQueryID]
	if !ok {
		return "", false, fmt.Errorf("%w: %s", ErrClientQueryNotFound, clientQueryID)
	}
	uid := sub.QueryUID
	delete(m.subscriptions, clientQueryID)
	delete(m.clientQueryIndex, clientQueryID)

	refs := m.clientRefs[uid]
	remaining := removeString(refs[sub.ClientID], clientQueryID)
	if len(remaining) == 0 {
		delete(refs, sub.ClientID)
	} else {
		refs[sub.ClientID] = remaining
	}
	m.recomputeFiltersLocked(uid, sub.ClientID, remaining)

	if len(refs) > 0 {
		return uid, false, nil
	}

	delete(m.clientRefs, uid)
	delete(m.addFilters, uid)
	delete(m.updateFilters, uid)
	delete(m.removeFilters, uid)
	for i, q := range m.queries {
		if q.UniqueID == uid {
			m.queries = append(m.queries[:i], m.queries[i+1:]...)
			break
		}
	}
	return uid, true, nil
}

// recomputeFiltersLocked rebuilds a client's filters on a query from its remaining
// subscriptions.
func (m *Manager) recomputeFiltersLocked(uid, clientID string, clientQueryIDs []string) {
	for _, ct := range []ChangeType{ChangeAdd, ChangeUpdate, ChangeRemove} {
		table := m.filterTable(ct)
		byClient := table[uid]
		if byClient == nil {
			continue
		}
		delete(byClient, clientID)
		for _, cqid := range clientQueryIDs {
			sub := m.subscriptions[cqid]
			if sub == nil || !sub.Notify.Has(ct) {
				continue
			}
			byClient[clientID] = maxFilter(byClient[clientID], sub.Filters.For(ct))
		}
		if len(byClient) == 0 {
			delete(table, uid)
		}
	}
}

// UnRegisterClient removes every query of a disconnected client and returns the ids of
// the server queries that lost their last reference.
func (m *Manager) UnRegisterClient(clientID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var clientQueryIDs []string
	for cqid, sub := range m.subscriptions {
		if sub.ClientID == clientID {
			clientQueryIDs = append(clientQueryIDs, cqid)
		}
	}
	sort.Strings(clientQueryIDs)

	var removed []string
	for _, cqid := range clientQueryIDs {
		if uid, last, err := m.unRegisterLocked(cqid); err == nil && last {
			removed = append(removed, uid)
		}
	}
	return removed
}

// --------------------------------------------------------------------------
// Lookups
// --------------------------------------------------------------------------

// GetTargets returns, per client, the client queries on uid that subscribed to the change
// type together with the client's data filter.
func (m *Manager) GetTargets(uid string, ct ChangeType) map[string]Target {
	m.mu.RLock()
	defer m.mu.RUnlock()

	targets := make(map[string]Target)
	for clientID, cqids := range m.clientRefs[uid] {
		var wanted []string
		for _, cqid := range cqids {
			if sub := m.subscriptions[cqid]; sub != nil && sub.Notify.Has(ct) {
				wanted = append(wanted, cqid)
			}
		}
		if len(wanted) == 0 {
			continue
		}
		targets[clientID] = Target{
			Filter:         m.filterTable(ct)[uid][clientID],
			ClientQueryIDs: wanted,
		}
	}
	return targets
}

// GetQuery returns a server query by id.
func (m *Manager) GetQuery(uid string) (*ContinuousQuery, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, q := range m.queries {
		if q.UniqueID == uid {
			return q, true
		}
	}
	return nil, false
}

// Find returns the registered query equal to query.
func (m *Manager) Find(query *ContinuousQuery) (*ContinuousQuery, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, q := range m.queries {
		if q.Equals(query) {
			return q, true
		}
	}
	return nil, false
}

// Exists reports whether a server query is registered.
func (m *Manager) Exists(uid string) bool {
	_, ok := m.GetQuery(uid)
	return ok
}

// Resolve maps a client query id to its server query id.
func (m *Manager) Resolve(clientQueryID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uid, ok := m.clientQueryIndex[clientQueryID]
	return uid, ok
}

// Subscription returns the subscription of a client query.
func (m *Manager) Subscription(clientQueryID string) (Subscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subscriptions[clientQueryID]
	if !ok {
		return Subscription{}, false
	}
	return *sub, true
}

// Queries returns all server queries.
func (m *Manager) Queries() []*ContinuousQuery {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*ContinuousQuery(nil), m.queries...)
}

// Count returns the number of server queries.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queries)
}

// --------------------------------------------------------------------------
// State
// --------------------------------------------------------------------------

// GetState returns a deep copy of all tables.
func (m *Manager) GetState() *State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := newState()
	for _, q := range m.queries {
		s.Queries = append(s.Queries, cloneQuery(q))
	}
	copyRefs(s.ClientRefs, m.clientRefs)
	copyFilters(s.AddDataFilters, m.addFilters)
	copyFilters(s.UpdateDataFilters, m.updateFilters)
	copyFilters(s.RemoveDataFilters, m.removeFilters)
	for cqid, sub := range m.subscriptions {
		s.Subscriptions[cqid] = *sub
	}
	for cqid, uid := range m.clientQueryIndex {
		s.ClientQueryIndex[cqid] = uid
	}
	return s
}

// SetState replaces all tables with a copy of s. Predicates of the restored queries are
// left as found in s.
func (m *Manager) SetState(s *State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reset()
	if s == nil {
		return
	}
	for _, q := range s.Queries {
		m.queries = append(m.queries, cloneQuery(q))
	}
	copyRefs(m.clientRefs, s.ClientRefs)
	copyFilters(m.addFilters, s.AddDataFilters)
	copyFilters(m.updateFilters, s.UpdateDataFilters)
	copyFilters(m.removeFilters, s.RemoveDataFilters)
	for cqid, sub := range s.Subscriptions {
		sub := sub
		m.subscriptions[cqid] = &sub
	}
	for cqid, uid := range s.ClientQueryIndex {
		m.clientQueryIndex[cqid] = uid
	}
}

// Clear drops every query and subscription.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

func cloneQuery(q *ContinuousQuery) *ContinuousQuery {
	c := *q
	if q.AttributeValues != nil {
		c.AttributeValues = make(map[string]index.Value, len(q.AttributeValues))
		for k, v := range q.AttributeValues {
			c.AttributeValues[k] = v
		}
	}
	return &c
}

func copyRefs(dst, src map[string]map[string][]string) {
	for uid, byClient := range src {
		c := make(map[string][]string, len(byClient))
		for clientID, ids := range byClient {
			c[clientID] = append([]string(nil), ids...)
		}
		dst[uid] = c
	}
}

func copyFilters(dst, src map[string]map[string]DataFilter) {
	for uid, byClient := range src {
		c := make(map[string]DataFilter, len(byClient))
		for clientID, f := range byClient {
			c[clientID] = f
		}
		dst[uid] = c
	}
}

func removeString(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i:i], s[i+1:]...)
		}
	}
	return s
}
