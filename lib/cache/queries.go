package cache

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dCache/lib/cq"
	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/ValentinKolb/dCache/lib/predicate"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
)

var (
	delivered = metrics.GetOrCreateCounter(`dcache_client_notifications_total`)
	dropped   = metrics.GetOrCreateCounter(`dcache_client_notifications_dropped_total`)
)

// RegisterRequest describes a continuous query registration of a client.
type RegisterRequest struct {
	ClientID string `json:"clientId"`

	// ClientQueryID identifies the registration on the client, generated when empty.
	ClientQueryID string `json:"clientQueryId,omitempty"`

	TypeName string                 `json:"type"`
	Query    predicate.Spec         `json:"query"`
	Values   map[string]index.Value `json:"values,omitempty"`

	// Notify selects the change types to deliver, all when zero.
	Notify  cq.NotificationType `json:"notify,omitempty"`
	Filters cq.Filters          `json:"filters,omitempty"`
}

// ClientNotification is one query change delivered to a client. Meta and Value are set
// according to the client's data filter.
type ClientNotification struct {
	ClientID       string          `json:"clientId"`
	ClientQueryIDs []string        `json:"clientQueryIds"`
	Key            string          `json:"key"`
	ChangeType     cq.ChangeType   `json:"changeType"`
	EventID        string          `json:"eventId,omitempty"`
	Meta           *index.MetaInfo `json:"meta,omitempty"`
	Value          []byte          `json:"value,omitempty"`
}

// inbox buffers the notifications of one client. A full inbox drops new notifications.
type inbox struct {
	mu      sync.RWMutex
	ch      chan ClientNotification
	closed  bool
	dropped atomic.Uint64
}

func newInbox(size int) *inbox {
	return &inbox{ch: make(chan ClientNotification, size)}
}

func (ib *inbox) push(n ClientNotification) bool {
	ib.mu.RLock()
	defer ib.mu.RUnlock()
	if ib.closed {
		return false
	}
	select {
	case ib.ch <- n:
		return true
	default:
		ib.dropped.Add(1)
		return false
	}
}

func (ib *inbox) poll(max int) []ClientNotification {
	var out []ClientNotification
	for max <= 0 || len(out) < max {
		select {
		case n, ok := <-ib.ch:
			if !ok {
				return out
			}
			out = append(out, n)
		default:
			return out
		}
	}
	return out
}

func (ib *inbox) close() {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if !ib.closed {
		ib.closed = true
		close(ib.ch)
	}
}

func (c *Cache) inbox(clientID string) *inbox {
	ib, _ := c.inboxes.LoadOrCompute(clientID, func() *inbox {
		return newInbox(c.cfg.NotificationBuffer)
	})
	return ib
}

// --------------------------------------------------------------------------
// Registration
// --------------------------------------------------------------------------

// RegisterQuery registers a continuous query for a client and returns the registration
// together with the keys currently matching. Equal queries of several clients share one
// server query, only the first registration evaluates and registers the predicate.
func (c *Cache) RegisterQuery(req RegisterRequest) (*cq.StateInfo, []string, error) {
	if c.closed.Load() {
		return nil, nil, ErrClosed
	}
	if req.ClientID == "" {
		return nil, nil, fmt.Errorf("client id is required")
	}
	if req.ClientQueryID == "" {
		req.ClientQueryID = uuid.NewString()
	}
	if req.Notify == 0 {
		req.Notify = cq.NotifyAll
	}

	p, err := req.Query.Build()
	if err != nil {
		return nil, nil, err
	}
	typeName := c.types.Canonical(req.TypeName)
	commandText := string(req.Query.JSON())

	// no mutation may slip between the initial evaluation and the predicate registration
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	query := cq.NewContinuousQuery(commandText, typeName, req.Values, p)
	info, err := c.queries.Register(query, req.ClientID, req.ClientQueryID, req.Notify, req.Filters)
	if err != nil {
		return nil, nil, err
	}
	c.inbox(req.ClientID)

	if !info.IsNew {
		return info, c.analyzer.Search(info.QueryUID), nil
	}

	keys, err := c.Search(typeName, p, req.Values)
	if err != nil {
		_, _, _ = c.queries.UnRegister(req.ClientQueryID)
		return nil, nil, err
	}
	c.analyzer.RegisterPredicate(typeName, commandText, req.Values, p, info.QueryUID, keys)
	log.Debugf("registered query %s for %s/%s on %s with %d initial match(es)",
		info.QueryUID, req.ClientID, req.ClientQueryID, typeName, len(keys))
	return info, keys, nil
}

// UnRegisterQuery removes a client query. The predicate is dropped from the analyzer
// with the last reference to the server query.
func (c *Cache) UnRegisterQuery(clientQueryID string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	uid, last, err := c.queries.UnRegister(clientQueryID)
	if err != nil {
		return err
	}
	if last {
		c.analyzer.UnRegisterPredicate(uid)
	}
	return nil
}

// DisconnectClient removes every query of a client and closes its inbox.
func (c *Cache) DisconnectClient(clientID string) {
	for _, uid := range c.queries.UnRegisterClient(clientID) {
		c.analyzer.UnRegisterPredicate(uid)
	}
	if ib, ok := c.inboxes.LoadAndDelete(clientID); ok {
		ib.close()
	}
}

// QueryResults returns the keys currently matching a query, addressed by client query
// id or server query id.
func (c *Cache) QueryResults(id string) ([]string, error) {
	uid, ok := c.queries.Resolve(id)
	if !ok {
		uid = id
	}
	if !c.queries.Exists(uid) {
		return nil, fmt.Errorf("%w: %s", cq.ErrQueryNotFound, id)
	}
	return c.analyzer.Search(uid), nil
}

// Queries returns the server queries.
func (c *Cache) Queries() []*cq.ContinuousQuery {
	return c.queries.Queries()
}

// --------------------------------------------------------------------------
// Notifications
// --------------------------------------------------------------------------

// Poll returns up to max buffered notifications of a client, all when max is not
// positive.
func (c *Cache) Poll(clientID string, max int) []ClientNotification {
	ib, ok := c.inboxes.Load(clientID)
	if !ok {
		return nil
	}
	return ib.poll(max)
}

// Subscribe returns the notification channel of a client. It is closed when the client
// disconnects or the cache is closed.
func (c *Cache) Subscribe(clientID string) <-chan ClientNotification {
	return c.inbox(clientID).ch
}

// OnQueryChanged fans a query change out to the subscribed clients. A client receives
// one notification per change listing all of its affected client queries, with the
// largest data filter among them.
func (c *Cache) OnQueryChanged(n *cq.QueryChangeNotification) error {
	type pending struct {
		ids    []string
		filter cq.DataFilter
	}
	byClient := make(map[string]*pending)
	for _, uid := range n.QueryIDs {
		for clientID, target := range c.queries.GetTargets(uid, n.ChangeType) {
			p := byClient[clientID]
			if p == nil {
				p = &pending{filter: target.Filter}
				byClient[clientID] = p
			}
			p.ids = append(p.ids, target.ClientQueryIDs...)
			if target.Filter > p.filter {
				p.filter = target.Filter
			}
		}
	}

	var failed []string
	for clientID, p := range byClient {
		sort.Strings(p.ids)
		cn := ClientNotification{
			ClientID:       clientID,
			ClientQueryIDs: p.ids,
			Key:            n.Key,
			ChangeType:     n.ChangeType,
		}
		if n.Context != nil {
			cn.EventID = n.Context.ID.UniqueID
		}
		if p.filter >= cq.FilterMetadata {
			cn.Meta = n.Meta
		}
		if p.filter >= cq.FilterData && n.Context != nil {
			cn.Value = n.Context.Payload
		}

		if fwd := c.forward.Load(); fwd != nil {
			(*fwd)(cn)
		}

		ib, ok := c.inboxes.Load(clientID)
		if !ok || !ib.push(cn) {
			dropped.Inc()
			failed = append(failed, clientID)
			continue
		}
		delivered.Inc()
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return fmt.Errorf("inbox full or gone for client(s) %v", failed)
	}
	return nil
}

// Forwarder receives every client notification the cache produces, e.g. to mirror it
// to other nodes.
type Forwarder func(ClientNotification)

// SetForwarder installs fwd, nil removes the current forwarder.
func (c *Cache) SetForwarder(fwd Forwarder) {
	if fwd == nil {
		c.forward.Store(nil)
		return
	}
	c.forward.Store(&fwd)
}

// Deliver puts a notification produced elsewhere into the inbox of its client, creating
// the inbox if needed. Delivered notifications are not forwarded again.
func (c *Cache) Deliver(n ClientNotification) bool {
	if c.closed.Load() {
		return false
	}
	if !c.inbox(n.ClientID).push(n) {
		dropped.Inc()
		return false
	}
	delivered.Inc()
	return true
}
