package server

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/gcs"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/transport/tcp"
	"github.com/VictoriaMetrics/metrics"
)

var (
	relayedTotal  = metrics.NewCounter(`dcache_relay_notifications_sent_total`)
	relayDropped  = metrics.NewCounter(`dcache_relay_notifications_dropped_total`)
	relayReceived = metrics.NewCounter(`dcache_relay_notifications_received_total`)
)

const (
	relayBuffer        = 4096
	relayCheckInterval = 5 * time.Second
)

// relayMessage is the payload multicast to the peers for one client notification.
type relayMessage struct {
	Shard        uint64                   `json:"shard"`
	Notification cache.ClientNotification `json:"notification"`
}

// notificationRelay mirrors the client notifications of local shards to the peer group
// and delivers the notifications of peers into the local inboxes. Outgoing messages are
// multicast in production order by a single worker, unreachable peers are suspected
// until they can be dialed again.
type notificationRelay struct {
	group     *gcs.Group
	transport *tcp.PeerTransport
	members   []gcs.Address
	lookup    func(shard uint64) *cache.Cache

	queue chan relayMessage
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// newNotificationRelay starts the peer transport and the relay worker.
func newNotificationRelay(cfg common.PeerConfig, lookup func(uint64) *cache.Cache) (*notificationRelay, error) {
	transport := tcp.NewPeerTransport(cfg.Endpoint, tcp.DefaultOptions())
	r := &notificationRelay{
		transport: transport,
		lookup:    lookup,
		queue:     make(chan relayMessage, relayBuffer),
		stop:      make(chan struct{}),
	}
	for _, m := range cfg.Members {
		r.members = append(r.members, gcs.Address(m))
	}
	transport.RegisterHandler(r.receive)
	if err := transport.Start(); err != nil {
		return nil, err
	}

	first := time.Duration(cfg.RetransmitMillisecond) * time.Millisecond
	if first <= 0 {
		first = 100 * time.Millisecond
	}
	r.group = gcs.NewGroup(transport.Local(), transport, gcs.GroupOptions{
		Interval: gcs.NewExponentialInterval(first, 16*first),
	})
	transport.SetAckHandler(r.group)

	r.wg.Add(1)
	go r.run()
	Logger.Infof("relaying client notifications to %d peer(s)", len(r.members))
	return r, nil
}

// forwarder returns the cache forwarder of a shard.
func (r *notificationRelay) forwarder(shard uint64) cache.Forwarder {
	return func(n cache.ClientNotification) {
		select {
		case r.queue <- relayMessage{Shard: shard, Notification: n}:
		default:
			relayDropped.Inc()
		}
	}
}

func (r *notificationRelay) run() {
	defer r.wg.Done()
	ticker := time.NewTicker(relayCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.checkMembers()
		case msg := <-r.queue:
			data, err := json.Marshal(msg)
			if err != nil {
				Logger.Errorf("failed to encode notification for %s: %v", msg.Notification.ClientID, err)
				continue
			}
			if _, err := r.group.Multicast(data, r.members); err != nil {
				Logger.Warningf("failed to relay notification: %v", err)
				continue
			}
			relayedTotal.Inc()
		}
	}
}

// checkMembers suspects unreachable peers, pending messages to them are dropped.
func (r *notificationRelay) checkMembers() {
	for _, m := range r.members {
		reachable := r.transport.Reachable(m)
		switch suspected := r.group.IsSuspected(m); {
		case !reachable && !suspected:
			Logger.Warningf("peer %s is unreachable, suspecting it", m)
			r.group.Suspect(m)
		case reachable && suspected:
			Logger.Infof("peer %s is reachable again", m)
			r.group.Unsuspect(m)
		}
	}
}

// receive delivers a notification relayed by a peer.
func (r *notificationRelay) receive(from gcs.Address, data []byte) {
	var msg relayMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		Logger.Warningf("invalid relay message from %s: %v", from, err)
		return
	}
	c := r.lookup(msg.Shard)
	if c == nil {
		Logger.Debugf("no local shard %d for notification from %s", msg.Shard, from)
		return
	}
	if c.Deliver(msg.Notification) {
		relayReceived.Inc()
	}
}

// Close stops the worker, the group and the transport.
func (r *notificationRelay) Close() {
	r.once.Do(func() {
		close(r.stop)
		r.wg.Wait()
		r.group.Close()
		if err := r.transport.Close(); err != nil {
			Logger.Debugf("closing peer transport: %v", err)
		}
	})
}
