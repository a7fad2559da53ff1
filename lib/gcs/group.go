package gcs

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// ErrSuspected is returned when sending to a suspected member.
var ErrSuspected = errors.New("member is suspected")

// Transport puts one message on the wire. multicast tells the receiver which sequence
// space seqno belongs to.
type Transport interface {
	Send(dest Address, seqno uint64, msg []byte, multicast bool) error
}

// GroupOptions configures a Group.
type GroupOptions struct {
	// Interval is the retransmission backoff, DefaultInterval when nil.
	Interval Interval

	// Window bounds the unacknowledged unicast messages per destination.
	Window WindowOptions
}

type peer struct {
	seq    atomic.Uint64
	window *AckSenderWindow
}

// Group sends reliable unicast and multicast messages to the members of a group. Every
// destination has its own AckSenderWindow and sequence space, multicasts share one
// AckMcastSenderWindow.
//
// Thread-safety: all methods are safe for concurrent use.
type Group struct {
	local     Address
	transport Transport
	opts      GroupOptions
	sched     *TimeScheduler
	peers     *xsync.MapOf[Address, *peer]
	suspected *xsync.MapOf[Address, struct{}]
	mcast     *AckMcastSenderWindow
	mcastSeq  atomic.Uint64
	closed    atomic.Bool
}

// NewGroup creates a group endpoint for local and starts its scheduler.
func NewGroup(local Address, transport Transport, opts GroupOptions) *Group {
	if opts.Interval == nil {
		opts.Interval = DefaultInterval()
	}
	g := &Group{
		local:     local,
		transport: transport,
		opts:      opts,
		sched:     NewTimeScheduler(),
		peers:     xsync.NewMapOf[Address, *peer](),
		suspected: xsync.NewMapOf[Address, struct{}](),
	}
	g.mcast = NewAckMcastSenderWindow(MessageCommandFunc(g.resendMulticast), g.sched, opts.Interval, g.IsSuspected)
	g.sched.Start()
	return g
}

// Local returns the address of this endpoint.
func (g *Group) Local() Address { return g.local }

func (g *Group) peer(dest Address) *peer {
	p, _ := g.peers.LoadOrCompute(dest, func() *peer {
		p := &peer{}
		p.window = NewAckSenderWindow(dest, MessageCommandFunc(g.resendUnicast), g.sched, g.opts.Interval, g.opts.Window)
		return p
	})
	return p
}

func (g *Group) resendUnicast(seqno uint64, msg []byte, dest Address) {
	if err := g.transport.Send(dest, seqno, msg, false); err != nil {
		log.Warningf("retransmit %d to %s: %v", seqno, dest, err)
	}
}

func (g *Group) resendMulticast(seqno uint64, msg []byte, dest Address) {
	if err := g.transport.Send(dest, seqno, msg, true); err != nil {
		log.Warningf("retransmit multicast %d to %s: %v", seqno, dest, err)
	}
}

// Send transmits msg to dest and returns its sequence number. A message held back by the
// window is sent once acks make room. Transport errors are logged, the message is
// retransmitted until acked.
func (g *Group) Send(dest Address, msg []byte) (uint64, error) {
	if g.closed.Load() {
		return 0, fmt.Errorf("group %s is closed", g.local)
	}
	if g.IsSuspected(dest) {
		return 0, fmt.Errorf("%w: %s", ErrSuspected, dest)
	}
	p := g.peer(dest)
	seqno := p.seq.Add(1)
	if p.window.Add(seqno, msg) {
		g.resendUnicast(seqno, msg, dest)
	}
	return seqno, nil
}

// Multicast transmits msg to every unsuspected member of dests.
func (g *Group) Multicast(msg []byte, dests []Address) (uint64, error) {
	if g.closed.Load() {
		return 0, fmt.Errorf("group %s is closed", g.local)
	}
	var live []Address
	for _, d := range dests {
		if !g.IsSuspected(d) {
			live = append(live, d)
		}
	}
	seqno := g.mcastSeq.Add(1)
	g.mcast.Add(seqno, msg, live)
	for _, d := range live {
		g.resendMulticast(seqno, msg, d)
	}
	return seqno, nil
}

// HandleAck processes an acknowledgement received from a member.
func (g *Group) HandleAck(from Address, seqno uint64, multicast bool) {
	if multicast {
		g.mcast.Ack(seqno, from)
		return
	}
	if p, ok := g.peers.Load(from); ok {
		p.window.Ack(seqno)
	}
}

// Suspect marks member as suspected. Its unicast window is reset and it is pruned from
// pending multicasts. The member keeps its sequence space, so messages sent after
// Unsuspect continue where the numbering stopped.
func (g *Group) Suspect(member Address) {
	g.suspected.Store(member, struct{}{})
	if p, ok := g.peers.Load(member); ok {
		p.window.Reset()
	}
	g.mcast.Suspect(member)
}

// Unsuspect clears the suspicion of a member, e.g. after it rejoined.
func (g *Group) Unsuspect(member Address) {
	g.suspected.Delete(member)
}

// IsSuspected reports whether member is suspected.
func (g *Group) IsSuspected(member Address) bool {
	_, ok := g.suspected.Load(member)
	return ok
}

// Pending returns the number of unacknowledged unicast messages to dest.
func (g *Group) Pending(dest Address) int {
	if p, ok := g.peers.Load(dest); ok {
		return p.window.Size()
	}
	return 0
}

// WaitForMulticastAcks blocks until all multicasts are acked or timeout elapses.
func (g *Group) WaitForMulticastAcks(timeout time.Duration) bool {
	return g.mcast.WaitUntilAllAcksReceived(timeout)
}

// Close stops retransmission and drops all windows.
func (g *Group) Close() {
	if !g.closed.CompareAndSwap(false, true) {
		return
	}
	g.peers.Range(func(_ Address, p *peer) bool {
		p.window.Reset()
		return true
	})
	g.peers.Clear()
	g.mcast.Stop()
	g.sched.Stop()
}
