package gcs

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

var multicastRetransmissions = metrics.GetOrCreateCounter(`dcache_gcs_retransmissions_total{kind="multicast"}`)

// mcastEntry is one multicast message with an ack flag per destination.
type mcastEntry struct {
	w         *AckMcastSenderWindow
	seqno     uint64
	msg       []byte
	received  map[Address]bool
	acks      int
	interval  Interval
	cancelled atomic.Bool
}

func (e *mcastEntry) NextInterval() time.Duration { return e.interval.Next() }

func (e *mcastEntry) Cancelled() bool { return e.cancelled.Load() }

func (e *mcastEntry) Run() { e.w.retransmit(e) }

func (e *mcastEntry) done() bool { return e.acks >= len(e.received) }

// AckMcastSenderWindow keeps multicast messages until every destination has acked them.
// Suspected members are removed from all entries, completing entries that only waited for
// them.
//
// Thread-safety: all methods are safe for concurrent use.
type AckMcastSenderWindow struct {
	mu          sync.Mutex
	cmd         MessageCommand
	sched       *TimeScheduler
	interval    Interval
	isSuspected func(Address) bool
	entries     map[uint64]*mcastEntry

	// changed is closed and replaced whenever an entry completes.
	changed chan struct{}
}

// NewAckMcastSenderWindow creates a multicast window. isSuspected reports the membership
// view's suspicion of a member and may be nil.
func NewAckMcastSenderWindow(cmd MessageCommand, sched *TimeScheduler, interval Interval, isSuspected func(Address) bool) *AckMcastSenderWindow {
	if interval == nil {
		interval = DefaultInterval()
	}
	if isSuspected == nil {
		isSuspected = func(Address) bool { return false }
	}
	return &AckMcastSenderWindow{
		cmd:         cmd,
		sched:       sched,
		interval:    interval,
		isSuspected: isSuspected,
		entries:     make(map[uint64]*mcastEntry),
		changed:     make(chan struct{}),
	}
}

func (w *AckMcastSenderWindow) retransmit(e *mcastEntry) {
	w.mu.Lock()
	var dests []Address
	for dest, ok := range e.received {
		if !ok {
			dests = append(dests, dest)
		}
	}
	w.mu.Unlock()
	sort.Slice(dests, func(i, j int) bool { return dests[i] < dests[j] })

	for _, dest := range dests {
		if e.Cancelled() {
			return
		}
		if w.isSuspected(dest) {
			continue
		}
		multicastRetransmissions.Inc()
		w.cmd.Retransmit(e.seqno, e.msg, dest)
	}
}

// Add registers a message sent to dests. Adding a known seqno has no effect.
func (w *AckMcastSenderWindow) Add(seqno uint64, msg []byte, dests []Address) {
	if len(dests) == 0 {
		return
	}
	e := &mcastEntry{
		w:        w,
		seqno:    seqno,
		msg:      msg,
		received: make(map[Address]bool, len(dests)),
		interval: w.interval.Copy(),
	}
	for _, d := range dests {
		e.received[d] = false
	}

	w.mu.Lock()
	if _, ok := w.entries[seqno]; ok {
		w.mu.Unlock()
		return
	}
	w.entries[seqno] = e
	w.mu.Unlock()

	w.sched.Schedule(e)
}

// Ack records the ack of sender for seqno. The entry is removed once all destinations
// acked.
func (w *AckMcastSenderWindow) Ack(seqno uint64, sender Address) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entries[seqno]
	if !ok {
		return
	}
	if got, member := e.received[sender]; !member || got {
		return
	}
	e.received[sender] = true
	e.acks++
	if e.done() {
		w.completeLocked(e)
	}
}

func (w *AckMcastSenderWindow) completeLocked(e *mcastEntry) {
	e.cancelled.Store(true)
	delete(w.entries, e.seqno)
	close(w.changed)
	w.changed = make(chan struct{})
}

// Remove drops member from every entry. Entries that only waited for member complete.
func (w *AckMcastSenderWindow) Remove(member Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeLocked(member)
}

func (w *AckMcastSenderWindow) removeLocked(member Address) {
	for _, e := range w.entries {
		got, ok := e.received[member]
		if !ok {
			continue
		}
		delete(e.received, member)
		if got {
			e.acks--
		}
		if e.done() {
			w.completeLocked(e)
		}
	}
}

// Suspect removes a suspected member, see Remove.
func (w *AckMcastSenderWindow) Suspect(member Address) {
	log.Infof("multicast window: suspecting %s", member)
	w.Remove(member)
}

// WaitUntilAllAcksReceived blocks until no message is pending or timeout elapses.
// Members the membership view suspects are pruned first. It reports whether all
// messages were acked.
func (w *AckMcastSenderWindow) WaitUntilAllAcksReceived(timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	w.mu.Lock()
	w.pruneSuspectedLocked()
	for len(w.entries) > 0 {
		changed := w.changed
		w.mu.Unlock()
		select {
		case <-changed:
		case <-deadline.C:
			w.mu.Lock()
			empty := len(w.entries) == 0
			w.mu.Unlock()
			return empty
		}
		w.mu.Lock()
	}
	w.mu.Unlock()
	return true
}

func (w *AckMcastSenderWindow) pruneSuspectedLocked() {
	suspected := make(map[Address]struct{})
	for _, e := range w.entries {
		for member := range e.received {
			if w.isSuspected(member) {
				suspected[member] = struct{}{}
			}
		}
	}
	for member := range suspected {
		w.removeLocked(member)
	}
}

// Pending returns the destinations that have not acked seqno yet, sorted.
func (w *AckMcastSenderWindow) Pending(seqno uint64) []Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entries[seqno]
	if !ok {
		return nil
	}
	var dests []Address
	for dest, got := range e.received {
		if !got {
			dests = append(dests, dest)
		}
	}
	sort.Slice(dests, func(i, j int) bool { return dests[i] < dests[j] })
	return dests
}

// Size returns the number of messages not acked by all destinations.
func (w *AckMcastSenderWindow) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Reset drops all entries and wakes waiters.
func (w *AckMcastSenderWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.entries {
		w.completeLocked(e)
	}
}

// Stop is Reset. The shared scheduler keeps running.
func (w *AckMcastSenderWindow) Stop() { w.Reset() }

func (w *AckMcastSenderWindow) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	seqnos := make([]uint64, 0, len(w.entries))
	for s := range w.entries {
		seqnos = append(seqnos, s)
	}
	sort.Slice(seqnos, func(i, j int) bool { return seqnos[i] < seqnos[j] })

	var sb strings.Builder
	for _, s := range seqnos {
		e := w.entries[s]
		fmt.Fprintf(&sb, "%d: %d/%d acks\n", s, e.acks, len(e.received))
	}
	return sb.String()
}
