package gcs

import (
	"sort"
	"sync"

	"github.com/VictoriaMetrics/metrics"
)

var (
	unicastRetransmissions = metrics.GetOrCreateCounter(`dcache_gcs_retransmissions_total{kind="unicast"}`)
	windowQueued           = metrics.GetOrCreateCounter(`dcache_gcs_window_queued_total`)
)

// MessageCommand retransmits one message to one destination. AckSenderWindow also uses it
// for the first transmission of messages released from its queue.
type MessageCommand interface {
	Retransmit(seqno uint64, msg []byte, dest Address)
}

// MessageCommandFunc adapts a function to MessageCommand.
type MessageCommandFunc func(seqno uint64, msg []byte, dest Address)

func (f MessageCommandFunc) Retransmit(seqno uint64, msg []byte, dest Address) { f(seqno, msg, dest) }

// WindowOptions configures the sliding window of an AckSenderWindow. A zero WindowSize
// disables admission control.
type WindowOptions struct {
	WindowSize   int
	MinThreshold int
}

type queuedMessage struct {
	seqno uint64
	msg   []byte
}

// AckSenderWindow keeps the unacknowledged unicast messages to one destination and
// retransmits them until they are acked.
//
// With a window, at most WindowSize messages are pending. Further messages are queued.
// Once the window is full it stays blocked until the pending count drops to MinThreshold,
// then queued messages are released until it is full again.
//
// Thread-safety: all methods are safe for concurrent use.
type AckSenderWindow struct {
	mu            sync.Mutex
	dest          Address
	cmd           MessageCommand
	opts          WindowOptions
	pending       map[uint64][]byte
	queue         []queuedMessage
	blocked       bool
	retransmitter *Retransmitter
}

// NewAckSenderWindow creates a window for dest.
func NewAckSenderWindow(dest Address, cmd MessageCommand, sched *TimeScheduler, interval Interval, opts WindowOptions) *AckSenderWindow {
	if opts.WindowSize > 0 && (opts.MinThreshold < 0 || opts.MinThreshold >= opts.WindowSize) {
		opts.MinThreshold = opts.WindowSize / 2
	}
	w := &AckSenderWindow{
		dest:    dest,
		cmd:     cmd,
		opts:    opts,
		pending: make(map[uint64][]byte),
	}
	w.retransmitter = NewRetransmitter(dest, RangeCommandFunc(w.retransmit), sched, interval)
	return w
}

func (w *AckSenderWindow) retransmit(first, last uint64, _ Address) {
	for seqno := first; seqno <= last; seqno++ {
		w.mu.Lock()
		msg, ok := w.pending[seqno]
		w.mu.Unlock()
		if !ok {
			continue
		}
		unicastRetransmissions.Inc()
		w.cmd.Retransmit(seqno, msg, w.dest)
	}
}

// Add registers a sent message. It returns false when the window is full and the message
// was queued instead; the caller must not transmit a queued message, it is sent through
// the command once released.
func (w *AckSenderWindow) Add(seqno uint64, msg []byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.opts.WindowSize > 0 {
		if !w.blocked && len(w.pending) >= w.opts.WindowSize {
			w.blocked = true
		}
		if w.blocked || len(w.queue) > 0 {
			windowQueued.Inc()
			w.queue = append(w.queue, queuedMessage{seqno: seqno, msg: msg})
			return false
		}
	}
	w.addLocked(seqno, msg)
	return true
}

func (w *AckSenderWindow) addLocked(seqno uint64, msg []byte) {
	if _, ok := w.pending[seqno]; ok {
		return
	}
	w.pending[seqno] = msg
	w.retransmitter.Add(seqno, seqno)
}

// Ack removes all pending messages up to and including seqno and releases queued
// messages if the window drained far enough.
func (w *AckSenderWindow) Ack(seqno uint64) {
	var released []queuedMessage

	w.mu.Lock()
	for s := range w.pending {
		if s <= seqno {
			delete(w.pending, s)
			w.retransmitter.Remove(s)
		}
	}
	if w.opts.WindowSize > 0 {
		if w.blocked && len(w.pending) <= w.opts.MinThreshold {
			w.blocked = false
		}
		for !w.blocked && len(w.queue) > 0 && len(w.pending) < w.opts.WindowSize {
			m := w.queue[0]
			w.queue = w.queue[1:]
			w.addLocked(m.seqno, m.msg)
			released = append(released, m)
		}
		if len(w.queue) > 0 {
			w.blocked = true
		}
	}
	w.mu.Unlock()

	for _, m := range released {
		w.cmd.Retransmit(m.seqno, m.msg, w.dest)
	}
}

// Pending returns the sequence numbers awaiting an ack, ascending.
func (w *AckSenderWindow) Pending() []uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	seqnos := make([]uint64, 0, len(w.pending))
	for s := range w.pending {
		seqnos = append(seqnos, s)
	}
	sort.Slice(seqnos, func(i, j int) bool { return seqnos[i] < seqnos[j] })
	return seqnos
}

// Size returns the number of messages awaiting an ack.
func (w *AckSenderWindow) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// QueueLen returns the number of messages held back by the window.
func (w *AckSenderWindow) QueueLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Reset drops all pending and queued messages and stops their retransmission.
func (w *AckSenderWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = make(map[uint64][]byte)
	w.queue = nil
	w.blocked = false
	w.retransmitter.Reset()
}
