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

var rangeRetransmissions = metrics.GetOrCreateCounter(`dcache_gcs_retransmissions_total{kind="range"}`)

// Address identifies a group member.
type Address string

// RangeCommand asks a sender to retransmit the sequence numbers first to last.
type RangeCommand interface {
	Retransmit(first, last uint64, sender Address)
}

// RangeCommandFunc adapts a function to RangeCommand.
type RangeCommandFunc func(first, last uint64, sender Address)

func (f RangeCommandFunc) Retransmit(first, last uint64, sender Address) { f(first, last, sender) }

// seqRange is a closed range of sequence numbers.
type seqRange struct {
	low, high uint64
}

// rangeEntry is one scheduled range of missing sequence numbers. The range shrinks and
// splits into disjoint sub-ranges as numbers are removed.
type rangeEntry struct {
	r         *Retransmitter
	low, high uint64
	ranges    []seqRange
	interval  Interval
	cancelled atomic.Bool
}

func (e *rangeEntry) NextInterval() time.Duration { return e.interval.Next() }

func (e *rangeEntry) Cancelled() bool { return e.cancelled.Load() }

func (e *rangeEntry) Run() {
	e.r.mu.Lock()
	ranges := append([]seqRange(nil), e.ranges...)
	sender, cmd := e.r.sender, e.r.cmd
	e.r.mu.Unlock()

	for _, rg := range ranges {
		if e.Cancelled() {
			return
		}
		rangeRetransmissions.Inc()
		cmd.Retransmit(rg.low, rg.high, sender)
	}
}

func (e *rangeEntry) contains(seqno uint64) bool {
	return seqno >= e.low && seqno <= e.high
}

// remove drops seqno from the sub-ranges and reports whether it was outstanding.
func (e *rangeEntry) remove(seqno uint64) bool {
	for i, rg := range e.ranges {
		if seqno < rg.low || seqno > rg.high {
			continue
		}
		switch {
		case rg.low == rg.high:
			e.ranges = append(e.ranges[:i], e.ranges[i+1:]...)
		case seqno == rg.low:
			e.ranges[i].low++
		case seqno == rg.high:
			e.ranges[i].high--
		default:
			split := seqRange{low: seqno + 1, high: rg.high}
			e.ranges[i].high = seqno - 1
			e.ranges = append(e.ranges[:i+1], append([]seqRange{split}, e.ranges[i+1:]...)...)
		}
		if len(e.ranges) > 0 {
			e.low = e.ranges[0].low
			e.high = e.ranges[len(e.ranges)-1].high
		} else {
			e.low, e.high = 1, 0
		}
		return true
	}
	return false
}

func (e *rangeEntry) size() int {
	var n int
	for _, rg := range e.ranges {
		n += int(rg.high - rg.low + 1)
	}
	return n
}

// Retransmitter keeps the ranges of sequence numbers missing from one sender and asks
// for them on every timeout until they are removed.
//
// Thread-safety: all methods are safe for concurrent use.
type Retransmitter struct {
	mu       sync.Mutex
	sender   Address
	cmd      RangeCommand
	sched    *TimeScheduler
	interval Interval
	entries  []*rangeEntry
}

// NewRetransmitter creates a retransmitter for sender. interval is copied for every range.
func NewRetransmitter(sender Address, cmd RangeCommand, sched *TimeScheduler, interval Interval) *Retransmitter {
	if interval == nil {
		interval = DefaultInterval()
	}
	return &Retransmitter{
		sender:   sender,
		cmd:      cmd,
		sched:    sched,
		interval: interval,
	}
}

// Add schedules retransmission of first to last.
func (r *Retransmitter) Add(first, last uint64) {
	if first > last {
		log.Errorf("retransmitter %s: invalid range [%d,%d]", r.sender, first, last)
		return
	}
	e := &rangeEntry{
		r:        r,
		low:      first,
		high:     last,
		ranges:   []seqRange{{low: first, high: last}},
		interval: r.interval.Copy(),
	}

	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()

	r.sched.Schedule(e)
}

// Remove marks seqno as received. A range that becomes empty is cancelled and dropped.
func (r *Retransmitter) Remove(seqno uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if !e.contains(seqno) || !e.remove(seqno) {
			continue
		}
		if len(e.ranges) == 0 {
			e.cancelled.Store(true)
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
		}
		return
	}
}

// Reset cancels and drops all ranges.
func (r *Retransmitter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.cancelled.Store(true)
	}
	r.entries = nil
}

// Stop is Reset. The shared scheduler keeps running.
func (r *Retransmitter) Stop() { r.Reset() }

// Size returns the number of outstanding sequence numbers.
func (r *Retransmitter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, e := range r.entries {
		n += e.size()
	}
	return n
}

// Missing returns the outstanding sequence numbers in ascending order.
func (r *Retransmitter) Missing() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var seqnos []uint64
	for _, e := range r.entries {
		for _, rg := range e.ranges {
			for s := rg.low; s <= rg.high; s++ {
				seqnos = append(seqnos, s)
			}
		}
	}
	sort.Slice(seqnos, func(i, j int) bool { return seqnos[i] < seqnos[j] })
	return seqnos
}

func (r *Retransmitter) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:", r.sender)
	for _, e := range r.entries {
		fmt.Fprintf(&sb, " [%d,%d]", e.low, e.high)
		for _, rg := range e.ranges {
			fmt.Fprintf(&sb, "(%d-%d)", rg.low, rg.high)
		}
	}
	return sb.String()
}
