package gcs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	seqno uint64
	dest  Address
}

type messageRecorder struct {
	mu   sync.Mutex
	sent []sent
}

func (r *messageRecorder) Retransmit(seqno uint64, _ []byte, dest Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{seqno, dest})
}

func (r *messageRecorder) take() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sent
	r.sent = nil
	return s
}

func TestAckSenderWindowSlidingWindow(t *testing.T) {
	rec := &messageRecorder{}
	w := NewAckSenderWindow("B", rec, NewTimeScheduler(), NewStaticInterval(time.Hour), WindowOptions{WindowSize: 2, MinThreshold: 1})

	assert.True(t, w.Add(1, []byte("m1")))
	assert.True(t, w.Add(2, []byte("m2")))
	assert.False(t, w.Add(3, []byte("m3")), "third message is queued")
	assert.Equal(t, 2, w.Size())
	assert.Equal(t, 1, w.QueueLen())
	assert.Empty(t, rec.take())

	w.Ack(1)
	assert.Equal(t, []uint64{2, 3}, w.Pending())
	assert.Equal(t, 0, w.QueueLen())
	assert.Equal(t, []sent{{3, "B"}}, rec.take(), "released message is transmitted")
}

func TestAckSenderWindowHysteresis(t *testing.T) {
	rec := &messageRecorder{}
	w := NewAckSenderWindow("B", rec, NewTimeScheduler(), NewStaticInterval(time.Hour), WindowOptions{WindowSize: 3, MinThreshold: 1})

	for seqno := uint64(1); seqno <= 5; seqno++ {
		w.Add(seqno, nil)
	}
	assert.Equal(t, 3, w.Size())
	assert.Equal(t, 2, w.QueueLen())

	w.Ack(1)
	assert.Equal(t, 2, w.Size(), "still above the threshold")
	assert.Equal(t, 2, w.QueueLen())
	assert.False(t, w.Add(6, nil), "blocked window keeps queueing")

	w.Ack(2)
	assert.Equal(t, []uint64{3, 4, 5}, w.Pending())
	assert.Equal(t, 1, w.QueueLen())
	assert.Equal(t, []sent{{4, "B"}, {5, "B"}}, rec.take())
}

func TestAckSenderWindowCumulativeAckAndRetransmit(t *testing.T) {
	s := NewTimeScheduler()
	s.Start()
	defer s.Stop()

	rec := &messageRecorder{}
	w := NewAckSenderWindow("B", rec, s, NewStaticInterval(5*time.Millisecond), WindowOptions{})
	for seqno := uint64(1); seqno <= 4; seqno++ {
		assert.True(t, w.Add(seqno, nil))
	}
	w.Ack(3)
	assert.Equal(t, []uint64{4}, w.Pending())

	var retransmitted []sent
	require.Eventually(t, func() bool {
		retransmitted = append(retransmitted, rec.take()...)
		return len(retransmitted) > 0
	}, time.Second, time.Millisecond)
	for _, m := range retransmitted {
		assert.Equal(t, uint64(4), m.seqno)
	}

	w.Reset()
	assert.Equal(t, 0, w.Size())
}

func TestAckMcastSenderWindowSuspicion(t *testing.T) {
	rec := &messageRecorder{}
	var mu sync.Mutex
	suspected := map[Address]bool{}
	isSuspected := func(a Address) bool {
		mu.Lock()
		defer mu.Unlock()
		return suspected[a]
	}
	w := NewAckMcastSenderWindow(rec, NewTimeScheduler(), NewStaticInterval(time.Hour), isSuspected)

	for seqno := uint64(5); seqno <= 10; seqno++ {
		w.Add(seqno, nil, []Address{"A", "B"})
	}
	w.Add(11, nil, []Address{"A"})
	assert.Equal(t, 7, w.Size())

	w.Ack(5, "A")
	assert.Equal(t, 7, w.Size(), "B has not acked 5")
	assert.Equal(t, []Address{"B"}, w.Pending(5))

	w.Suspect("A")
	assert.Equal(t, 6, w.Size(), "11 only waited for A")
	assert.Nil(t, w.Pending(11))
	assert.Equal(t, []Address{"B"}, w.Pending(6))

	for seqno := uint64(5); seqno <= 10; seqno++ {
		w.Ack(seqno, "B")
	}
	assert.Equal(t, 0, w.Size())
	assert.True(t, w.WaitUntilAllAcksReceived(time.Millisecond))
}

func TestAckMcastSenderWindowWait(t *testing.T) {
	var mu sync.Mutex
	suspected := map[Address]bool{}
	isSuspected := func(a Address) bool {
		mu.Lock()
		defer mu.Unlock()
		return suspected[a]
	}
	w := NewAckMcastSenderWindow(&messageRecorder{}, NewTimeScheduler(), NewStaticInterval(time.Hour), isSuspected)
	w.Add(1, nil, []Address{"A", "B"})
	w.Add(2, nil, []Address{"C"})

	assert.False(t, w.WaitUntilAllAcksReceived(10*time.Millisecond))

	mu.Lock()
	suspected["C"] = true
	mu.Unlock()

	go func() {
		time.Sleep(5 * time.Millisecond)
		w.Ack(1, "A")
		w.Ack(1, "B")
	}()
	assert.True(t, w.WaitUntilAllAcksReceived(time.Second), "suspected C is pruned, A and B ack")
	assert.Equal(t, 0, w.Size())
}

func TestAckMcastSenderWindowRetransmitsToMissing(t *testing.T) {
	s := NewTimeScheduler()
	s.Start()
	defer s.Stop()

	rec := &messageRecorder{}
	w := NewAckMcastSenderWindow(rec, s, NewStaticInterval(5*time.Millisecond), nil)
	w.Add(1, nil, []Address{"A", "B"})
	w.Ack(1, "A")

	var retransmitted []sent
	require.Eventually(t, func() bool {
		retransmitted = append(retransmitted, rec.take()...)
		return len(retransmitted) > 0
	}, time.Second, time.Millisecond)
	for _, m := range retransmitted {
		assert.Equal(t, Address("B"), m.dest)
	}
	assert.Equal(t, "1: 1/2 acks\n", w.String())

	w.Reset()
	assert.Equal(t, 0, w.Size())
	assert.Empty(t, w.String())
}
