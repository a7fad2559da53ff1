package gcs

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wireMessage struct {
	dest      Address
	seqno     uint64
	multicast bool
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []wireMessage
	fail bool
}

func (f *fakeTransport) Send(dest Address, seqno uint64, _ []byte, multicast bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, wireMessage{dest, seqno, multicast})
	if f.fail {
		return errors.New("link down")
	}
	return nil
}

func (f *fakeTransport) count(dest Address, seqno uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, m := range f.sent {
		if m.dest == dest && m.seqno == seqno {
			n++
		}
	}
	return n
}

func TestGroupUnicast(t *testing.T) {
	tr := &fakeTransport{}
	g := NewGroup("self", tr, GroupOptions{Interval: NewStaticInterval(5 * time.Millisecond)})
	defer g.Close()

	first, err := g.Send("B", []byte("a"))
	require.NoError(t, err)
	second, err := g.Send("B", []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(2), second)
	assert.Equal(t, 2, g.Pending("B"))

	g.HandleAck("B", 1, false)
	assert.Equal(t, 1, g.Pending("B"))

	require.Eventually(t, func() bool { return tr.count("B", 2) > 1 }, time.Second, time.Millisecond, "unacked message is retransmitted")

	g.HandleAck("B", 2, false)
	assert.Equal(t, 0, g.Pending("B"))
}

func TestGroupRetransmitsAfterTransportError(t *testing.T) {
	tr := &fakeTransport{fail: true}
	g := NewGroup("self", tr, GroupOptions{Interval: NewStaticInterval(5 * time.Millisecond)})
	defer g.Close()

	_, err := g.Send("B", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return tr.count("B", 1) >= 3 }, time.Second, time.Millisecond)
}

func TestGroupMulticastWithSuspicion(t *testing.T) {
	tr := &fakeTransport{}
	g := NewGroup("self", tr, GroupOptions{Interval: NewStaticInterval(time.Hour)})
	defer g.Close()

	seqno, err := g.Multicast([]byte("event"), []Address{"A", "B", "C"})
	require.NoError(t, err)
	assert.Equal(t, 1, tr.count("C", seqno))

	g.HandleAck("A", seqno, true)
	g.HandleAck("B", seqno, true)
	assert.False(t, g.WaitForMulticastAcks(5*time.Millisecond))

	g.Suspect("C")
	assert.True(t, g.WaitForMulticastAcks(time.Second))

	_, err = g.Send("C", nil)
	assert.ErrorIs(t, err, ErrSuspected)

	next, err := g.Multicast(nil, []Address{"A", "C"})
	require.NoError(t, err)
	assert.Equal(t, 0, tr.count("C", next), "suspected members are skipped")

	g.Unsuspect("C")
	assert.False(t, g.IsSuspected("C"))
}

func TestGroupSuspicionKeepsSequence(t *testing.T) {
	tr := &fakeTransport{}
	g := NewGroup("self", tr, GroupOptions{Interval: NewStaticInterval(time.Hour)})
	defer g.Close()

	for range 2 {
		_, err := g.Send("B", nil)
		require.NoError(t, err)
	}
	g.Suspect("B")
	assert.Equal(t, 0, g.Pending("B"))

	g.Unsuspect("B")
	seqno, err := g.Send("B", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seqno, "numbering continues after rejoin")
	assert.Equal(t, 1, g.Pending("B"))
}

func TestGroupClose(t *testing.T) {
	g := NewGroup("self", &fakeTransport{}, GroupOptions{})
	_, err := g.Send("B", nil)
	require.NoError(t, err)

	g.Close()
	g.Close()
	assert.Equal(t, 0, g.Pending("B"))
	_, err = g.Send("B", nil)
	assert.Error(t, err)
}
