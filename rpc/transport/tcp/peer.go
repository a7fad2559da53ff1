package tcp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCache/lib/gcs"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	Logger = logger.GetLogger("transport/peer")

	framesSent     = metrics.NewCounter(`dcache_peer_frames_sent_total`)
	framesReceived = metrics.NewCounter(`dcache_peer_frames_received_total`)
	duplicates     = metrics.NewCounter(`dcache_peer_duplicates_total`)
)

// AckHandler consumes acknowledgements, implemented by *gcs.Group.
type AckHandler interface {
	HandleAck(from gcs.Address, seqno uint64, multicast bool)
}

// MessageHandler is called once per received message, duplicates are filtered.
type MessageHandler func(from gcs.Address, msg []byte)

// Options tunes the connections of a PeerTransport.
type Options struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// KeepAlive enables TCP keep-alive with this period when > 0
	KeepAlive time.Duration
}

// DefaultOptions returns the options used for zero values.
func DefaultOptions() Options {
	return Options{
		DialTimeout:  2 * time.Second,
		WriteTimeout: 5 * time.Second,
		KeepAlive:    30 * time.Second,
	}
}

// PeerTransport carries the messages of a gcs.Group over TCP. Data frames are written on
// an outgoing connection per destination, the receiver answers with an ack frame on the
// same connection which is routed to the AckHandler. A broken connection is dropped and
// redialed on the next send, retransmission of the group covers lost frames.
//
// Thread-safety: all methods are safe for concurrent use.
type PeerTransport struct {
	local    gcs.Address
	endpoint string
	opts     Options

	acks    atomic.Pointer[AckHandler]
	handler atomic.Pointer[MessageHandler]

	outgoing *xsync.MapOf[gcs.Address, *peerConn]
	received *xsync.MapOf[logKey, *receiveLog]

	mu       sync.Mutex
	listener net.Listener
	incoming map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewPeerTransport creates a transport listening on endpoint. endpoint is also the
// address peers know this node by, unless its port is 0 and Start picks one.
func NewPeerTransport(endpoint string, opts Options) *PeerTransport {
	def := DefaultOptions()
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = def.DialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	return &PeerTransport{
		local:    gcs.Address(endpoint),
		endpoint: endpoint,
		opts:     opts,
		outgoing: xsync.NewMapOf[gcs.Address, *peerConn](),
		received: xsync.NewMapOf[logKey, *receiveLog](),
		incoming: make(map[net.Conn]struct{}),
	}
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

// SetAckHandler routes received acks to h.
func (t *PeerTransport) SetAckHandler(h AckHandler) {
	t.acks.Store(&h)
}

// RegisterHandler sets the handler of received messages.
func (t *PeerTransport) RegisterHandler(h MessageHandler) {
	t.handler.Store(&h)
}

// Local returns the address this node sends as its identity.
func (t *PeerTransport) Local() gcs.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

// --------------------------------------------------------------------------
// Server Side
// --------------------------------------------------------------------------

// Start binds the endpoint and accepts peer connections in the background.
func (t *PeerTransport) Start() error {
	ln, err := net.Listen("tcp", t.endpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", t.endpoint, err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = ln.Close()
		return errors.New("transport is closed")
	}
	t.listener = ln
	if _, port, err := net.SplitHostPort(t.endpoint); err == nil && port == "0" {
		t.local = gcs.Address(ln.Addr().String())
	}
	t.mu.Unlock()

	Logger.Infof("peer transport listening on %s", ln.Addr())

	t.wg.Add(1)
	go t.acceptLoop(ln)
	return nil
}

func (t *PeerTransport) acceptLoop(ln net.Listener) {
	defer t.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if t.isClosed() {
				return
			}
			Logger.Warningf("accept failed: %v", err)
			continue
		}
		if !t.track(conn) {
			_ = conn.Close()
			return
		}
		t.tune(conn)
		t.wg.Add(1)
		go t.handleConnection(conn)
	}
}

// handleConnection reads data frames of one peer, delivers new messages and acks
// every frame, duplicates included.
func (t *PeerTransport) handleConnection(conn net.Conn) {
	defer t.wg.Done()
	defer t.untrack(conn)

	buf := make([]byte, headerSize)
	for {
		f, err := readFrame(conn, buf)
		if err != nil {
			if !t.isClosed() && !errors.Is(err, net.ErrClosed) {
				Logger.Debugf("connection from %s closed: %v", conn.RemoteAddr(), err)
			}
			return
		}
		if f.kind != frameData {
			Logger.Warningf("unexpected frame kind %d from %s", f.kind, f.from)
			continue
		}
		framesReceived.Inc()

		key := logKey{from: f.from, multicast: f.multicast}
		rl, _ := t.received.LoadOrCompute(key, newReceiveLog)
		if rl.receive(f.seqno) {
			if h := t.handler.Load(); h != nil {
				(*h)(f.from, f.data)
			}
		} else {
			duplicates.Inc()
		}

		ack := frame{kind: frameAck, multicast: f.multicast, seqno: f.seqno, from: t.Local()}
		_ = conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
		if err := writeFrame(conn, ack); err != nil {
			Logger.Debugf("failed to ack %d to %s: %v", f.seqno, f.from, err)
			return
		}
	}
}

// --------------------------------------------------------------------------
// Client Side (implements gcs.Transport)
// --------------------------------------------------------------------------

// Send writes a data frame to dest, dialing a connection if there is none.
func (t *PeerTransport) Send(dest gcs.Address, seqno uint64, msg []byte, multicast bool) error {
	if t.isClosed() {
		return errors.New("transport is closed")
	}
	pc, err := t.connection(dest)
	if err != nil {
		return err
	}
	f := frame{kind: frameData, multicast: multicast, seqno: seqno, from: t.Local(), data: msg}
	if err := pc.write(f, t.opts.WriteTimeout); err != nil {
		t.drop(dest, pc)
		return fmt.Errorf("failed to send to %s: %w", dest, err)
	}
	framesSent.Inc()
	return nil
}

func (t *PeerTransport) connection(dest gcs.Address) (*peerConn, error) {
	if pc, ok := t.outgoing.Load(dest); ok {
		return pc, nil
	}

	var dialErr error
	pc, ok := t.outgoing.Compute(dest, func(old *peerConn, loaded bool) (*peerConn, bool) {
		if loaded {
			return old, false
		}
		conn, err := net.DialTimeout("tcp", string(dest), t.opts.DialTimeout)
		if err != nil {
			dialErr = err
			return nil, true
		}
		t.tune(conn)
		pc := &peerConn{conn: conn}
		t.wg.Add(1)
		go t.readAcks(dest, pc)
		return pc, false
	})
	if !ok {
		return nil, fmt.Errorf("failed to connect to %s: %w", dest, dialErr)
	}
	return pc, nil
}

// Reachable reports whether a connection to dest exists or can be dialed.
func (t *PeerTransport) Reachable(dest gcs.Address) bool {
	if t.isClosed() {
		return false
	}
	_, err := t.connection(dest)
	return err == nil
}

// readAcks routes the ack frames of an outgoing connection until it breaks.
func (t *PeerTransport) readAcks(dest gcs.Address, pc *peerConn) {
	defer t.wg.Done()
	defer t.drop(dest, pc)

	buf := make([]byte, headerSize)
	for {
		f, err := readFrame(pc.conn, buf)
		if err != nil {
			return
		}
		if f.kind != frameAck {
			continue
		}
		if h := t.acks.Load(); h != nil {
			(*h).HandleAck(dest, f.seqno, f.multicast)
		}
	}
}

func (t *PeerTransport) drop(dest gcs.Address, pc *peerConn) {
	t.outgoing.Compute(dest, func(old *peerConn, loaded bool) (*peerConn, bool) {
		return old, !loaded || old == pc
	})
	_ = pc.conn.Close()
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Close stops accepting, closes every connection and waits for the goroutines.
func (t *PeerTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	for conn := range t.incoming {
		_ = conn.Close()
	}
	t.mu.Unlock()

	t.outgoing.Range(func(dest gcs.Address, pc *peerConn) bool {
		t.drop(dest, pc)
		return true
	})
	t.wg.Wait()
	return err
}

func (t *PeerTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *PeerTransport) track(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.incoming[conn] = struct{}{}
	return true
}

func (t *PeerTransport) untrack(conn net.Conn) {
	t.mu.Lock()
	delete(t.incoming, conn)
	t.mu.Unlock()
	_ = conn.Close()
}

// tune applies the socket options of the transport to a TCP connection.
func (t *PeerTransport) tune(conn net.Conn) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tcpConn.SetNoDelay(true)
	if t.opts.KeepAlive > 0 {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(t.opts.KeepAlive)
	}
}

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// peerConn is an outgoing connection, writes are serialized.
type peerConn struct {
	mu   sync.Mutex
	conn net.Conn
}

func (pc *peerConn) write(f frame, timeout time.Duration) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	_ = pc.conn.SetWriteDeadline(time.Now().Add(timeout))
	return writeFrame(pc.conn, f)
}

type logKey struct {
	from      gcs.Address
	multicast bool
}

// receiveLimit bounds the seqnos remembered above a gap. Beyond it the oldest gap is
// given up, its messages were dropped by the sender, e.g. after a suspicion.
const receiveLimit = 4096

// receiveLog remembers the seqnos received from one sender in one sequence space.
// Everything below next was received, seen holds the seqnos received above a gap.
type receiveLog struct {
	mu   sync.Mutex
	next uint64
	seen map[uint64]struct{}
}

func newReceiveLog() *receiveLog {
	return &receiveLog{next: 1, seen: make(map[uint64]struct{})}
}

// receive records seqno and reports whether it is new.
func (l *receiveLog) receive(seqno uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seqno < l.next {
		return false
	}
	if _, dup := l.seen[seqno]; dup {
		return false
	}
	l.seen[seqno] = struct{}{}
	l.compact()
	for len(l.seen) > receiveLimit {
		lowest := seqno
		for s := range l.seen {
			lowest = min(lowest, s)
		}
		l.next = lowest
		l.compact()
	}
	return true
}

func (l *receiveLog) compact() {
	for {
		if _, ok := l.seen[l.next]; !ok {
			return
		}
		delete(l.seen, l.next)
		l.next++
	}
}
