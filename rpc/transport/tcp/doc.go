// Package tcp carries the messages of a gcs.Group between dcache servers over plain TCP
// connections. It implements gcs.Transport and routes the acknowledgements it receives
// back to the group, which retransmits everything that stays unacknowledged.
//
// Every frame starts with a fixed 16 byte header (kind, flags, seqno, sender address
// length, payload length) followed by the sender address and the payload. A node sends
// data frames on one outgoing connection per peer and reads the ack frames of that peer
// from the same connection. Incoming data frames are deduplicated per sender and
// sequence space, so a retransmitted message is delivered once but acked every time.
//
// Key Components:
//
//   - PeerTransport: listener, outgoing connections and duplicate filter of one node
//
//   - AckHandler: receiver of acknowledgements, usually a *gcs.Group
//
// Usage:
//
//	t := tcp.NewPeerTransport("node-1:7070", tcp.DefaultOptions())
//	t.RegisterHandler(func(from gcs.Address, msg []byte) { ... })
//	if err := t.Start(); err != nil {
//		return err
//	}
//	group := gcs.NewGroup(t.Local(), t, gcs.GroupOptions{})
//	t.SetAckHandler(group)
package tcp
