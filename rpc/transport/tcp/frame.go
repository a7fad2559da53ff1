package tcp

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/ValentinKolb/dCache/lib/gcs"
)

const (
	frameData byte = 1
	frameAck  byte = 2

	flagMulticast byte = 1 << 0

	headerSize = 16

	// maxFrameData bounds the payload a peer may announce
	maxFrameData = 64 << 20
)

// frame is one message between peers. Data frames carry a payload, ack frames
// acknowledge the seqno of a data frame in the same sequence space.
type frame struct {
	kind      byte
	multicast bool
	seqno     uint64
	from      gcs.Address
	data      []byte
}

// writeFrame writes a frame with the format:
// - 1 byte: kind
// - 1 byte: flags
// - 8 bytes: seqno (uint64, big endian)
// - 2 bytes: sender address length (uint16, big endian)
// - 4 bytes: data length (uint32, big endian)
// - sender address, then data
func writeFrame(w io.Writer, f frame) error {
	if len(f.from) > 0xFFFF {
		return fmt.Errorf("sender address too long: %d bytes", len(f.from))
	}
	header := make([]byte, headerSize)
	header[0] = f.kind
	if f.multicast {
		header[1] |= flagMulticast
	}
	binary.BigEndian.PutUint64(header[2:10], f.seqno)
	binary.BigEndian.PutUint16(header[10:12], uint16(len(f.from)))
	binary.BigEndian.PutUint32(header[12:16], uint32(len(f.data)))

	b := net.Buffers{header, []byte(f.from), f.data}
	_, err := b.WriteTo(w)
	return err
}

// readFrame reads one frame. buf is reused for the header, the payload is always a
// fresh slice since handlers may keep it.
func readFrame(r io.Reader, buf []byte) (frame, error) {
	if len(buf) < headerSize {
		buf = make([]byte, headerSize)
	}
	if _, err := io.ReadFull(r, buf[:headerSize]); err != nil {
		return frame{}, err
	}

	f := frame{
		kind:      buf[0],
		multicast: buf[1]&flagMulticast != 0,
		seqno:     binary.BigEndian.Uint64(buf[2:10]),
	}
	if f.kind != frameData && f.kind != frameAck {
		return frame{}, fmt.Errorf("unknown frame kind %d", f.kind)
	}
	fromLen := int(binary.BigEndian.Uint16(buf[10:12]))
	dataLen := binary.BigEndian.Uint32(buf[12:16])
	if dataLen > maxFrameData {
		return frame{}, fmt.Errorf("frame of %d bytes exceeds limit", dataLen)
	}

	body := make([]byte, fromLen+int(dataLen))
	if _, err := io.ReadFull(r, body); err != nil {
		return frame{}, err
	}
	f.from = gcs.Address(body[:fromLen])
	f.data = body[fromLen:]
	return f, nil
}
