package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dCache/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasKey   byte = 1 << 0
	hasID    byte = 1 << 1
	hasCount byte = 1 << 2
	hasValue byte = 1 << 3
	hasOk    byte = 1 << 4
	hasErr   byte = 1 << 5
	hasCode  byte = 1 << 6
	hasMeta  byte = 1 << 7
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, b.sizeBytes(msg))

	// Write message type
	result[0] = byte(msg.MsgType)

	var flags byte = 0
	pos := 2 // Start after MsgType and flags

	if msg.Key != "" {
		flags |= hasKey
		pos = putBytes(result, pos, []byte(msg.Key))
	}
	if msg.ID != "" {
		flags |= hasID
		pos = putBytes(result, pos, []byte(msg.ID))
	}
	if msg.Count > 0 {
		flags |= hasCount
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.Count)
		pos += 8
	}
	if msg.Value != nil {
		flags |= hasValue
		pos = putBytes(result, pos, msg.Value)
	}
	if msg.Ok {
		flags |= hasOk
		result[pos] = 1
		pos += 1
	}
	if msg.Err != "" {
		flags |= hasErr
		pos = putBytes(result, pos, []byte(msg.Err))
	}
	if msg.Code > 0 {
		flags |= hasCode
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.Code)
		pos += 8
	}
	if msg.Meta != nil {
		flags |= hasMeta
		putBytes(result, pos, msg.Meta)
	}

	// Set flags byte after knowing which fields are present
	result[1] = flags

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < 2 {
		return fmt.Errorf("data too short for message header")
	}

	msg.MsgType = common.MessageType(data[0])
	flags := data[1]
	pos := 2

	var err error
	var raw []byte

	msg.Key = ""
	if flags&hasKey != 0 {
		if raw, pos, err = readBytes(data, pos, "key"); err != nil {
			return err
		}
		msg.Key = string(raw)
	}

	msg.ID = ""
	if flags&hasID != 0 {
		if raw, pos, err = readBytes(data, pos, "id"); err != nil {
			return err
		}
		msg.ID = string(raw)
	}

	msg.Count = 0
	if flags&hasCount != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for count")
		}
		msg.Count = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	}

	if flags&hasValue != 0 {
		if raw, pos, err = readBytes(data, pos, "value"); err != nil {
			return err
		}
		msg.Value = reuse(msg.Value, raw)
	} else {
		msg.Value = nil
	}

	msg.Ok = false
	if flags&hasOk != 0 {
		if pos+1 > len(data) {
			return fmt.Errorf("data too short for Ok flag")
		}
		msg.Ok = data[pos] != 0
		pos += 1
	}

	msg.Err = ""
	if flags&hasErr != 0 {
		if raw, pos, err = readBytes(data, pos, "error"); err != nil {
			return err
		}
		msg.Err = string(raw)
	}

	msg.Code = 0
	if flags&hasCode != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for code")
		}
		msg.Code = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	}

	if flags&hasMeta != 0 {
		if raw, _, err = readBytes(data, pos, "meta"); err != nil {
			return err
		}
		msg.Meta = reuse(msg.Meta, raw)
	} else {
		msg.Meta = nil
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// 1 byte for MsgType + 1 byte for flags
	size := 2

	if msg.Key != "" {
		size += 4 + len(msg.Key)
	}
	if msg.ID != "" {
		size += 4 + len(msg.ID)
	}
	if msg.Count > 0 {
		size += 8
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Ok {
		size += 1
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	if msg.Code > 0 {
		size += 8
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta)
	}
	return size
}

// putBytes writes a length prefixed byte slice and returns the new position.
func putBytes(dst []byte, pos int, src []byte) int {
	binary.BigEndian.PutUint32(dst[pos:pos+4], uint32(len(src)))
	pos += 4
	return pos + copy(dst[pos:], src)
}

// readBytes reads a length prefixed byte slice. The result aliases data.
func readBytes(data []byte, pos int, field string) ([]byte, int, error) {
	if pos+4 > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s length", field)
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if pos+n > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s data", field)
	}
	return data[pos : pos+n], pos + n, nil
}

// reuse copies src into dst, allocating only if dst is too small. The result is never nil.
func reuse(dst, src []byte) []byte {
	if dst == nil || cap(dst) < len(src) {
		dst = make([]byte, len(src))
	} else {
		dst = dst[:len(src)]
	}
	copy(dst, src)
	return dst
}
