package internal

import (
	"encoding/binary"
	"fmt"
)

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTInsert     CommandType = iota // Insert or replace an entry.
	CommandTAdd                           // Insert an entry that must not exist.
	CommandTRemove                        // Remove an entry.
	CommandTClear                         // Remove all entries.
	CommandTRegister                      // Register a continuous query.
	CommandTUnregister                    // Remove a client query.
	CommandTDisconnect                    // Remove all queries of a client.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTInsert:
		return "Insert"
	case CommandTAdd:
		return "Add"
	case CommandTRemove:
		return "Remove"
	case CommandTClear:
		return "Clear"
	case CommandTRegister:
		return "Register"
	case CommandTUnregister:
		return "Unregister"
	case CommandTDisconnect:
		return "Disconnect"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// Command represents a command to be executed by the state machine (a single entry in the raft log).
//
// Key holds the entry key, the client query id (Unregister) or the client id (Disconnect).
// Meta holds the JSON encoded metadata (Insert, Add) or registration request (Register).
type Command struct {
	Type  CommandType
	Key   string
	Meta  []byte
	Value []byte
}

const headerSize = 1 + 4 + 4 // Type + KeyLen + MetaLen

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	return headerSize + len(command.Key) + len(command.Meta) + len(command.Value)
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for operation type,
// 4 bytes for key length (big endian),
// N bytes for key data,
// 4 bytes for meta length (big endian),
// N bytes for meta data,
// N bytes for value data (optional)
func (command *Command) Serialize() []byte {
	result := make([]byte, command.SizeBytes())

	result[0] = byte(command.Type)
	off := 1

	binary.BigEndian.PutUint32(result[off:off+4], uint32(len(command.Key)))
	off += 4
	off += copy(result[off:], command.Key)

	binary.BigEndian.PutUint32(result[off:off+4], uint32(len(command.Meta)))
	off += 4
	off += copy(result[off:], command.Meta)

	copy(result[off:], command.Value)
	return result
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	off := 1

	keyLen := int(binary.BigEndian.Uint32(data[off : off+4]))
	off += 4
	if len(data) < off+keyLen+4 {
		return fmt.Errorf("data too short for key of length %d", keyLen)
	}
	command.Key = string(data[off : off+keyLen])
	off += keyLen

	metaLen := int(binary.BigEndian.Uint32(data[off : off+4]))
	off += 4
	if len(data) < off+metaLen {
		return fmt.Errorf("data too short for meta of length %d", metaLen)
	}
	command.Meta = nil
	if metaLen > 0 {
		command.Meta = make([]byte, metaLen)
		copy(command.Meta, data[off:off+metaLen])
	}
	off += metaLen

	// Extract value if present
	if len(data) > off {
		valueLen := len(data) - off
		// Reuse existing buffer if possible to reduce allocations
		if command.Value == nil || cap(command.Value) < valueLen {
			command.Value = make([]byte, valueLen)
		} else {
			command.Value = command.Value[:valueLen]
		}
		copy(command.Value, data[off:])
	} else {
		command.Value = nil
	}

	return nil
}
