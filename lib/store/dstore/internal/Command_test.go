package internal

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// TestSizeBytes tests the SizeBytes method
func TestSizeBytes(t *testing.T) {
	tests := []struct {
		name     string
		command  Command
		expected int
	}{
		{
			name: "Command with key, meta and value",
			command: Command{
				Type:  CommandTInsert,
				Key:   "testkey",
				Meta:  []byte(`{"type":"A"}`),
				Value: []byte("testvalue"),
			},
			expected: 1 + 4 + 7 + 4 + 12 + 9, // Type + KeyLen + Key + MetaLen + Meta + Value
		},
		{
			name: "Command with key only",
			command: Command{
				Type: CommandTRemove,
				Key:  "testkey",
			},
			expected: 1 + 4 + 7 + 4,
		},
		{
			name:     "Empty command",
			command:  Command{Type: CommandTClear},
			expected: 1 + 4 + 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size := tt.command.SizeBytes()
			if size != tt.expected {
				t.Errorf("SizeBytes() = %v, want %v", size, tt.expected)
			}
		})
	}
}

// TestSerializeDeserialize tests both Serialize and Deserialize methods
func TestSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name    string
		command Command
	}{
		{
			name: "Insert with meta and value",
			command: Command{
				Type:  CommandTInsert,
				Key:   "testkey",
				Meta:  []byte(`{"type":"Employee","attributes":{"Salary":60000}}`),
				Value: []byte("testvalue"),
			},
		},
		{
			name: "Remove without meta and value",
			command: Command{
				Type: CommandTRemove,
				Key:  "testkey",
			},
		},
		{
			name: "Register with request and empty key",
			command: Command{
				Type: CommandTRegister,
				Meta: []byte(`{"clientId":"c1","type":"Employee","query":{"op":"all"}}`),
			},
		},
		{
			name: "Insert with empty value",
			command: Command{
				Type:  CommandTInsert,
				Key:   "testkey",
				Value: []byte{},
			},
		},
		{
			name: "Insert with binary value",
			command: Command{
				Type:  CommandTInsert,
				Key:   "binary",
				Meta:  []byte{0, 255},
				Value: []byte{0, 1, 2, 3, 254, 255},
			},
		},
		{
			name: "Command with Unicode key",
			command: Command{
				Type:  CommandTUnregister,
				Key:   "你好世界", // Hello World in Chinese
				Value: []byte("unicode test"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Serialize
			data := tt.command.Serialize()

			// Deserialize into a new command
			var newCommand Command
			err := newCommand.Deserialize(data)
			if err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}

			// Compare original and deserialized command
			if newCommand.Type != tt.command.Type {
				t.Errorf("Type mismatch: got %v, want %v", newCommand.Type, tt.command.Type)
			}
			if newCommand.Key != tt.command.Key {
				t.Errorf("Key mismatch: got %q, want %q", newCommand.Key, tt.command.Key)
			}
			if !bytes.Equal(newCommand.Meta, tt.command.Meta) {
				t.Errorf("Meta mismatch: got %q, want %q", newCommand.Meta, tt.command.Meta)
			}

			// Value comparison handling nil case
			if len(tt.command.Value) == 0 {
				if len(newCommand.Value) != 0 {
					t.Errorf("Value should be nil or empty, got %v", newCommand.Value)
				}
			} else if !bytes.Equal(newCommand.Value, tt.command.Value) {
				t.Errorf("Value mismatch: got %v, want %v", newCommand.Value, tt.command.Value)
			}

			// Verify that SizeBytes matches the serialized data length
			if tt.command.SizeBytes() != len(data) {
				t.Errorf("SizeBytes() = %d, but serialized data length = %d",
					tt.command.SizeBytes(), len(data))
			}
		})
	}
}

// TestDeserializeErrors tests error cases in Deserialize
func TestDeserializeErrors(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expectedErr string
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectedErr: "data too short for command",
		},
		{
			name:        "Data too short (less than header)",
			data:        []byte{1, 2, 3, 4, 5},
			expectedErr: "data too short for command",
		},
		{
			name: "Invalid key length",
			data: func() []byte {
				data := make([]byte, headerSize)
				data[0] = byte(CommandTInsert)
				binary.BigEndian.PutUint32(data[1:5], 1000)
				return data
			}(),
			expectedErr: "data too short for key of length 1000",
		},
		{
			name: "Invalid meta length",
			data: func() []byte {
				data := make([]byte, headerSize+1)
				data[0] = byte(CommandTInsert)
				binary.BigEndian.PutUint32(data[1:5], 1)
				data[5] = 'k'
				binary.BigEndian.PutUint32(data[6:10], 50)
				return data
			}(),
			expectedErr: "data too short for meta of length 50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd Command
			err := cmd.Deserialize(tt.data)

			// Check if we got the expected error
			if err == nil {
				t.Fatalf("Expected error but got nil")
			}
			if err.Error() != tt.expectedErr {
				t.Errorf("Expected error %q, got %q", tt.expectedErr, err.Error())
			}
		})
	}
}

// TestBinaryFormat tests the exact binary format of serialized commands
func TestBinaryFormat(t *testing.T) {
	cmd := Command{
		Type:  CommandTInsert,
		Key:   "testkey",
		Meta:  []byte("{}"),
		Value: []byte("testvalue"),
	}

	// Manually create the expected byte array
	expected := make([]byte, cmd.SizeBytes())
	expected[0] = byte(CommandTInsert)
	binary.BigEndian.PutUint32(expected[1:5], 7) // "testkey" length
	copy(expected[5:12], "testkey")
	binary.BigEndian.PutUint32(expected[12:16], 2) // "{}" length
	copy(expected[16:18], "{}")
	copy(expected[18:], "testvalue")

	serialized := cmd.Serialize()
	if !bytes.Equal(serialized, expected) {
		t.Errorf("Binary format does not match:\nGot:      %v\nExpected: %v", serialized, expected)
	}
}

// TestBufferReuse tests that the Deserialize method reuses value buffers when possible
func TestBufferReuse(t *testing.T) {
	cmd := Command{
		Type:  CommandTInsert,
		Key:   "key",
		Value: []byte("original value"),
	}
	originalBuffer := cmd.Value

	cmd2 := Command{
		Type:  CommandTInsert,
		Key:   "key",
		Value: []byte("changed value"),
	}
	if err := cmd.Deserialize(cmd2.Serialize()); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	if cap(cmd.Value) != cap(originalBuffer) {
		t.Logf("Buffer capacity changed from %d to %d", cap(originalBuffer), cap(cmd.Value))
	}
	if !bytes.Equal(cmd.Value, []byte("changed value")) {
		t.Errorf("Value not correctly deserialized: got %q, want %q",
			string(cmd.Value), "changed value")
	}

	// A larger value needs a new buffer
	cmd3 := Command{
		Type:  CommandTInsert,
		Key:   "key",
		Value: []byte("this is a much longer value that won't fit in the original buffer"),
	}
	beforeCap := cap(cmd.Value)
	if err := cmd.Deserialize(cmd3.Serialize()); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	if cap(cmd.Value) <= beforeCap {
		t.Errorf("Buffer capacity did not increase for larger value: still %d", cap(cmd.Value))
	}
	if !bytes.Equal(cmd.Value, cmd3.Value) {
		t.Errorf("Value not correctly deserialized")
	}
}

func TestCommandTypeString(t *testing.T) {
	if CommandTRegister.String() != "Register" {
		t.Errorf("got %q", CommandTRegister.String())
	}
	if CommandType(200).String() != "Unknown(200)" {
		t.Errorf("got %q", CommandType(200).String())
	}
}
