// Package serializer converts common.Message values to bytes and back for the dCache
// RPC system.
//
// Implementations:
//
//   - NewBinarySerializer: a compact format with a flag byte marking the fields that
//     are present. Strings and byte slices are length prefixed, counters and return
//     codes are fixed 8 byte big endian values. This is the default of the CLI.
//
//   - NewJSONSerializer: human readable, useful when debugging a server with curl.
//
//   - NewGOBSerializer: encoding/gob, kept for comparison in the benchmarks.
//
// Structured payloads such as entry metadata, query specs and notifications travel as
// JSON in the Meta field regardless of the serializer, so all three formats carry the
// same information.
//
// All serializers are stateless and safe for concurrent use.
//
// Usage:
//
//	ser := serializer.NewBinarySerializer()
//	data, err := ser.Serialize(*common.NewGetRequest("e1"))
//	// ... send data ...
//	var resp common.Message
//	err = ser.Deserialize(received, &resp)
package serializer
