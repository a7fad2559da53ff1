package index

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Data types
// --------------------------------------------------------------------------

// DataType tags the kind held by a Value.
type DataType uint8

const (
	TypeNull DataType = iota
	TypeInt
	TypeDouble
	TypeString
	TypeDateTime
	TypeBool
)

func (t DataType) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeInt:
		return "int"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeDateTime:
		return "datetime"
	case TypeBool:
		return "bool"
	default:
		return "unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// ParseDataType parses the schema spelling of a data type.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int", "long", "int64", "integer":
		return TypeInt, nil
	case "double", "float", "float64", "decimal":
		return TypeDouble, nil
	case "string", "text":
		return TypeString, nil
	case "datetime", "date", "time":
		return TypeDateTime, nil
	case "bool", "boolean":
		return TypeBool, nil
	default:
		return TypeNull, fmt.Errorf("unknown data type %q", s)
	}
}

// rank groups kinds that are mutually comparable; Int and Double share a rank.
func (t DataType) rank() int {
	switch t {
	case TypeNull:
		return 0
	case TypeBool:
		return 1
	case TypeInt, TypeDouble:
		return 2
	case TypeDateTime:
		return 3
	default:
		return 4
	}
}

// --------------------------------------------------------------------------
// Value
// --------------------------------------------------------------------------

// NullSentinel is the index value under which null attribute values are filed.
const NullSentinel = "null"

// Value is the closed variant of attribute values: Null, Int, Double, String, DateTime or
// Bool. DateTime is held as ticks (unix nanoseconds). Values are comparable and can be
// used as map keys.
type Value struct {
	kind DataType
	num  int64
	f    float64
	s    string
}

func Null() Value { return Value{} }
func Int(i int64) Value { return Value{kind: TypeInt, num: i} }
func Double(f float64) Value { return Value{kind: TypeDouble, f: f} }
func String(s string) Value { return Value{kind: TypeString, s: s} }
func DateTime(t time.Time) Value { return Value{kind: TypeDateTime, num: t.UnixNano()} }
func Ticks(ticks int64) Value { return Value{kind: TypeDateTime, num: ticks} }

func Bool(b bool) Value {
	if b {
		return Value{kind: TypeBool, num: 1}
	}
	return Value{kind: TypeBool}
}

// Kind returns the data type tag.
func (v Value) Kind() DataType { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == TypeNull }

// IndexValue returns the value under which v is filed in a store: the null sentinel for
// null, v itself otherwise.
func (v Value) IndexValue() Value {
	if v.kind == TypeNull {
		return String(NullSentinel)
	}
	return v
}

func (v Value) AsInt() int64 { return v.num }
func (v Value) AsString() string { return v.s }
func (v Value) AsBool() bool { return v.num != 0 }
func (v Value) AsTime() time.Time { return time.Unix(0, v.num).UTC() }

func (v Value) AsDouble() float64 {
	if v.kind == TypeInt {
		return float64(v.num)
	}
	return v.f
}

// Native returns the Go representation: nil, int64, float64, string, time.Time or bool.
func (v Value) Native() any {
	switch v.kind {
	case TypeInt:
		return v.num
	case TypeDouble:
		return v.f
	case TypeString:
		return v.s
	case TypeDateTime:
		return v.AsTime()
	case TypeBool:
		return v.AsBool()
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case TypeNull:
		return NullSentinel
	case TypeInt:
		return strconv.FormatInt(v.num, 10)
	case TypeDouble:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeString:
		return v.s
	case TypeDateTime:
		return v.AsTime().Format(time.RFC3339Nano)
	case TypeBool:
		return strconv.FormatBool(v.AsBool())
	default:
		return ""
	}
}

// Comparable reports whether v and o can be ordered against each other.
func (v Value) Comparable(o Value) bool {
	return v.kind.rank() == o.kind.rank()
}

// Compare orders values first by kind rank, then by value within the rank.
func (v Value) Compare(o Value) int {
	if r1, r2 := v.kind.rank(), o.kind.rank(); r1 != r2 {
		return cmpInt(int64(r1), int64(r2))
	}

	switch v.kind {
	case TypeNull:
		return 0
	case TypeString:
		return strings.Compare(v.s, o.s)
	case TypeInt, TypeDouble:
		if v.kind == TypeInt && o.kind == TypeInt {
			return cmpInt(v.num, o.num)
		}
		a, b := v.AsDouble(), o.AsDouble()
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	default:
		return cmpInt(v.num, o.num)
	}
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Size estimates the memory held by the value in bytes.
func (v Value) Size() int64 {
	return 32 + int64(len(v.s))
}

// --------------------------------------------------------------------------
// Conversion
// --------------------------------------------------------------------------

// ValueOf infers the kind of a raw Go value.
func ValueOf(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case time.Time:
		return DateTime(x), nil
	case float32:
		return Double(float64(x)), nil
	case float64:
		return Double(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Null(), &ConversionError{Value: raw, Target: TypeDouble, Err: err}
		}
		return Double(f), nil
	}
	if i, ok := toInt64(raw); ok {
		return Int(i), nil
	}
	return Null(), &ConversionError{Value: raw, Target: TypeNull, Err: fmt.Errorf("unsupported type %T", raw)}
}

// Coerce converts raw into a Value of the target type. A nil raw value yields Null.
// Dates are converted to ticks. Failures are reported as *ConversionError.
func Coerce(raw any, target DataType) (Value, error) {
	v, err := ValueOf(raw)
	if err != nil {
		return Null(), err
	}
	if v.kind == TypeNull || v.kind == target {
		return v, nil
	}

	fail := func(cause error) (Value, error) {
		return Null(), &ConversionError{Value: raw, Target: target, Err: cause}
	}

	switch target {
	case TypeInt:
		switch v.kind {
		case TypeDouble:
			if v.f != math.Trunc(v.f) || math.IsInf(v.f, 0) || math.IsNaN(v.f) {
				return fail(fmt.Errorf("%v is not integral", v.f))
			}
			return Int(int64(v.f)), nil
		case TypeString:
			i, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64)
			if err != nil {
				return fail(err)
			}
			return Int(i), nil
		case TypeDateTime:
			return Int(v.num), nil
		}
	case TypeDouble:
		switch v.kind {
		case TypeInt:
			return Double(float64(v.num)), nil
		case TypeString:
			f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
			if err != nil {
				return fail(err)
			}
			return Double(f), nil
		}
	case TypeString:
		return String(v.String()), nil
	case TypeDateTime:
		switch v.kind {
		case TypeInt:
			return Ticks(v.num), nil
		case TypeString:
			t, err := parseTime(v.s)
			if err != nil {
				return fail(err)
			}
			return DateTime(t), nil
		}
	case TypeBool:
		switch v.kind {
		case TypeString:
			b, err := strconv.ParseBool(strings.TrimSpace(v.s))
			if err != nil {
				return fail(err)
			}
			return Bool(b), nil
		case TypeInt:
			return Bool(v.num != 0), nil
		}
	}
	return fail(fmt.Errorf("no conversion from %s", v.kind))
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func toInt64(raw any) (int64, bool) {
	switch x := raw.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true
	default:
		return 0, false
	}
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

type jsonValue struct {
	Type  string `json:"type"`
	Value any    `json:"value,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	jv := jsonValue{Type: v.kind.String()}
	switch v.kind {
	case TypeNull:
	case TypeDateTime:
		jv.Value = v.String()
	default:
		jv.Value = v.Native()
	}
	return json.Marshal(jv)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var jv struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &jv); err != nil {
		return err
	}
	if jv.Type == "null" || jv.Type == "" {
		*v = Null()
		return nil
	}
	kind, err := ParseDataType(jv.Type)
	if err != nil {
		return err
	}
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(jv.Value)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out, err := Coerce(raw, kind)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// WriteValue writes the binary encoding of v: one kind byte followed by the payload.
func WriteValue(w io.Writer, v Value) error {
	if err := binary.Write(w, binary.BigEndian, uint8(v.kind)); err != nil {
		return err
	}
	switch v.kind {
	case TypeNull:
		return nil
	case TypeDouble:
		return binary.Write(w, binary.BigEndian, math.Float64bits(v.f))
	case TypeString:
		return WriteString(w, v.s)
	default:
		return binary.Write(w, binary.BigEndian, v.num)
	}
}

// ReadValue reads a value written by WriteValue.
func ReadValue(r io.Reader) (Value, error) {
	var kind uint8
	if err := binary.Read(r, binary.BigEndian, &kind); err != nil {
		return Null(), err
	}
	switch DataType(kind) {
	case TypeNull:
		return Null(), nil
	case TypeDouble:
		var bits uint64
		if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
			return Null(), err
		}
		return Double(math.Float64frombits(bits)), nil
	case TypeString:
		s, err := ReadString(r)
		if err != nil {
			return Null(), err
		}
		return String(s), nil
	case TypeInt, TypeDateTime, TypeBool:
		var n int64
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return Null(), err
		}
		return Value{kind: DataType(kind), num: n}, nil
	default:
		return Null(), fmt.Errorf("invalid value kind %d", kind)
	}
}

// WriteString writes a length-prefixed string.
func WriteString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// ReadString reads a string written by WriteString.
func ReadString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
