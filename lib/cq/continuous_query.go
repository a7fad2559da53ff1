package cq

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/ValentinKolb/dCache/lib/predicate"
	"github.com/google/uuid"
)

// DataFilter selects the payload a client receives with a notification. Filters are
// ordered, the maximum over all subscriptions of a client is delivered.
type DataFilter uint8

const (
	FilterNone     DataFilter = iota // key only
	FilterMetadata                   // key and metadata
	FilterData                       // key, metadata and value
)

func (f DataFilter) String() string {
	switch f {
	case FilterNone:
		return "none"
	case FilterMetadata:
		return "metadata"
	case FilterData:
		return "data"
	default:
		return fmt.Sprintf("filter(%d)", uint8(f))
	}
}

// ParseDataFilter parses the names returned by DataFilter.String.
func ParseDataFilter(s string) (DataFilter, error) {
	switch strings.ToLower(s) {
	case "", "none", "key", "keys":
		return FilterNone, nil
	case "metadata", "meta":
		return FilterMetadata, nil
	case "data", "value":
		return FilterData, nil
	}
	return FilterNone, fmt.Errorf("unknown data filter %q", s)
}

func maxFilter(a, b DataFilter) DataFilter {
	if a > b {
		return a
	}
	return b
}

// NotificationType is a bit set of the change types a subscription wants.
type NotificationType uint8

const (
	NotifyAdd NotificationType = 1 << iota
	NotifyUpdate
	NotifyRemove

	NotifyAll = NotifyAdd | NotifyUpdate | NotifyRemove
)

// Has reports whether the set contains the change type.
func (n NotificationType) Has(ct ChangeType) bool {
	switch ct {
	case ChangeAdd:
		return n&NotifyAdd != 0
	case ChangeUpdate:
		return n&NotifyUpdate != 0
	case ChangeRemove:
		return n&NotifyRemove != 0
	}
	return false
}

// ParseNotificationType parses a comma separated list of add, update and remove.
func ParseNotificationType(s string) (NotificationType, error) {
	var n NotificationType
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(strings.ToLower(part)) {
		case "add":
			n |= NotifyAdd
		case "update":
			n |= NotifyUpdate
		case "remove":
			n |= NotifyRemove
		case "all":
			n |= NotifyAll
		case "":
		default:
			return 0, fmt.Errorf("unknown notification type %q", part)
		}
	}
	return n, nil
}

// Filters holds one data filter per change type.
type Filters struct {
	Add    DataFilter `json:"add,omitempty"`
	Update DataFilter `json:"update,omitempty"`
	Remove DataFilter `json:"remove,omitempty"`
}

// For returns the filter of a change type.
func (f Filters) For(ct ChangeType) DataFilter {
	switch ct {
	case ChangeAdd:
		return f.Add
	case ChangeUpdate:
		return f.Update
	default:
		return f.Remove
	}
}

// ContinuousQuery is a query registered on the server. Equal queries of different clients
// share one ContinuousQuery.
type ContinuousQuery struct {
	UniqueID        string
	CommandText     string
	ObjectType      string
	AttributeValues map[string]index.Value
	Predicate       predicate.Predicate
}

// NewContinuousQuery creates a query with a fresh unique id.
func NewContinuousQuery(commandText, objectType string, values map[string]index.Value, p predicate.Predicate) *ContinuousQuery {
	return &ContinuousQuery{
		UniqueID:        uuid.NewString(),
		CommandText:     commandText,
		ObjectType:      objectType,
		AttributeValues: values,
		Predicate:       p,
	}
}

// normalizeCommand collapses whitespace runs outside quoted literals to a single space.
// Quoted literals are kept byte for byte, so values differing in case or spacing stay apart.
func normalizeCommand(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	var quote rune
	escaped, pendingSpace := false, false
	for _, r := range s {
		if quote != 0 {
			sb.WriteRune(r)
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == quote:
				quote = 0
			}
			continue
		}
		if unicode.IsSpace(r) {
			pendingSpace = sb.Len() > 0
			continue
		}
		if pendingSpace {
			sb.WriteByte(' ')
			pendingSpace = false
		}
		if r == '"' || r == '\'' {
			quote = r
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Equals reports whether two queries have the same command text modulo whitespace outside
// literals, the same object type and the same parameter bindings.
func (q *ContinuousQuery) Equals(o *ContinuousQuery) bool {
	if q == nil || o == nil {
		return q == o
	}
	if normalizeCommand(q.CommandText) != normalizeCommand(o.CommandText) || q.ObjectType != o.ObjectType {
		return false
	}
	if len(q.AttributeValues) != len(o.AttributeValues) {
		return false
	}
	for name, v := range q.AttributeValues {
		ov, ok := o.AttributeValues[name]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// Subscription is the registration of one client query.
type Subscription struct {
	ClientID string
	QueryUID string
	Notify   NotificationType
	Filters  Filters
}

// StateInfo is returned to the client after a registration.
type StateInfo struct {
	QueryUID      string `json:"queryUid"`
	ClientID      string `json:"clientId"`
	ClientQueryID string `json:"clientQueryId"`

	// IsNew is set when the registration created the server query.
	IsNew bool `json:"isNew"`
}

// Serialize writes the state info in binary form.
func (s *StateInfo) Serialize(w io.Writer) error {
	for _, str := range []string{s.QueryUID, s.ClientID, s.ClientQueryID} {
		if err := index.WriteString(w, str); err != nil {
			return err
		}
	}
	return binary.Write(w, binary.BigEndian, s.IsNew)
}

// Bytes returns the serialized state info.
func (s *StateInfo) Bytes() []byte {
	var buf bytes.Buffer
	_ = s.Serialize(&buf)
	return buf.Bytes()
}

// DeserializeStateInfo reads a state info written by Serialize.
func DeserializeStateInfo(r io.Reader) (*StateInfo, error) {
	var s StateInfo
	var err error
	if s.QueryUID, err = index.ReadString(r); err != nil {
		return nil, err
	}
	if s.ClientID, err = index.ReadString(r); err != nil {
		return nil, err
	}
	if s.ClientQueryID, err = index.ReadString(r); err != nil {
		return nil, err
	}
	if err = binary.Read(r, binary.BigEndian, &s.IsNew); err != nil {
		return nil, err
	}
	return &s, nil
}
