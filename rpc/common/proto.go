package common

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/ValentinKolb/dCache/lib/predicate"
	"github.com/ValentinKolb/dCache/lib/store"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Key   string `json:"key,omitempty"`   // Used for: Set, Add, Delete, Get, Has (entry key), Search (type name), CQUnregister, CQResults (query id)
	ID    string `json:"id,omitempty"`    // Used for: CQPoll, CQDisconnect (client id)
	Count uint64 `json:"count,omitempty"` // Used for: CQPoll (max notifications)
	Value []byte `json:"value,omitempty"` // Used for: Set, Add (request), Get (response)

	// Response only fields
	Ok   bool   `json:"ok,omitempty"`   // Used for: Get, Has, Delete responses
	Err  string `json:"err,omitempty"`  // Empty if no error, otherwise contains the error message
	Code uint64 `json:"code,omitempty"` // store.RetCode of Err

	// Meta holds the JSON payload of structured requests and responses
	// (entry metadata, query specs, registrations, keys, notifications, info).
	Meta []byte `json:"meta,omitempty"`
}

// ToError returns the error carried by a response, nil if there is none.
func (m *Message) ToError() error {
	if m.Err == "" {
		return nil
	}
	return store.NewError(store.RetCode(m.Code), m.Err)
}

// DecodeMeta decodes the JSON payload of the message into v. Numbers are kept as
// json.Number so integer attributes survive the round trip.
func (m *Message) DecodeMeta(v any) error {
	if len(m.Meta) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(m.Meta))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", m.MsgType, err)
	}
	return nil
}

func encodeMeta(v any) []byte {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// withErr sets the error fields of a response.
func (m *Message) withErr(err error) *Message {
	if err == nil {
		return m
	}
	m.Err = err.Error()
	m.Code = uint64(store.RetCInternalError)
	var se *store.Error
	if errors.As(err, &se) {
		m.Err = se.Msg
		m.Code = uint64(se.Code)
	}
	return m
}

// SearchRequest is the payload of a search request.
type SearchRequest struct {
	Query    predicate.Spec         `json:"query"`
	Bindings map[string]index.Value `json:"bindings,omitempty"`
}

// RegisterResponse is the payload of a cqRegister response.
type RegisterResponse struct {
	QueryUID      string   `json:"queryUid"`
	ClientID      string   `json:"clientId"`
	ClientQueryID string   `json:"clientQueryId"`
	IsNew         bool     `json:"isNew"`
	Keys          []string `json:"keys"`
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewSetRequest creates a new Set request. meta is the JSON encoded entry metadata.
func NewSetRequest(key string, value []byte, meta []byte) *Message {
	return &Message{
		MsgType: MsgTSet,
		Key:     key,
		Value:   value,
		Meta:    meta,
	}
}

// NewSetResponse creates a new Set response
func NewSetResponse(err error) *Message {
	return (&Message{MsgType: MsgTSet}).withErr(err)
}

// NewAddRequest creates a new Add request. meta is the JSON encoded entry metadata.
func NewAddRequest(key string, value []byte, meta []byte) *Message {
	return &Message{
		MsgType: MsgTAdd,
		Key:     key,
		Value:   value,
		Meta:    meta,
	}
}

// NewAddResponse creates a new Add response
func NewAddResponse(err error) *Message {
	return (&Message{MsgType: MsgTAdd}).withErr(err)
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(key string) *Message {
	return &Message{
		MsgType: MsgTDelete,
		Key:     key,
	}
}

// NewDeleteResponse creates a new Delete response
func NewDeleteResponse(removed bool, err error) *Message {
	return (&Message{MsgType: MsgTDelete, Ok: removed}).withErr(err)
}

// NewClearRequest creates a new Clear request
func NewClearRequest() *Message {
	return &Message{MsgType: MsgTClear}
}

// NewClearResponse creates a new Clear response
func NewClearResponse(err error) *Message {
	return (&Message{MsgType: MsgTClear}).withErr(err)
}

// NewGetRequest creates a new Get request
func NewGetRequest(key string) *Message {
	return &Message{
		MsgType: MsgTGet,
		Key:     key,
	}
}

// NewGetResponse creates a new Get response. meta is the JSON encoded entry metadata.
func NewGetResponse(value []byte, meta []byte, ok bool, err error) *Message {
	return (&Message{
		MsgType: MsgTGet,
		Value:   value,
		Meta:    meta,
		Ok:      ok,
	}).withErr(err)
}

// NewHasRequest creates a new Has request
func NewHasRequest(key string) *Message {
	return &Message{
		MsgType: MsgTHas,
		Key:     key,
	}
}

// NewHasResponse creates a new Has response
func NewHasResponse(ok bool, err error) *Message {
	return (&Message{MsgType: MsgTHas, Ok: ok}).withErr(err)
}

// NewSearchRequest creates a new Search request
func NewSearchRequest(typeName string, req SearchRequest) *Message {
	return &Message{
		MsgType: MsgTSearch,
		Key:     typeName,
		Meta:    encodeMeta(req),
	}
}

// NewSearchResponse creates a new Search response
func NewSearchResponse(keys []string, err error) *Message {
	return (&Message{MsgType: MsgTSearch, Meta: encodeMeta(keys)}).withErr(err)
}

// NewCQRegisterRequest creates a new continuous query registration. req is the JSON
// encoded registration.
func NewCQRegisterRequest(req []byte) *Message {
	return &Message{
		MsgType: MsgTCQRegister,
		Meta:    req,
	}
}

// NewCQRegisterResponse creates a new registration response
func NewCQRegisterResponse(res *RegisterResponse, err error) *Message {
	msg := &Message{MsgType: MsgTCQRegister}
	if res != nil {
		msg.Meta = encodeMeta(res)
	}
	return msg.withErr(err)
}

// NewCQUnregisterRequest creates a new request removing a client query
func NewCQUnregisterRequest(clientQueryID string) *Message {
	return &Message{
		MsgType: MsgTCQUnregister,
		Key:     clientQueryID,
	}
}

// NewCQUnregisterResponse creates a new unregister response
func NewCQUnregisterResponse(err error) *Message {
	return (&Message{MsgType: MsgTCQUnregister}).withErr(err)
}

// NewCQDisconnectRequest creates a new request removing all queries of a client
func NewCQDisconnectRequest(clientID string) *Message {
	return &Message{
		MsgType: MsgTCQDisconnect,
		ID:      clientID,
	}
}

// NewCQDisconnectResponse creates a new disconnect response
func NewCQDisconnectResponse(err error) *Message {
	return (&Message{MsgType: MsgTCQDisconnect}).withErr(err)
}

// NewCQResultsRequest creates a new request for the result set of a query
func NewCQResultsRequest(id string) *Message {
	return &Message{
		MsgType: MsgTCQResults,
		Key:     id,
	}
}

// NewCQResultsResponse creates a new result set response
func NewCQResultsResponse(keys []string, err error) *Message {
	return (&Message{MsgType: MsgTCQResults, Meta: encodeMeta(keys)}).withErr(err)
}

// NewCQPollRequest creates a new request draining up to max notifications of a client
func NewCQPollRequest(clientID string, max uint64) *Message {
	return &Message{
		MsgType: MsgTCQPoll,
		ID:      clientID,
		Count:   max,
	}
}

// NewCQPollResponse creates a new poll response. notifications is the JSON encoded list.
func NewCQPollResponse(notifications []byte, err error) *Message {
	return (&Message{MsgType: MsgTCQPoll, Meta: notifications}).withErr(err)
}

// NewInfoRequest creates a new Info request
func NewInfoRequest() *Message {
	return &Message{MsgType: MsgTInfo}
}

// NewInfoResponse creates a new Info response. info is the JSON encoded cache info.
func NewInfoResponse(info []byte, err error) *Message {
	return (&Message{MsgType: MsgTInfo, Meta: info}).withErr(err)
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
		Code:    uint64(store.RetCInvalidOperation),
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTSuccess:      "success",
	MsgTError:        "error",
	MsgTSet:          "set",
	MsgTAdd:          "add",
	MsgTDelete:       "delete",
	MsgTClear:        "clear",
	MsgTGet:          "get",
	MsgTHas:          "has",
	MsgTSearch:       "search",
	MsgTInfo:         "info",
	MsgTCQRegister:   "cqRegister",
	MsgTCQUnregister: "cqUnregister",
	MsgTCQDisconnect: "cqDisconnect",
	MsgTCQResults:    "cqResults",
	MsgTCQPoll:       "cqPoll",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if s, ok := messageTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for mt, name := range messageTypeNames {
		if name == s {
			*t = mt
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Entry operations

	MsgTSet    // Insert or replace an entry
	MsgTAdd    // Insert an entry that must not exist
	MsgTDelete // Remove an entry
	MsgTClear  // Remove all entries
	MsgTGet    // Get an entry by key
	MsgTHas    // Check if a key exists
	MsgTSearch // Evaluate a predicate
	MsgTInfo   // Cache statistics

	// Continuous query operations

	MsgTCQRegister   // Register a continuous query
	MsgTCQUnregister // Remove a client query
	MsgTCQDisconnect // Remove all queries of a client
	MsgTCQResults    // Result set of a query
	MsgTCQPoll       // Drain buffered notifications
)
