package cq

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/ValentinKolb/dCache/lib/index"
)

const (
	stateMagic   = "DCQS"
	stateVersion = 1
)

// State is a snapshot of the seven tables of a Manager. Predicates are not part of the
// serialized form, they are rebuilt from the command text after loading.
type State struct {
	Queries           []*ContinuousQuery
	ClientRefs        map[string]map[string][]string
	AddDataFilters    map[string]map[string]DataFilter
	UpdateDataFilters map[string]map[string]DataFilter
	RemoveDataFilters map[string]map[string]DataFilter
	Subscriptions     map[string]Subscription
	ClientQueryIndex  map[string]string
}

func newState() *State {
	return &State{
		ClientRefs:        make(map[string]map[string][]string),
		AddDataFilters:    make(map[string]map[string]DataFilter),
		UpdateDataFilters: make(map[string]map[string]DataFilter),
		RemoveDataFilters: make(map[string]map[string]DataFilter),
		Subscriptions:     make(map[string]Subscription),
		ClientQueryIndex:  make(map[string]string),
	}
}

// stateWriter keeps the first write error so the encoder reads linearly.
type stateWriter struct {
	w   *bufio.Writer
	err error
}

func (sw *stateWriter) str(s string) {
	if sw.err == nil {
		sw.err = index.WriteString(sw.w, s)
	}
}

func (sw *stateWriter) u32(n int) {
	if sw.err == nil {
		sw.err = binary.Write(sw.w, binary.BigEndian, uint32(n))
	}
}

func (sw *stateWriter) u8(n uint8) {
	if sw.err == nil {
		sw.err = sw.w.WriteByte(n)
	}
}

func (sw *stateWriter) value(v index.Value) {
	if sw.err == nil {
		sw.err = index.WriteValue(sw.w, v)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Serialize writes the state in binary form: magic, version, then every table with its
// map keys sorted.
func (s *State) Serialize(w io.Writer) error {
	sw := &stateWriter{w: bufio.NewWriter(w)}
	if _, err := sw.w.WriteString(stateMagic); err != nil {
		return err
	}
	sw.u8(stateVersion)

	sw.u32(len(s.Queries))
	for _, q := range s.Queries {
		sw.str(q.UniqueID)
		sw.str(q.CommandText)
		sw.str(q.ObjectType)
		sw.u32(len(q.AttributeValues))
		for _, name := range sortedKeys(q.AttributeValues) {
			sw.str(name)
			sw.value(q.AttributeValues[name])
		}
	}

	sw.u32(len(s.ClientRefs))
	for _, uid := range sortedKeys(s.ClientRefs) {
		sw.str(uid)
		byClient := s.ClientRefs[uid]
		sw.u32(len(byClient))
		for _, clientID := range sortedKeys(byClient) {
			sw.str(clientID)
			sw.u32(len(byClient[clientID]))
			for _, cqid := range byClient[clientID] {
				sw.str(cqid)
			}
		}
	}

	for _, table := range []map[string]map[string]DataFilter{s.AddDataFilters, s.UpdateDataFilters, s.RemoveDataFilters} {
		sw.u32(len(table))
		for _, uid := range sortedKeys(table) {
			sw.str(uid)
			byClient := table[uid]
			sw.u32(len(byClient))
			for _, clientID := range sortedKeys(byClient) {
				sw.str(clientID)
				sw.u8(uint8(byClient[clientID]))
			}
		}
	}

	sw.u32(len(s.Subscriptions))
	for _, cqid := range sortedKeys(s.Subscriptions) {
		sub := s.Subscriptions[cqid]
		sw.str(cqid)
		sw.str(sub.ClientID)
		sw.str(sub.QueryUID)
		sw.u8(uint8(sub.Notify))
		sw.u8(uint8(sub.Filters.Add))
		sw.u8(uint8(sub.Filters.Update))
		sw.u8(uint8(sub.Filters.Remove))
	}

	sw.u32(len(s.ClientQueryIndex))
	for _, cqid := range sortedKeys(s.ClientQueryIndex) {
		sw.str(cqid)
		sw.str(s.ClientQueryIndex[cqid])
	}

	if sw.err != nil {
		return fmt.Errorf("serialize cq state: %w", sw.err)
	}
	return sw.w.Flush()
}

// stateReader is the decoding counterpart of stateWriter.
type stateReader struct {
	r   *bufio.Reader
	err error
}

func (sr *stateReader) str() string {
	if sr.err != nil {
		return ""
	}
	var s string
	s, sr.err = index.ReadString(sr.r)
	return s
}

func (sr *stateReader) u32() int {
	if sr.err != nil {
		return 0
	}
	var n uint32
	sr.err = binary.Read(sr.r, binary.BigEndian, &n)
	return int(n)
}

func (sr *stateReader) u8() uint8 {
	if sr.err != nil {
		return 0
	}
	var b byte
	b, sr.err = sr.r.ReadByte()
	return b
}

func (sr *stateReader) value() index.Value {
	if sr.err != nil {
		return index.Null()
	}
	var v index.Value
	v, sr.err = index.ReadValue(sr.r)
	return v
}

// DeserializeState reads a state written by Serialize.
func DeserializeState(r io.Reader) (*State, error) {
	sr := &stateReader{r: bufio.NewReader(r)}

	magic := make([]byte, len(stateMagic))
	if _, err := io.ReadFull(sr.r, magic); err != nil {
		return nil, fmt.Errorf("read cq state header: %w", err)
	}
	if string(magic) != stateMagic {
		return nil, fmt.Errorf("invalid cq state: magic number mismatch")
	}
	if version := sr.u8(); sr.err == nil && version != stateVersion {
		return nil, fmt.Errorf("unsupported cq state version: %d (expected %d)", version, stateVersion)
	}

	s := newState()
	for i, n := 0, sr.u32(); i < n && sr.err == nil; i++ {
		q := &ContinuousQuery{UniqueID: sr.str(), CommandText: sr.str(), ObjectType: sr.str()}
		if count := sr.u32(); count > 0 {
			q.AttributeValues = make(map[string]index.Value, count)
			for j := 0; j < count && sr.err == nil; j++ {
				name := sr.str()
				q.AttributeValues[name] = sr.value()
			}
		}
		s.Queries = append(s.Queries, q)
	}

	for i, n := 0, sr.u32(); i < n && sr.err == nil; i++ {
		uid := sr.str()
		byClient := make(map[string][]string)
		for j, clients := 0, sr.u32(); j < clients && sr.err == nil; j++ {
			clientID := sr.str()
			ids := make([]string, sr.u32())
			for k := range ids {
				ids[k] = sr.str()
			}
			byClient[clientID] = ids
		}
		s.ClientRefs[uid] = byClient
	}

	for _, table := range []map[string]map[string]DataFilter{s.AddDataFilters, s.UpdateDataFilters, s.RemoveDataFilters} {
		for i, n := 0, sr.u32(); i < n && sr.err == nil; i++ {
			uid := sr.str()
			byClient := make(map[string]DataFilter)
			for j, clients := 0, sr.u32(); j < clients && sr.err == nil; j++ {
				clientID := sr.str()
				byClient[clientID] = DataFilter(sr.u8())
			}
			table[uid] = byClient
		}
	}

	for i, n := 0, sr.u32(); i < n && sr.err == nil; i++ {
		cqid := sr.str()
		sub := Subscription{ClientID: sr.str(), QueryUID: sr.str(), Notify: NotificationType(sr.u8())}
		sub.Filters = Filters{Add: DataFilter(sr.u8()), Update: DataFilter(sr.u8()), Remove: DataFilter(sr.u8())}
		s.Subscriptions[cqid] = sub
	}

	for i, n := 0, sr.u32(); i < n && sr.err == nil; i++ {
		cqid := sr.str()
		s.ClientQueryIndex[cqid] = sr.str()
	}

	if sr.err != nil {
		return nil, fmt.Errorf("deserialize cq state: %w", sr.err)
	}
	return s, nil
}
