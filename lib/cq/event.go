package cq

import (
	"fmt"

	"github.com/ValentinKolb/dCache/lib/index"
)

// ChangeType classifies a result-set change.
type ChangeType uint8

const (
	ChangeAdd ChangeType = iota + 1
	ChangeUpdate
	ChangeRemove
)

func (c ChangeType) String() string {
	switch c {
	case ChangeAdd:
		return "add"
	case ChangeUpdate:
		return "update"
	case ChangeRemove:
		return "remove"
	default:
		return fmt.Sprintf("change(%d)", uint8(c))
	}
}

// EventID identifies the cache operation a notification originates from.
type EventID struct {
	UniqueID   string
	Sequence   uint64
	ChangeType ChangeType
}

// EventContext travels with a mutation from the cache to the notification listener.
type EventContext struct {
	ID EventID

	// Operation carries caller supplied operation attributes such as the origin node.
	Operation map[string]string

	// Payload is the entry value at the time of the mutation, delivered to clients that
	// asked for data.
	Payload []byte
}

// CloneFor returns a copy of the context with the event id's change type replaced. The
// original is returned unchanged when the type already matches.
func (c *EventContext) CloneFor(ct ChangeType) *EventContext {
	if c == nil {
		return &EventContext{ID: EventID{ChangeType: ct}}
	}
	if c.ID.ChangeType == ct {
		return c
	}
	clone := &EventContext{ID: c.ID, Payload: c.Payload}
	clone.ID.ChangeType = ct
	if c.Operation != nil {
		clone.Operation = make(map[string]string, len(c.Operation))
		for k, v := range c.Operation {
			clone.Operation[k] = v
		}
	}
	return clone
}

// QueryChangeNotification reports that Key entered, changed within or left the result
// sets of the queries in QueryIDs.
type QueryChangeNotification struct {
	Key        string
	ChangeType ChangeType
	QueryIDs   []string
	Meta       *index.MetaInfo
	Context    *EventContext
}

// Listener receives query change notifications.
type Listener interface {
	OnQueryChanged(n *QueryChangeNotification) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(n *QueryChangeNotification) error

func (f ListenerFunc) OnQueryChanged(n *QueryChangeNotification) error { return f(n) }
