package store

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/cq"
	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/ValentinKolb/dCache/lib/predicate"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// CacheFactory is a function type that creates a new cache used by the store.
// This is used to abstract the creation of the cache from the store implementation.
type CacheFactory func() (*cache.Cache, error)

// ConfigFactory returns a CacheFactory creating caches from cfg.
func ConfigFactory(cfg cache.Config) CacheFactory {
	return func() (*cache.Cache, error) { return cache.New(cfg) }
}

// IStore is the generic interface for interacting with a query cache.
// All write operations return only an error (a *Error, nil on success),
// while read operations return the requested data along with an error.
type IStore interface {
	// Insert inserts or replaces an entry. Conversion errors of the metadata abort the insert.
	Insert(key string, value []byte, meta *index.MetaInfo) (err error)
	// Add inserts an entry and fails if the key is already present.
	Add(key string, value []byte, meta *index.MetaInfo) (err error)
	// Remove deletes an entry. The boolean return value indicates whether the key was present.
	Remove(key string) (removed bool, err error)
	// Clear removes all entries. Registered queries stay registered with empty results.
	Clear() (err error)
	// Get returns the entry for a key. The boolean return value indicates whether it was found.
	Get(key string) (entry *cache.Entry, loaded bool, err error)
	// Has returns whether a key exists in the store.
	Has(key string) (loaded bool, err error)
	// Search returns the keys of all entries of a type matching the query, sorted.
	Search(typeName string, query predicate.Spec, bindings map[string]index.Value) (keys []string, err error)
	// RegisterQuery registers a continuous query and returns the registration and the keys
	// currently matching.
	RegisterQuery(req cache.RegisterRequest) (info *cq.StateInfo, keys []string, err error)
	// UnRegisterQuery removes a client query.
	UnRegisterQuery(clientQueryID string) (err error)
	// DisconnectClient removes every query of a client.
	DisconnectClient(clientID string) (err error)
	// QueryResults returns the keys matching a query, addressed by client or server query id.
	QueryResults(id string) (keys []string, err error)
	// Poll drains up to max notifications of a client, all if max is not positive.
	Poll(clientID string, max int) (notifications []cache.ClientNotification, err error)
	// GetInfo returns statistics about the cache underlying the store.
	// It is not guaranteed that the information is up-to-date!
	GetInfo() (info cache.Info, err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("CacheStoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// FromError maps an error of the cache packages to a store error. Nil stays nil and
// store errors are returned unchanged.
func FromError(err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}

	var ce *index.ConversionError
	switch {
	case errors.As(err, &ce):
		return NewError(RetCConversionError, err.Error())
	case errors.Is(err, index.ErrAttributeNotDefined):
		return NewError(RetCSchemaError, err.Error())
	case errors.Is(err, cq.ErrQueryNotFound), errors.Is(err, cq.ErrClientQueryNotFound):
		return NewError(RetCNotFound, err.Error())
	case errors.Is(err, cache.ErrKeyExists), errors.Is(err, cq.ErrDuplicateClientQuery):
		return NewError(RetCInvalidOperation, err.Error())
	default:
		return NewError(RetCInternalError, err.Error())
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by the store.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCSchemaError                         // 4: An attribute is not declared in the type schema.
	RetCConversionError                     // 5: A value could not be converted to the declared type.
	RetCNotFound                            // 6: The addressed query does not exist.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCSchemaError:
		return "SchemaError"
	case RetCConversionError:
		return "ConversionError"
	case RetCNotFound:
		return "NotFound"
	default:
		return fmt.Sprintf("Unknown(%d)", uint64(c))
	}
}
