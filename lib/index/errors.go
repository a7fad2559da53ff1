package index

import (
	"errors"
	"fmt"
)

var (
	// ErrAttributeNotDefined is returned when a store for an attribute is requested that is
	// neither declared in the schema nor a known named tag.
	ErrAttributeNotDefined = errors.New("index is not defined for attribute")

	// ErrTypeNotIndexed is returned for lookups on a type that has no index.
	ErrTypeNotIndexed = errors.New("type is not indexed")

	// ErrManagerNotInitialized is returned by managers used before Initialize.
	ErrManagerNotInitialized = errors.New("index manager is not initialized")

	// ErrManagerDisposed is returned by managers used after Dispose.
	ErrManagerDisposed = errors.New("index manager is disposed")
)

// ConversionError reports an attribute value that could not be converted into the data
// type declared for the attribute.
type ConversionError struct {
	TypeName  string
	Attribute string
	Value     any
	Target    DataType
	Err       error
}

func (e *ConversionError) Error() string {
	where := e.Attribute
	if e.TypeName != "" {
		where = e.TypeName + "." + e.Attribute
	}
	if where == "" {
		where = "value"
	}
	msg := fmt.Sprintf("cannot convert %s (%T %v) to %s", where, e.Value, e.Value, e.Target)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConversionError) Unwrap() error { return e.Err }
