package envelope

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownEnvelopeType = errors.New("unknown envelope type")
	ErrMalformedEnvelope   = errors.New("malformed envelope")
	ErrTypeMismatch        = errors.New("value does not match the registered type")
	ErrMissingCommand      = errors.New("event has no originating command")
)

// UnknownTypeError is returned when a tag is not in the registry.
type UnknownTypeError struct {
	// Kind is either "command" or "event".
	Kind string
	Tag  string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("%v: %s \"%s\"", ErrUnknownEnvelopeType, e.Kind, e.Tag)
}

func (e *UnknownTypeError) Unwrap() error {
	return ErrUnknownEnvelopeType
}
