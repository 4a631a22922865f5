package spec

import (
	"errors"
	"fmt"
)

// ErrorKind classifies registry failures into the stable set surfaced at
// workflow creation and execution start.
type ErrorKind string

const (
	// KindUnknownSubtype indicates a (type, subtype) pair with no active spec.
	KindUnknownSubtype ErrorKind = "UNKNOWN_SUBTYPE"
	// KindConfigMissing indicates a required configuration key with no value
	// and no spec default.
	KindConfigMissing ErrorKind = "CONFIG_MISSING"
	// KindConfigType indicates a configuration value incompatible with the
	// declared kind, or an unknown configuration key.
	KindConfigType ErrorKind = "CONFIG_TYPE"
	// KindEnumNotAllowed indicates an enum value outside the allowed set.
	KindEnumNotAllowed ErrorKind = "ENUM_NOT_ALLOWED"
	// KindNumericOutOfRange indicates a numeric value outside [min, max].
	KindNumericOutOfRange ErrorKind = "NUMERIC_OUT_OF_RANGE"
)

// ErrNotFound is the sentinel wrapped by lookup failures.
var ErrNotFound = errors.New("spec not found")

// Error is a structured registry failure. It carries the failing
// configuration key (when applicable) so callers can attribute errors to
// specific fields.
type Error struct {
	Kind    ErrorKind
	Subtype string
	Key     string
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Key, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap makes UNKNOWN_SUBTYPE errors match ErrNotFound via errors.Is.
func (e *Error) Unwrap() error {
	if e.Kind == KindUnknownSubtype {
		return ErrNotFound
	}
	return nil
}

// AsError returns the first *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
