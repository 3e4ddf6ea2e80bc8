// Package errors provides standardized error types for the join engine.
// EngineError carries the failing operation, an error kind from the engine's
// taxonomy and an optional wrapped cause.
package errors

import (
	"fmt"
)

// Kind classifies an EngineError. Only KindMalformedRow is recovered locally;
// every other kind fails the current task.
type Kind int

const (
	// KindInternal is an unexpected failure (I/O, programming error).
	KindInternal Kind = iota
	// KindDecode marks an unknown type tag or a truncated stream.
	KindDecode
	// KindTypeMismatch marks a comparison between incompatible value types.
	KindTypeMismatch
	// KindResource marks exhausted local resources such as disk space.
	KindResource
	// KindConsistency marks a contract violation: concurrent mutation during
	// iteration, out-of-order dataset tags, a multi-row aggregate.
	KindConsistency
	// KindMalformedRow marks a row that is counted and skipped.
	KindMalformedRow
	// KindInvalidInput marks bad configuration or arguments.
	KindInvalidInput
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindDecode:
		return "decode"
	case KindTypeMismatch:
		return "type mismatch"
	case KindResource:
		return "resource"
	case KindConsistency:
		return "consistency"
	case KindMalformedRow:
		return "malformed row"
	case KindInvalidInput:
		return "invalid input"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// EngineError represents standardized errors across all engine operations
type EngineError struct {
	Op      string // Operation name (e.g., "Decode", "Flush", "Process")
	Kind    Kind   // Error class
	Column  string // Column name if applicable
	Message string // Human-readable error description
	Cause   error  // Underlying error cause
}

// Error implements the error interface
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Column != "" {
		return fmt.Sprintf("%s failed on column '%s' (%s): %s", e.Op, e.Column, e.Kind, msg)
	}
	return fmt.Sprintf("%s failed (%s): %s", e.Op, e.Kind, msg)
}

// Unwrap returns the underlying cause for error wrapping support
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is implements error equality checking for errors.Is(). A target that only
// carries a Kind (the package sentinels) matches any error of that kind.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	if t.Op == "" && t.Column == "" && t.Message == "" {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Op == t.Op && e.Column == t.Column && e.Message == t.Message
}

// Sentinels for errors.Is checks by kind.
var (
	ErrDecode       = &EngineError{Kind: KindDecode}
	ErrTypeMismatch = &EngineError{Kind: KindTypeMismatch}
	ErrResource     = &EngineError{Kind: KindResource}
	ErrConsistency  = &EngineError{Kind: KindConsistency}
	ErrMalformedRow = &EngineError{Kind: KindMalformedRow}
	ErrInvalidInput = &EngineError{Kind: KindInvalidInput}
	ErrInternal     = &EngineError{Kind: KindInternal}
)

// NewDecodeError creates an error for corrupt or truncated encoded data
func NewDecodeError(op, message string, cause error) *EngineError {
	return &EngineError{Op: op, Kind: KindDecode, Message: message, Cause: cause}
}

// NewTypeMismatchError creates an error for comparisons between incompatible types
func NewTypeMismatchError(op, left, right string) *EngineError {
	return &EngineError{
		Op:      op,
		Kind:    KindTypeMismatch,
		Message: fmt.Sprintf("cannot compare %s with %s", left, right),
	}
}

// NewUnsupportedTypeError creates an error for values outside the tag enumeration
func NewUnsupportedTypeError(op, column, typeName string) *EngineError {
	return &EngineError{
		Op:      op,
		Kind:    KindInvalidInput,
		Column:  column,
		Message: fmt.Sprintf("unsupported type: %s", typeName),
	}
}

// NewResourceError creates an error for exhausted local resources
func NewResourceError(op, message string) *EngineError {
	return &EngineError{Op: op, Kind: KindResource, Message: message}
}

// NewConsistencyError creates an error for violated engine contracts
func NewConsistencyError(op, message string) *EngineError {
	return &EngineError{Op: op, Kind: KindConsistency, Message: message}
}

// NewMalformedRowError creates an error for a row that must be skipped
func NewMalformedRowError(op, message string, cause error) *EngineError {
	return &EngineError{Op: op, Kind: KindMalformedRow, Message: message, Cause: cause}
}

// NewColumnNotFoundError creates an error for lookups of non-existent columns
func NewColumnNotFoundError(op, column string) *EngineError {
	return &EngineError{
		Op:      op,
		Kind:    KindInvalidInput,
		Column:  column,
		Message: "column does not exist",
	}
}

// NewInvalidInputError creates an error for invalid operation inputs
func NewInvalidInputError(op, message string) *EngineError {
	return &EngineError{Op: op, Kind: KindInvalidInput, Message: message}
}

// NewInternalError creates an error for internal operation failures
func NewInternalError(op string, cause error) *EngineError {
	return &EngineError{
		Op:      op,
		Kind:    KindInternal,
		Message: "internal error occurred",
		Cause:   cause,
	}
}

// KindOf returns the kind of the first EngineError in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*EngineError); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return KindInternal
}
