package ledger

import (
	"errors"
	"fmt"
)

// Kind splits ledger failures by whether resubmitting can help.
type Kind string

const (
	// KindTransient covers timeouts, unreachable nodes and nonce races.
	// The same write may succeed later, or may already have landed.
	KindTransient Kind = "transient"

	// KindPermanent covers rejected writes: reverts, bad input, funding.
	KindPermanent Kind = "permanent"
)

// Error wraps a ledger failure with its kind
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("ledger %s [%s]: %s: %v", e.Op, e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("ledger %s [%s]: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// NewError creates a classified ledger error.
func NewError(kind Kind, op, message string, underlying error) *Error {
	return &Error{
		Kind:       kind,
		Op:         op,
		Message:    message,
		Underlying: underlying,
	}
}

// IsTransient reports whether err is worth retrying with the same certificate ID.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// KindOf extracts the failure kind. Unclassified errors count as transient:
// a retry is guarded by the ledger read that precedes it.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindTransient
}
