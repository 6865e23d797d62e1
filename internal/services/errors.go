package services

import (
	"errors"
	"fmt"
	"strings"

	"direct-booking/internal/status"
	"direct-booking/internal/validation"
	"direct-booking/models"
)

// ErrorKind classifies a service failure for callers that map it onto a
// transport status.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindNotFound       ErrorKind = "not_found"
	KindState          ErrorKind = "state"
	KindConflict       ErrorKind = "conflict"
	KindTransition     ErrorKind = "transition"
	KindPersistence    ErrorKind = "persistence"
	KindReconciliation ErrorKind = "reconciliation"
	KindForbidden      ErrorKind = "forbidden"
)

type FieldIssue = validation.FieldIssue

// ValidationError lists every rejected input field of a request.
type ValidationError struct {
	Issues []FieldIssue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Kind() ErrorKind { return KindValidation }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Kind() ErrorKind { return KindNotFound }

// StateError reports a request that is well-formed but not acceptable in the
// current state of the referenced entities (inactive property, too many guests).
type StateError struct {
	Reason string
}

func (e *StateError) Error() string   { return e.Reason }
func (e *StateError) Kind() ErrorKind { return KindState }

type ConflictError struct {
	Conflict models.BookingSummary
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("dates conflict with booking %s (%s to %s)", e.Conflict.ID, e.Conflict.CheckIn, e.Conflict.CheckOut)
}

func (e *ConflictError) Kind() ErrorKind { return KindConflict }

// ForbiddenError means the caller is not a party allowed to act on the booking.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string   { return e.Reason }
func (e *ForbiddenError) Kind() ErrorKind { return KindForbidden }

type TransitionError struct {
	BookingID string
	From      status.Status
	To        status.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("booking %s cannot move from %s to %s", e.BookingID, e.From, e.To)
}

func (e *TransitionError) Kind() ErrorKind { return KindTransition }

// PersistenceError wraps a store failure. It is retriable.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error   { return e.Err }
func (e *PersistenceError) Kind() ErrorKind { return KindPersistence }

// ReconciliationError means a payment event could not be applied yet and
// should be redelivered.
type ReconciliationError struct {
	EventID string
	Err     error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile event %s: %v", e.EventID, e.Err)
}

func (e *ReconciliationError) Unwrap() error   { return e.Err }
func (e *ReconciliationError) Kind() ErrorKind { return KindReconciliation }

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var k interface{ Kind() ErrorKind }
	if errors.As(err, &k) {
		return k.Kind(), true
	}
	return "", false
}
