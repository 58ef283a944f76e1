// Package engine wires the persistence, event log, reducer, and operation
// packages (ingest, consolidate, retrieval, dispute, ops) behind one façade,
// and classifies every error it returns into the closed kind set spec.md §7
// describes. Grounded on the teacher's top-level public-API façade
// (bd's beads.go: type aliases plus constructor re-exports over its
// internal packages), adapted to also carry a typed error kind cmd/ml
// switches on for exit codes.
package engine

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of error classifications from spec.md §7.
type ErrorKind int

const (
	// KindUnknown is the zero value: an error engine did not classify,
	// treated by callers the same as PersistenceFailure.
	KindUnknown ErrorKind = iota
	// KindNotFound covers a missing episode/evidence/pack/card lookup.
	KindNotFound
	// KindInvalidInput covers a bad channel, bad outcome type, or a missing
	// required argument.
	KindInvalidInput
	// KindIdempotentRetry covers a duplicate idempotency key; callers should
	// treat this as a silent no-op and use the returned identifiers.
	KindIdempotentRetry
	// KindInvariantViolation covers a consolidation gate failure; not
	// surfaced as an error to the end user, recorded as card_rejected.
	KindInvariantViolation
	// KindPersistenceFailure covers a transaction abort or constraint
	// violation not covered by idempotency.
	KindPersistenceFailure
	// KindRecoveryRequired covers a missing *_recorded event or orphan row
	// detected by status/recover.
	KindRecoveryRequired
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	case KindIdempotentRetry:
		return "idempotent_retry"
	case KindInvariantViolation:
		return "invariant_violation"
	case KindPersistenceFailure:
		return "persistence_failure"
	case KindRecoveryRequired:
		return "recovery_required"
	default:
		return "unknown"
	}
}

// Error is engine's typed error wrapper: a Kind plus the underlying cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// newErr wraps err with kind and op, or returns nil if err is nil.
func newErr(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the ErrorKind from err, walking the error chain, or
// returns KindUnknown if err was never classified by engine.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ExitCode maps an error's kind to the CLI exit codes spec.md §6 defines:
// 0 ok, 1 error, 2 usage.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if KindOf(err) == KindInvalidInput {
		return 2
	}
	return 1
}
