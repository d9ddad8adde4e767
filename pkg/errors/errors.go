// Package errors defines the failure taxonomy of a plan comparison.
package errors

import (
	"errors"
	"fmt"

	"github.com/mouradhm/mongo-planbench/pkg/models"
)

// Kind classifies a failure
type Kind string

const (
	KindInvalidSpec   Kind = "INVALID_SPEC"
	KindConnection    Kind = "CONNECTION_ERROR"
	KindQuery         Kind = "QUERY_ERROR"
	KindIndexConflict Kind = "INDEX_CONFLICT"
	KindIndexCreation Kind = "INDEX_CREATION_ERROR"
	KindIndexNotFound Kind = "INDEX_NOT_FOUND"
	KindCleanup       Kind = "CLEANUP_ERROR"
	KindCanceled      Kind = "CANCELED"
)

// Phase names the step of a comparison in which a failure happened
type Phase string

const (
	PhaseValidate    Phase = "validate"
	PhaseLock        Phase = "lock"
	PhaseConnect     Phase = "connect"
	PhaseBefore      Phase = "before"
	PhaseIndexCreate Phase = "index-create"
	PhaseAfter       Phase = "after"
	PhaseCleanup     Phase = "cleanup"
)

// PlanError carries the kind and phase of a failure together with the
// driver-level cause. The cause message is reported unmodified.
type PlanError struct {
	Kind       Kind
	Phase      Phase
	Collection string
	Query      *models.QuerySpec
	Cause      error
}

// New wraps cause with the given kind
func New(kind Kind, cause error) *PlanError {
	return &PlanError{Kind: kind, Cause: cause}
}

// Error implements the error interface.
func (e *PlanError) Error() string {
	msg := string(e.Kind)
	if e.Phase != "" {
		msg = string(e.Phase) + ": " + msg
	}
	if e.Collection != "" {
		msg = fmt.Sprintf("%s on %q", msg, e.Collection)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *PlanError) Unwrap() error {
	return e.Cause
}

// Is matches any *PlanError of the same kind, so the sentinels below work
// with errors.Is.
func (e *PlanError) Is(target error) bool {
	t, ok := target.(*PlanError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithPhase returns a copy of the error tagged with phase
func (e *PlanError) WithPhase(phase Phase) *PlanError {
	c := *e
	c.Phase = phase
	return &c
}

// WithCollection returns a copy of the error tagged with the collection name
func (e *PlanError) WithCollection(collection string) *PlanError {
	c := *e
	c.Collection = collection
	return &c
}

// WithQuery returns a copy of the error carrying the offending query
func (e *PlanError) WithQuery(query models.QuerySpec) *PlanError {
	c := *e
	c.Query = &query
	return &c
}

// Sentinels for errors.Is
var (
	ErrInvalidSpec   = &PlanError{Kind: KindInvalidSpec}
	ErrConnection    = &PlanError{Kind: KindConnection}
	ErrQuery         = &PlanError{Kind: KindQuery}
	ErrIndexConflict = &PlanError{Kind: KindIndexConflict}
	ErrIndexCreation = &PlanError{Kind: KindIndexCreation}
	ErrIndexNotFound = &PlanError{Kind: KindIndexNotFound}
	ErrCleanup       = &PlanError{Kind: KindCleanup}
	ErrCanceled      = &PlanError{Kind: KindCanceled}
)

// KindOf returns the kind of the first PlanError in err's chain, or fallback
func KindOf(err error, fallback Kind) Kind {
	var pe *PlanError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return fallback
}

// As converts err into a *PlanError, wrapping it with fallback when it is not
// one already.
func As(err error, fallback Kind) *PlanError {
	var pe *PlanError
	if errors.As(err, &pe) {
		return pe
	}
	return New(fallback, err)
}
