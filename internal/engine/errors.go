package engine

import (
	"context"
	"errors"
	"fmt"

	"routinely/internal/domain"
	"routinely/internal/repo"
)

// ErrorKind classifies engine errors for callers that render or log them.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindConflict          ErrorKind = "conflict"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindUnknownItem       ErrorKind = "unknown_item"
	KindNotFound          ErrorKind = "not_found"
	KindTimeout           ErrorKind = "timeout"
	KindRepository        ErrorKind = "repository"
	KindInternal          ErrorKind = "internal"
)

// ValidationError rejects input before anything is written.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e ValidationError) Kind() ErrorKind { return KindValidation }

// ConflictError reports a daily overlap or an unresolved creation race.
type ConflictError struct {
	RoutineID string
	Message   string
}

func (e ConflictError) Error() string   { return e.Message }
func (e ConflictError) Kind() ErrorKind { return KindConflict }

// InvalidTransitionError reports a lifecycle call the current state does not allow.
type InvalidTransitionError struct {
	Action string
	From   domain.State
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s an execution that is %s", e.Action, e.From)
}

func (e InvalidTransitionError) Kind() ErrorKind { return KindInvalidTransition }

// UnknownItemError reports a checklist item outside the execution's routine template.
type UnknownItemError struct {
	ExecutionID string
	ItemID      string
}

func (e UnknownItemError) Error() string {
	return fmt.Sprintf("checklist item %s is not part of the routine of execution %s", e.ItemID, e.ExecutionID)
}

func (e UnknownItemError) Kind() ErrorKind { return KindUnknownItem }

// RepositoryError wraps a backend failure with the operation that hit it.
type RepositoryError struct {
	Op  string
	Err error
}

func (e RepositoryError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e RepositoryError) Unwrap() error { return e.Err }

func (e RepositoryError) Kind() ErrorKind {
	switch {
	case errors.Is(e.Err, repo.ErrNotFound):
		return KindNotFound
	case errors.Is(e.Err, repo.ErrConflict):
		return KindConflict
	case errors.Is(e.Err, context.DeadlineExceeded):
		return KindTimeout
	}
	return KindRepository
}

func repoErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return RepositoryError{Op: op, Err: err}
}

// Kind returns the classification of err.
func Kind(err error) ErrorKind {
	var (
		ve ValidationError
		ce ConflictError
		te InvalidTransitionError
		ue UnknownItemError
		re RepositoryError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ce):
		return KindConflict
	case errors.As(err, &te):
		return KindInvalidTransition
	case errors.As(err, &ue):
		return KindUnknownItem
	case errors.As(err, &re):
		return re.Kind()
	case errors.Is(err, repo.ErrNotFound):
		return KindNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindInternal
	}
}
