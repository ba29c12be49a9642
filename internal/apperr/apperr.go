// Package apperr defines the engine's error taxonomy (spec §7): a small set
// of error kinds, each with an HTTP status mapping, so every surface
// (webhook ingress, callback, retry, version/flow CRUD) reports failures
// consistently without leaking internals.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error kinds enumerated in spec.md §7.
type Kind string

const (
	KindValidation   Kind = "validation_failure"
	KindAuth         Kind = "auth_failure"
	KindNotFound     Kind = "not_found"
	KindRateLimited  Kind = "rate_limited"
	KindStateConflict Kind = "state_conflict"
	KindWorkerFailure Kind = "worker_failure"
	KindTransient    Kind = "transient"
)

// ValidationIssue is one entry in a ValidationFailure's ordered issue list.
type ValidationIssue struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Location string `json:"location,omitempty"` // node/edge id
}

// Error is the engine's structured error type. It never carries secrets or
// internal paths in Message; Cause is logged but not rendered to callers.
type Error struct {
	Kind    Kind
	Message string
	Issues  []ValidationIssue // populated for KindValidation
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus maps an error kind to the HTTP status code spec.md prescribes.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindStateConflict:
		return http.StatusConflict
	case KindWorkerFailure:
		return http.StatusOK // surfaced as node state, not a failed HTTP call
	case KindTransient:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind, keeping cause for logging only.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Validation builds a KindValidation error carrying an ordered issue list.
func Validation(message string, issues []ValidationIssue) *Error {
	return &Error{Kind: KindValidation, Message: message, Issues: issues}
}

// As reports whether err is an *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
