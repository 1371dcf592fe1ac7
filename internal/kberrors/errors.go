// Package kberrors provides the error taxonomy used across the content
// lifecycle pipeline: the state store, vector store, indexer, sync engine,
// search engine and the HTTP/MCP surfaces that sit on top of them.
package kberrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and retry decisions.
type Kind string

const (
	NotFound             Kind = "not_found"
	InvalidPath          Kind = "invalid_path"
	PermissionDenied     Kind = "permission_denied"
	Conflict             Kind = "conflict"
	ProviderAuthRequired Kind = "provider_auth_required"
	ProviderTransient    Kind = "provider_transient"
	ProviderFatal        Kind = "provider_fatal"
	ExtractFailed        Kind = "extract_failed"
	EmbedFailed          Kind = "embed_failed"
	StoreUnavailable     Kind = "store_unavailable"
	Cancelled            Kind = "cancelled"
)

// Error wraps an underlying error with a Kind and the operation that
// produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error of the given kind.
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf returns the Kind of err, or "" if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the error kind represents a transient condition
// that a caller may retry (vs. one that should fail the current operation).
func Retryable(err error) bool {
	switch KindOf(err) {
	case StoreUnavailable, ProviderTransient:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a Kind to the HTTP status code the external HTTP
// surface should respond with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case NotFound:
		return http.StatusNotFound
	case InvalidPath, Conflict:
		return http.StatusBadRequest
	case PermissionDenied:
		return http.StatusForbidden
	case StoreUnavailable:
		return http.StatusServiceUnavailable
	case Cancelled:
		return http.StatusOK // never reported as an error to the caller
	default:
		return http.StatusInternalServerError
	}
}
