// Package apperr defines the error taxonomy shared by the routing core and
// its transports. Every error that crosses a package boundary carries a Kind
// so the HTTP layer and the dispatcher can decide status codes and envelope
// contents without string matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	// Validation is bad or missing caller input.
	Validation Kind = "ValidationError"
	// InvalidAgent is an agent id that is not in the registry.
	InvalidAgent Kind = "InvalidAgent"
	// UpstreamUnavailable is a completion backend failure or timeout.
	UpstreamUnavailable Kind = "UpstreamUnavailable"
	// MalformedUpstreamResponse is unparseable classifier or guard output.
	// It is recovered locally and never reaches a caller.
	MalformedUpstreamResponse Kind = "MalformedUpstreamResponse"
	// Store is a persistence failure.
	Store Kind = "StoreError"
	// Unauthorized is a request without caller identity.
	Unauthorized Kind = "Unauthorized"
	// Internal is anything unclassified.
	Internal Kind = "InternalError"
)

// Error is a classified error. Op names the operation that failed, in the
// "pkg: op" form used throughout the codebase.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and operation name.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or Internal when none is classified.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to its response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Validation, InvalidAgent:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
