// Package hookerr provides the error taxonomy shared by every hook surface.
package hookerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the category of a hook failure.
type Kind string

const (
	// KindAuthentication indicates a missing or invalid request signature.
	KindAuthentication Kind = "authentication"

	// KindPermission indicates a well-formed request carrying forged state.
	KindPermission Kind = "permission"

	// KindMalformedPayload indicates a body that does not decode as expected.
	KindMalformedPayload Kind = "malformed_payload"

	// KindUnknownRoute indicates classification exhausted every rule.
	KindUnknownRoute Kind = "unknown_route"

	// KindDownstream indicates an external API rejected the call or was unreachable.
	KindDownstream Kind = "downstream"

	// KindDelegation indicates a remote function invocation failed.
	KindDelegation Kind = "delegation"
)

// Error is a categorized failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error

	// Status overrides the kind's default HTTP status when non-zero.
	Status int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can test
// errors.Is(err, hookerr.Authentication).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// StatusCode returns the HTTP status for this error.
func (e *Error) StatusCode() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindPermission:
		return http.StatusForbidden
	case KindMalformedPayload:
		return http.StatusBadRequest
	case KindUnknownRoute:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

// Sentinels for errors.Is.
var (
	Authentication   = &Error{Kind: KindAuthentication}
	Permission       = &Error{Kind: KindPermission}
	MalformedPayload = &Error{Kind: KindMalformedPayload}
	UnknownRoute     = &Error{Kind: KindUnknownRoute}
	Downstream       = &Error{Kind: KindDownstream}
	Delegation       = &Error{Kind: KindDelegation}
)

// New builds a categorized error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Downstreamf wraps err as a downstream failure.
func Downstreamf(err error, format string, args ...any) *Error {
	return New(KindDownstream, fmt.Sprintf(format, args...), err)
}

// StatusCode returns the HTTP status carried by err, or fallback when err is
// not categorized.
func StatusCode(err error, fallback int) int {
	var he *Error
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	return fallback
}

// KindOf returns the kind carried by err, or "" when uncategorized.
func KindOf(err error) Kind {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	return ""
}
