package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// NetworkKind is the user-facing category of a transport-level failure.
type NetworkKind string

const (
	// NetworkTimeout covers requests that ran out of time, whether the
	// per-request deadline fired or the server stopped responding.
	NetworkTimeout NetworkKind = "timeout"
	// NetworkRefused covers actively rejected connections, typically a
	// reachable host with nothing listening on the port.
	NetworkRefused NetworkKind = "connection_refused"
	// NetworkOffline covers name-resolution failures, the usual signature
	// of a machine without connectivity.
	NetworkOffline NetworkKind = "offline"
	// NetworkOther covers everything else that prevented a response.
	NetworkOther NetworkKind = "other"
)

// NetworkError reports that no HTTP response was received at all.
type NetworkError struct {
	Kind NetworkKind
	Op   string // method and path of the failed call
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Message(), e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Message returns the category's user-facing description.
func (e *NetworkError) Message() string {
	switch e.Kind {
	case NetworkTimeout:
		return "the request timed out"
	case NetworkRefused:
		return "could not connect to the server"
	case NetworkOffline:
		return "the server address could not be resolved, check your connection"
	default:
		return "network error"
	}
}

// AuthError reports that the session is gone for good: a terminal 401, a
// failed refresh, or no stored session to begin with. The caller has to
// sign in again.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// ForbiddenError reports an HTTP 403: the session is valid but the account
// is not allowed to do this. It never triggers a token refresh.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string { return e.Message }

// CredentialsError reports a 401 from a login or registration call. Bad
// credentials are not an expired session, so no refresh is attempted and
// the stored session, if any, is left alone.
type CredentialsError struct {
	Message string
}

func (e *CredentialsError) Error() string { return e.Message }

// AccountDisabledError reports the platform's structured account_disabled
// code, regardless of which status it rode in on.
type AccountDisabledError struct {
	Message string
}

func (e *AccountDisabledError) Error() string { return e.Message }

// APIError reports any other non-2xx response, carrying the best message
// the response body offered and the platform's machine-readable code when
// one was present.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// classifyNetworkError buckets a transport failure into its NetworkKind.
// The mapping only inspects the error, so equal inputs classify equally.
func classifyNetworkError(op string, err error) *NetworkError {
	kind := NetworkOther
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = NetworkTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = NetworkTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		kind = NetworkRefused
	case errors.As(err, &dnsErr):
		kind = NetworkOffline
	}
	return &NetworkError{Kind: kind, Op: op, Err: err}
}
