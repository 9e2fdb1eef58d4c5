package pipeline

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// CodeAccountDisabled is the platform's machine-readable code for a
// deactivated account. Classification keys on this field, never on the
// human-readable message text, which is localized.
const CodeAccountDisabled = "account_disabled"

// errorEnvelope is the shape of the platform's error responses. All fields
// are optional; bodies that are not JSON at all are tolerated.
type errorEnvelope struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
	Code    string              `json:"code"`
}

// ClassifyResponse converts a completed non-2xx exchange into its typed
// error. It is a pure function of its inputs: the same status, body and
// call class always produce the same error kind and message. grantCall
// marks login and registration calls, where a 401 means bad credentials
// rather than an expired session.
func ClassifyResponse(status int, body []byte, grantCall bool) error {
	msg, code := extractMessage(status, body)
	if code == CodeAccountDisabled {
		return &AccountDisabledError{Message: msg}
	}
	switch {
	case status == http.StatusForbidden:
		return &ForbiddenError{Message: msg}
	case status == http.StatusUnauthorized && grantCall:
		return &CredentialsError{Message: msg}
	case status == http.StatusUnauthorized:
		return &AuthError{Reason: msg}
	default:
		return &APIError{StatusCode: status, Message: msg, Code: code}
	}
}

// extractMessage picks the most specific message the body offers:
// field-level validation messages first, then the top-level message, then
// a fixed fallback keyed on the status code.
func extractMessage(status int, body []byte) (msg, code string) {
	var env errorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil {
		if m := joinFieldErrors(env.Errors); m != "" {
			return m, env.Code
		}
		if m := strings.TrimSpace(env.Message); m != "" {
			return m, env.Code
		}
		return statusMessage(status), env.Code
	}
	return statusMessage(status), ""
}

// joinFieldErrors flattens per-field validation messages into one line.
// Fields are visited in sorted order so the result is deterministic.
func joinFieldErrors(fields map[string][]string) string {
	if len(fields) == 0 {
		return ""
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		for _, m := range fields[name] {
			m = strings.TrimSpace(m)
			if m == "" {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s: %s", name, m))
		}
	}
	return strings.Join(parts, "; ")
}

func statusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "the request was invalid"
	case http.StatusUnauthorized:
		return "session expired"
	case http.StatusForbidden:
		return "you do not have permission to do this"
	case http.StatusNotFound:
		return "the requested resource was not found"
	case http.StatusConflict:
		return "the request conflicts with the current state"
	case http.StatusUnprocessableEntity:
		return "the request could not be processed"
	case http.StatusTooManyRequests:
		return "too many requests, slow down"
	default:
		if status >= 500 {
			return fmt.Sprintf("the server reported an error (HTTP %d)", status)
		}
		return fmt.Sprintf("request failed (HTTP %d %s)", status, http.StatusText(status))
	}
}
