package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kylelemons/godebug/pretty"
)

var prettyConf = &pretty.Config{IncludeUnexported: false, SkipZeroFields: true, TrackCycles: true}

// ErrSessionExpired is wrapped by *AuthError when the session could not be
// refreshed and was cleared.
var ErrSessionExpired = errors.New("client: session expired")

type verboser interface {
	Verbose() string
}

// Verbose renders err with request and response details when it has them.
func Verbose(err error) string {
	var v verboser
	if errors.As(err, &v) {
		return v.Verbose()
	}
	return err.Error()
}

// HTTPError is a non-2xx response from the remote API.
type HTTPError struct {
	Method    string
	Path      string
	RequestID string
	Status    int
	Message   string
	Data      json.RawMessage
	Errors    map[string][]string
}

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Status == 0 {
		return fmt.Sprintf("%s %s: %s", e.Method, e.Path, msg)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, msg)
}

func (e *HTTPError) Verbose() string {
	view := struct {
		Method, Path, RequestID string
		Status                  int
		Message                 string
		Data                    string
		Errors                  map[string][]string
	}{e.Method, e.Path, e.RequestID, e.Status, e.Message, string(e.Data), e.Errors}
	return fmt.Sprintf("%s:\n%s", e.Error(), prettyConf.Sprint(view))
}

// ValidationError is a 4xx other than 401, or a request rejected before any
// I/O (Status 0). It is never retried.
type ValidationError struct {
	*HTTPError
}

func (e *ValidationError) Error() string { return "validation: " + e.HTTPError.Error() }
func (e *ValidationError) Unwrap() error { return e.HTTPError }

// NetworkError is a transient failure that outlived every retry.
type NetworkError struct {
	Method   string
	Path     string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: network failure after %d attempt(s): %v", e.Method, e.Path, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Verbose() string {
	var he *HTTPError
	if errors.As(e.Err, &he) {
		return fmt.Sprintf("%s\n%s", e.Error(), he.Verbose())
	}
	return e.Error()
}

// AuthError is an authentication failure surfaced to the caller. When the
// session was cleared because it could not be refreshed, it wraps
// ErrSessionExpired.
type AuthError struct {
	Status  int
	Message string
	Expired bool
	Cause   error
}

func (e *AuthError) Error() string {
	switch {
	case e.Expired && e.Cause != nil:
		return fmt.Sprintf("%v: %v", ErrSessionExpired, e.Cause)
	case e.Expired:
		return ErrSessionExpired.Error()
	case e.Cause != nil:
		return fmt.Sprintf("client: unauthorized: %v", e.Cause)
	default:
		return "client: unauthorized"
	}
}

func (e *AuthError) Unwrap() []error {
	var out []error
	if e.Expired {
		out = append(out, ErrSessionExpired)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

func (e *AuthError) Verbose() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s\n%s", e.Error(), Verbose(e.Cause))
	}
	return e.Error()
}

// unauthorized is the internal 401 signal that starts refresh coordination.
type unauthorized struct{ http *HTTPError }

func (e *unauthorized) Error() string { return e.http.Error() }
func (e *unauthorized) Unwrap() error { return e.http }

// transient marks an attempt failure that may be retried.
type transient struct{ err error }

func (e *transient) Error() string { return e.err.Error() }
func (e *transient) Unwrap() error { return e.err }
