// Package apierr classifies failures of backend calls.
package apierr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/snapncook/snapclient/pkg/httpext"
)

type Kind int

const (
	// KindTransport: no response was received (timeout, DNS, refused).
	KindTransport Kind = iota + 1
	// KindAuthExpired: a 401 that could not be recovered by a refresh,
	// e.g. a request sent without any credential.
	KindAuthExpired
	// KindRefreshRejected: the refresh exchange failed and the session
	// has been torn down.
	KindRefreshRejected
	// KindBusiness: any other non-2xx answer.
	KindBusiness
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuthExpired:
		return "auth_expired"
	case KindRefreshRejected:
		return "refresh_rejected"
	case KindBusiness:
		return "business"
	default:
		return "unknown"
	}
}

const sessionExpired = "your session has expired, please log in again"

var (
	ErrTransport       = &Error{Kind: KindTransport}
	ErrAuthExpired     = &Error{Kind: KindAuthExpired}
	ErrRefreshRejected = &Error{Kind: KindRefreshRejected}
	ErrBusiness        = &Error{Kind: KindBusiness}
)

type Error struct {
	Kind   Kind
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Detail != "":
		return fmt.Sprintf("%s: status %d: %s", e.Kind, e.Status, e.Detail)
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the package sentinels work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Message is the user-facing text for the error.
func (e *Error) Message() string {
	switch e.Kind {
	case KindTransport:
		return "cannot reach the server, check your connection and try again"
	case KindRefreshRejected:
		return sessionExpired
	case KindAuthExpired:
		// Login failures arrive as 401 with a useful detail.
		if e.Detail != "" {
			return e.Detail
		}
		return sessionExpired
	}
	if e.Detail != "" {
		return e.Detail
	}
	if e.Status != 0 {
		return http.StatusText(e.Status)
	}
	return "request failed"
}

// Retryable reports whether repeating the same call may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransport || e.Status >= http.StatusInternalServerError
}

func Transport(err error) *Error {
	return &Error{Kind: KindTransport, Err: err}
}

func RefreshRejected(status int, detail string, err error) *Error {
	return &Error{Kind: KindRefreshRejected, Status: status, Detail: detail, Err: err}
}

// FromResponse classifies a non-2xx answer. A 401 is AuthExpired; the
// gateway reports refresh failures separately.
func FromResponse(status int, body []byte) *Error {
	kind := KindBusiness
	if status == http.StatusUnauthorized {
		kind = KindAuthExpired
	}
	return &Error{Kind: kind, Status: status, Detail: httpext.DecodeDetail(body)}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// Message returns the user-facing text for any error.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message()
	}
	return err.Error()
}

// IsNotFound reports a 404 business error.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// HTTPStatus maps err to the status a local HTTP surface should answer
// with.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindTransport:
		return http.StatusBadGateway
	case KindAuthExpired, KindRefreshRejected:
		return http.StatusUnauthorized
	}
	if e.Status >= 400 {
		return e.Status
	}
	return http.StatusBadGateway
}
