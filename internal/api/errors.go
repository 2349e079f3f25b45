package api

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
)

// ErrorKind classifies API failures so callers can decide between retry
// and surfacing the error to the user.
type ErrorKind string

const (
	// KindNetwork covers connection failures and DNS errors. Retryable.
	KindNetwork ErrorKind = "network"
	// KindTimeout covers deadline exceeded on a request. Retryable.
	KindTimeout ErrorKind = "timeout"
	// KindServer covers 5xx responses. Retryable.
	KindServer ErrorKind = "server"
	// KindUnavailable covers 503 and overload responses. Retryable.
	KindUnavailable ErrorKind = "unavailable"
	// KindRateLimited covers 429. Retryable; the queue backoff handles
	// the wait.
	KindRateLimited ErrorKind = "rate_limited"
	// KindInvalid covers 4xx responses for malformed input. Permanent.
	KindInvalid ErrorKind = "invalid"
	// KindAuth covers 401/403. Permanent; the user must sign in again.
	KindAuth ErrorKind = "auth"
	// KindSubscription covers 402, a lapsed plan. Permanent.
	KindSubscription ErrorKind = "subscription"
)

// Error is a classified API failure.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %s (%s)", e.Message, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("api: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("api: %s", e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later attempt could succeed without user
// intervention. Rate limiting counts: the queue's backoff spaces out
// the retries.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindServer, KindUnavailable, KindRateLimited:
		return true
	}
	return false
}

// Retryable reports whether err is a transient API failure.
func Retryable(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}

// StatusError builds a classified Error from a bare HTTP status, for
// backends that speak HTTP outside this client.
func StatusError(status int, message string) *Error {
	return classifyStatus(status, message)
}

// IsAuth reports whether err means the session is no longer valid.
func IsAuth(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == KindAuth
}

// classifyTransport maps a transport-level error to a classified Error.
func classifyTransport(err error) *Error {
	if os.IsTimeout(err) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindNetwork, Err: err}
}

// classifyStatus maps an HTTP status to a classified Error.
func classifyStatus(status int, message string) *Error {
	kind := KindInvalid
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusPaymentRequired:
		kind = KindSubscription
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusServiceUnavailable:
		kind = KindUnavailable
	case status >= 500:
		kind = KindServer
	}
	return &Error{Kind: kind, Status: status, Message: message}
}
