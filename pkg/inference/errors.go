package inference

import (
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for common conditions.
var (
	// ErrNoAPIKey is returned when API key is required but missing.
	ErrNoAPIKey = errors.New("inference: API key required")

	// ErrNoModel is returned when model is required but missing.
	ErrNoModel = errors.New("inference: model required")

	// ErrProviderUnavailable is returned when no provider behavior is configured.
	ErrProviderUnavailable = errors.New("inference: provider unavailable")

	// ErrClosed is returned when using a provider after Close.
	ErrClosed = errors.New("inference: provider closed")
)

// TransportError is a failure to reach the backend or read its reply:
// dial, write, read and timeout failures.
type TransportError struct {
	Provider string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("inference [%s]: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a timeout.
func (e *TransportError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// ProtocolError is a reply the client cannot interpret: malformed JSON,
// missing fields, tool arguments that are not a JSON object. Never retried.
type ProtocolError struct {
	Provider string
	Message  string
	Err      error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inference [%s]: protocol: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("inference [%s]: protocol: %s", e.Provider, e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// BackendError is a structured error reported by the service.
type BackendError struct {
	// StatusCode is the HTTP status code, 0 when not HTTP.
	StatusCode int

	// Message is the error message from the API.
	Message string

	// Code is the error code (if provided).
	Code string

	// Provider identifies which provider returned the error.
	Provider string
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	switch {
	case e.StatusCode == 0 && e.Code != "":
		return fmt.Sprintf("inference [%s]: backend error (%s): %s", e.Provider, e.Code, e.Message)
	case e.StatusCode == 0:
		return fmt.Sprintf("inference [%s]: backend error: %s", e.Provider, e.Message)
	case e.Code != "":
		return fmt.Sprintf("inference [%s]: API error %d (%s): %s",
			e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("inference [%s]: API error %d: %s",
		e.Provider, e.StatusCode, e.Message)
}

// IsRateLimited returns true if this is a rate limit error (HTTP 429).
func (e *BackendError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsUnauthorized returns true if this is an authentication error (HTTP 401).
func (e *BackendError) IsUnauthorized() bool {
	return e.StatusCode == 401
}

// IsServerError returns true if this is a server-side error (HTTP 5xx).
func (e *BackendError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsRetryable returns true if the request should be retried.
func (e *BackendError) IsRetryable() bool {
	return e.IsRateLimited() || e.IsServerError()
}

// IsTransport reports whether err is a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsProtocol reports whether err is a *ProtocolError.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsBackend reports whether err is a *BackendError.
func IsBackend(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

// IsRetryable reports whether err is worth another attempt: transport
// failures, rate limits and server errors.
func IsRetryable(err error) bool {
	if IsTransport(err) {
		return true
	}
	var be *BackendError
	return errors.As(err, &be) && be.IsRetryable()
}
