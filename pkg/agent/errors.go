package agent

import (
	"context"
	"errors"

	"github.com/teslashibe/go-jarvis/pkg/inference"
)

var (
	// ErrNotInitialized is returned by Run and HandleUtterance before Init.
	ErrNotInitialized = errors.New("agent: not initialized")

	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("agent: already running")

	// ErrBusy is returned by HandleUtterance while another turn is in flight.
	ErrBusy = errors.New("agent: turn in progress")

	// ErrDuplicateUtterance is returned for an utterance ID already handled.
	ErrDuplicateUtterance = errors.New("agent: duplicate utterance")

	// ErrTooManyToolRounds is returned when the model keeps asking for
	// tools past the configured bound.
	ErrTooManyToolRounds = errors.New("agent: too many tool rounds")

	// ErrPanic wraps a panic recovered from a turn.
	ErrPanic = errors.New("agent: turn panicked")

	errStopped = errors.New("agent: stopped")
)

const apologySuffix = " Please try again in a moment."

// Apology returns the spoken apology for a failed turn, or "" when the
// turn was cancelled.
func Apology(err error) string {
	var (
		transport *inference.TransportError
		backend   *inference.BackendError
		protocol  *inference.ProtocolError
	)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return ""
	case errors.As(err, &transport), errors.As(err, &backend):
		return "I'm having trouble connecting to my language processing system." + apologySuffix
	case errors.As(err, &protocol):
		return "I received an invalid response format." + apologySuffix
	default:
		return "I encountered an unexpected error." + apologySuffix
	}
}
