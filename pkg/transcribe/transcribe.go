// Package transcribe produces user utterances from console input or the
// microphone.
//
// A Transcriber is an independent producer: once listening, it delivers
// finished utterances on its channel regardless of what the consumer is
// doing. Consumers decide what to do with utterances that arrive while
// they are busy.
package transcribe

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrNotInitialized is returned by StartListening before Initialize.
	ErrNotInitialized = errors.New("transcribe: not initialized")

	// ErrClosed is returned after the transcriber has shut down.
	ErrClosed = errors.New("transcribe: closed")
)

// Utterance is one finished piece of user speech.
type Utterance struct {
	ID   ulid.ULID `json:"id"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// NewUtterance stamps text with a fresh sortable ID.
func NewUtterance(text string) Utterance {
	now := time.Now()
	return Utterance{ID: ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()), Text: text, At: now}
}

// Transcriber is a source of utterances.
type Transcriber interface {
	// Initialize prepares devices and credentials.
	Initialize(ctx context.Context) error

	// StartListening begins producing utterances until StopListening or
	// ctx ends.
	StartListening(ctx context.Context) error

	// StopListening pauses production. Safe to call repeatedly.
	StopListening() error

	// Utterances delivers finished utterances. It is closed when the
	// transcriber can produce no more (for example at end of input).
	Utterances() <-chan Utterance
}
