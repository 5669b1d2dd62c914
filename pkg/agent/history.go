package agent

import (
	"slices"
	"sync"

	"github.com/teslashibe/go-jarvis/pkg/inference"
)

// History is the ordered conversation transcript. The loop is its only
// writer; readers get copies.
type History struct {
	mu       sync.RWMutex
	messages []inference.Message
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{}
}

// Reset clears the history and seeds it with a system message.
func (h *History) Reset(system string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = h.messages[:0]
	if system != "" {
		h.messages = append(h.messages, inference.NewSystemMessage(system))
	}
}

// Append adds messages at the end.
func (h *History) Append(msgs ...inference.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msgs...)
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Truncate drops every message from index n on. It is used to roll back
// a failed turn.
func (h *History) Truncate(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if n < len(h.messages) {
		clear(h.messages[n:])
		h.messages = h.messages[:n]
	}
}

// Messages returns a copy of the transcript.
func (h *History) Messages() []inference.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.messages)
}

// Last returns the final message, if any.
func (h *History) Last() (inference.Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.messages) == 0 {
		return inference.Message{}, false
	}
	return h.messages[len(h.messages)-1], true
}
