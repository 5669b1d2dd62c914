package speech

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// TextOutput prints replies, prefixed with the assistant name.
type TextOutput struct {
	name string

	mu sync.Mutex
	w  io.Writer
}

// NewTextOutput writes to w, or stdout when w is nil.
func NewTextOutput(w io.Writer, assistantName string) *TextOutput {
	if w == nil {
		w = os.Stdout
	}
	return &TextOutput{name: assistantName, w: w}
}

// Speak writes one line per reply.
func (t *TextOutput) Speak(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	if t.name != "" {
		_, err = fmt.Fprintf(t.w, "%s: %s\n", t.name, text)
	} else {
		_, err = fmt.Fprintln(t.w, text)
	}
	return err
}
