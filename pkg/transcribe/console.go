package transcribe

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Console reads one utterance per input line.
type Console struct {
	in     io.Reader
	prompt io.Writer
	label  string
	logger *slog.Logger

	out       chan Utterance
	startOnce sync.Once

	mu          sync.Mutex
	initialized bool
	listening   bool
	ctx         context.Context
}

// ConsoleOption configures a Console.
type ConsoleOption func(*Console)

// WithPrompt prints label to w before each line is read.
func WithPrompt(w io.Writer, label string) ConsoleOption {
	return func(c *Console) {
		c.prompt = w
		c.label = label
	}
}

// WithConsoleLogger sets the logger.
func WithConsoleLogger(logger *slog.Logger) ConsoleOption {
	return func(c *Console) { c.logger = logger }
}

// NewConsole reads from in, or stdin when in is nil.
func NewConsole(in io.Reader, opts ...ConsoleOption) *Console {
	if in == nil {
		in = os.Stdin
	}
	c := &Console{in: in, logger: slog.Default(), out: make(chan Utterance, 16)}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "transcribe.console")
	return c
}

// Initialize marks the console ready.
func (c *Console) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = true
	return nil
}

// StartListening starts reading input. Lines read while not listening are
// discarded.
func (c *Console) StartListening(ctx context.Context) error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	c.listening = true
	c.ctx = ctx
	c.mu.Unlock()

	c.startOnce.Do(func() { go c.readLoop() })
	return nil
}

// StopListening stops delivering lines.
func (c *Console) StopListening() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listening = false
	return nil
}

// Utterances is closed at end of input.
func (c *Console) Utterances() <-chan Utterance { return c.out }

func (c *Console) readLoop() {
	defer close(c.out)

	scanner := bufio.NewScanner(c.in)
	for {
		c.showPrompt()
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		c.mu.Lock()
		listening, ctx := c.listening, c.ctx
		c.mu.Unlock()
		if !listening {
			c.logger.Debug("discarding input while not listening")
			continue
		}

		select {
		case c.out <- NewUtterance(text):
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("console input failed", "error", err)
		return
	}
	c.logger.Debug("end of console input")
}

func (c *Console) showPrompt() {
	if c.prompt != nil {
		fmt.Fprint(c.prompt, c.label)
	}
}

var _ Transcriber = (*Console)(nil)
