package transcribe

import (
	"io"
	"sync"
)

// syncPipe lets a test write lines that a Console reads one at a time.
type syncPipe struct {
	w  *io.PipeWriter
	mu sync.Mutex
}

func ioPipe() (*io.PipeReader, *syncPipe) {
	r, w := io.Pipe()
	return r, &syncPipe{w: w}
}

func (p *syncPipe) write(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.w, s)
}

func (p *syncPipe) close() { _ = p.w.Close() }
