package tool

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"
)

// RunEntry is one line of the run-time log.
type RunEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Tool      string    `json:"tool"`
	// Duration in seconds.
	Duration float64 `json:"duration"`
}

// RunLog appends tool execution timings to a JSON-lines file.
// Writes are serialized and best-effort: failures are logged, never returned
// to the caller. A nil *RunLog only times.
type RunLog struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

// NewRunLog returns a run log writing to path.
func NewRunLog(path string, logger *slog.Logger) *RunLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunLog{path: path, logger: logger.With("component", "tool.runlog"), now: time.Now}
}

// Instrument times fn and records the result under name.
func (l *RunLog) Instrument(name string, fn func()) time.Duration {
	start := time.Now()
	fn()
	elapsed := time.Since(start)
	if l != nil {
		l.Append(name, elapsed)
	}
	return elapsed
}

// Append records one entry.
func (l *RunLog) Append(name string, elapsed time.Duration) {
	if l == nil || l.path == "" {
		return
	}
	line, err := json.Marshal(RunEntry{Timestamp: l.now(), Tool: name, Duration: elapsed.Seconds()})
	if err != nil {
		l.logger.Warn("encode run entry", "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		l.logger.Warn("open run log", "path", l.path, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		l.logger.Warn("write run log", "path", l.path, "error", err)
	}
}

// Recent returns up to n of the newest entries, oldest first.
// Malformed lines are skipped.
func (l *RunLog) Recent(n int) ([]RunEntry, error) {
	if l == nil || l.path == "" {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []RunEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e RunEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}
