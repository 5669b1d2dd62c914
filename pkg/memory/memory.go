// Package memory is the assistant's active memory: a small persistent
// key/value store whose contents are rendered into prompts.
package memory

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Store is the memory contract used by tools and prompt rendering.
type Store interface {
	// Upsert sets key to value. It reports whether the key already existed.
	Upsert(key string, value any) bool
	Read(key string) (any, bool)
	// Delete reports whether the key existed.
	Delete(key string) bool
	// ListKeys returns keys in sorted order.
	ListKeys() []string
	Reset()
	// RenderForPrompt renders entries whose keys match any pattern as an
	// XML <memory> block, or "" when nothing matches.
	RenderForPrompt(patterns ...string) string
}

// FileStore is a Store persisted through a Backend after every change.
// Persistence failures are logged; the in-memory state stays authoritative.
type FileStore struct {
	mu      sync.RWMutex
	data    map[string]any
	backend Backend
	logger  *slog.Logger
}

// New creates a store without persistence.
func New() *FileStore {
	return &FileStore{data: make(map[string]any), logger: slog.Default()}
}

// Open creates a store backed by a JSON file at path and loads it.
func Open(path string, logger *slog.Logger) (*FileStore, error) {
	return OpenBackend(NewJSONFile(path), logger)
}

// OpenBackend creates a store on backend and loads existing data.
func OpenBackend(backend Backend, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileStore{
		data:    make(map[string]any),
		backend: backend,
		logger:  logger.With("component", "memory.store"),
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load replaces the in-memory state with the backend contents.
func (s *FileStore) Load() error {
	if s.backend == nil {
		return nil
	}
	raw, err := s.backend.Load()
	if err != nil {
		return fmt.Errorf("memory: load: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	loaded := make(map[string]any)
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&loaded); err != nil {
		return fmt.Errorf("memory: decode: %w", err)
	}

	s.mu.Lock()
	s.data = loaded
	s.mu.Unlock()
	return nil
}

// Save writes the current state to the backend.
func (s *FileStore) Save() error {
	if s.backend == nil {
		return nil
	}
	s.mu.RLock()
	raw, err := json.MarshalIndent(s.data, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("memory: encode: %w", err)
	}
	if err := s.backend.Save(raw); err != nil {
		return fmt.Errorf("memory: save: %w", err)
	}
	return nil
}

func (s *FileStore) persist() {
	if err := s.Save(); err != nil {
		s.logger.Warn("failed to persist memory", "error", err)
	}
}

func (s *FileStore) Upsert(key string, value any) bool {
	s.mu.Lock()
	_, existed := s.data[key]
	s.data[key] = value
	s.mu.Unlock()

	s.persist()
	return existed
}

// Create sets key only when it is absent.
func (s *FileStore) Create(key string, value any) bool {
	s.mu.Lock()
	if _, ok := s.data[key]; ok {
		s.mu.Unlock()
		return false
	}
	s.data[key] = value
	s.mu.Unlock()

	s.persist()
	return true
}

// Update sets key only when it is present.
func (s *FileStore) Update(key string, value any) bool {
	s.mu.Lock()
	if _, ok := s.data[key]; !ok {
		s.mu.Unlock()
		return false
	}
	s.data[key] = value
	s.mu.Unlock()

	s.persist()
	return true
}

func (s *FileStore) Read(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *FileStore) Delete(key string) bool {
	s.mu.Lock()
	_, ok := s.data[key]
	delete(s.data, key)
	s.mu.Unlock()

	if ok {
		s.persist()
	}
	return ok
}

func (s *FileStore) ListKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.data))
}

// Len returns the number of entries.
func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *FileStore) Reset() {
	s.mu.Lock()
	s.data = make(map[string]any)
	s.mu.Unlock()
	s.persist()
}

// Snapshot returns a copy of all entries.
func (s *FileStore) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.data)
}

func (s *FileStore) RenderForPrompt(patterns ...string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b strings.Builder
	for _, key := range slices.Sorted(maps.Keys(s.data)) {
		if !matchAny(patterns, key) {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("<memory>\n")
		}
		b.WriteString(`  <entry key="`)
		_ = xml.EscapeText(&b, []byte(key))
		b.WriteString(`">`)
		_ = xml.EscapeText(&b, []byte(FormatValue(s.data[key])))
		b.WriteString("</entry>\n")
	}
	if b.Len() == 0 {
		return ""
	}
	b.WriteString("</memory>")
	return b.String()
}

// Close releases the backend.
func (s *FileStore) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

// Match reports whether key matches a memory pattern. "*" matches
// everything; "color*", "*color" and "*color*" select by prefix, suffix and
// substring. Any other pattern must equal the key.
func Match(pattern, key string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
		return strings.Contains(key, strings.Trim(pattern, "*"))
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(key, strings.TrimLeft(pattern, "*"))
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(key, strings.TrimRight(pattern, "*"))
	default:
		return pattern == key
	}
}

func matchAny(patterns []string, key string) bool {
	for _, p := range patterns {
		if Match(p, key) {
			return true
		}
	}
	return false
}

// FormatValue renders a stored value for prompts: strings verbatim,
// everything else as compact JSON.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

var _ Store = (*FileStore)(nil)
