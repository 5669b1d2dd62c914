package memory

import (
	"fmt"
	"os"
	"path/filepath"
)

// Backend persists the serialized memory.
type Backend interface {
	Save(data []byte) error
	// Load returns nil data when nothing has been saved yet.
	Load() ([]byte, error)
	Close() error
}

// JSONFile stores memory in a single JSON file. Writes go to a temporary
// file first and are renamed into place.
type JSONFile struct {
	Path string
}

// NewJSONFile creates a file backend. An empty path disables persistence.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{Path: path}
}

// Save replaces the file contents.
func (f *JSONFile) Save(data []byte) error {
	if f.Path == "" {
		return nil
	}

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}

// Load reads the file. A missing file is not an error.
func (f *JSONFile) Load() ([]byte, error) {
	if f.Path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// Close is a no-op.
func (f *JSONFile) Close() error { return nil }

var _ Backend = (*JSONFile)(nil)
