package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps settings in a nested JSON document on the local file
// system. Writes happen in memory; Persist marshals the document and replaces
// the file atomically via rename.
type FileStore struct {
	mu   sync.RWMutex
	path string
	data map[string]any
	log  *slog.Logger
}

// NewFileStore opens or creates a JSON-backed settings store at path.
func NewFileStore(path string, log *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create settings directory: %w", err)
	}

	s := &FileStore{
		path: path,
		data: make(map[string]any),
		log:  log,
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
		}
	}

	return s, nil
}

// Get returns the value at the dotted key, or def when absent.
func (s *FileStore) Get(key string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node := any(s.data)
	for _, part := range strings.Split(key, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return def
		}
		node, ok = m[part]
		if !ok {
			return def
		}
	}
	return node
}

// Set stores a value at the dotted key, creating intermediate objects as
// needed. A non-object intermediate value is replaced.
func (s *FileStore) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := strings.Split(key, ".")
	node := s.data
	for _, part := range parts[:len(parts)-1] {
		next, ok := node[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			node[part] = next
		}
		node = next
	}
	node[parts[len(parts)-1]] = value
	return nil
}

// Persist writes the document to a uniquely named temporary file in the
// store's directory and renames it over the store path, so readers never
// observe a partially written file. The unique temp name keeps concurrent
// Persist calls from racing each other's write and rename.
func (s *FileStore) Persist() error {
	s.mu.RLock()
	raw, err := json.MarshalIndent(s.data, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create settings temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to set settings file mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace settings file: %w", err)
	}

	s.log.Debug("Persisted settings", slog.String("path", s.path), slog.Int("size", len(raw)))
	return nil
}

// Name returns a unique identifier for this store backend.
func (s *FileStore) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(s.path))
}
