package position

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store persists the single position record.
//
// Load never fails: a missing, unreadable or invalid record yields Flat.
// Save fully replaces the record.
type Store interface {
	Load() Position
	Save(Position) error
	Close() error
}

// Open returns the store for kind ("file" or "sqlite") at path.
func Open(kind, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "file", "yaml":
		return NewFileStore(path)
	case "sqlite", "sqlite3":
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown state store type %q (supported: file, sqlite)", kind)
	}
}

// FileStore keeps the position as a flat YAML document.
type FileStore struct {
	path string
	mu   sync.Mutex
	log  *slog.Logger
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("empty state path")
	}
	return &FileStore{path: path, log: slog.Default()}, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load() Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("state unreadable, starting flat", "path", s.path, "err", err)
		}
		return Flat()
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return Flat()
	}

	var p Position
	if err := yaml.Unmarshal(data, &p); err != nil {
		s.log.Warn("state corrupt, starting flat", "path", s.path, "err", err)
		return Flat()
	}
	if !p.Valid() {
		s.log.Warn("state violates position invariant, starting flat", "path", s.path, "position", p)
		return Flat()
	}
	return p
}

// Save writes to a temp file in the same directory and renames it over the
// record, so a crash mid-write leaves the previous record intact.
func (s *FileStore) Save(p Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".position-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
