// Package client maintains a local snapshot of the authenticated user
// and keeps it synchronized with the session authority over HTTP.
package client

import (
	"os"
	"path/filepath"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// Storage persists the authenticated user record between process runs.
// Implementations hold a single opaque payload; the state store decides
// what goes in it.
type Storage interface {
	Load() ([]byte, bool, error)
	Save(payload []byte) error
	Clear() error
}

// MemoryStorage keeps the payload in process memory. Useful for tests
// and for callers that do not want persistence.
type MemoryStorage struct {
	mu      sync.Mutex
	payload []byte
	set     bool
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Load() ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.set {
		return nil, false, nil
	}

	out := make([]byte, len(s.payload))
	copy(out, s.payload)

	return out, true, nil
}

func (s *MemoryStorage) Save(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.payload = make([]byte, len(payload))
	copy(s.payload, payload)
	s.set = true

	return nil
}

func (s *MemoryStorage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.payload = nil
	s.set = false

	return nil
}

// FileStorage persists the payload as a file on disk, owner-readable
// only since it holds identity data.
type FileStorage struct {
	mu   sync.Mutex
	path string
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (s *FileStorage) Load() ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read session state file")
	}

	return payload, true, nil
}

func (s *FileStorage) Save(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create session state directory")
		}
	}

	if err := os.WriteFile(s.path, payload, 0o600); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write session state file")
	}

	return nil
}

func (s *FileStorage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to remove session state file")
	}

	return nil
}
