package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const redirectPathPrefix = "redirect_path:"

// PathStore is a small JSON key-value file. It carries the path a visitor
// asked for across a redirect through the site root, keyed by visitor.
type PathStore struct {
	dataDir string
	values  map[string]string
	mu      sync.Mutex
}

// NewPathStore opens (or starts) the store under dataDir.
func NewPathStore(dataDir string) *PathStore {
	s := &PathStore{
		dataDir: dataDir,
		values:  make(map[string]string),
	}
	s.loadFromDisk()
	return s
}

// Get returns the value stored under key.
func (s *PathStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key and persists the store.
func (s *PathStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return s.saveToDisk()
}

// Delete removes key and persists the store.
func (s *PathStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.saveToDisk()
}

// SetPath records the redirect path for visitor.
func (s *PathStore) SetPath(visitor, path string) error {
	return s.Set(redirectPathPrefix+visitor, path)
}

// TakePath returns the visitor's redirect path and clears it. It returns ""
// when no path is stored.
func (s *PathStore) TakePath(visitor string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := redirectPathPrefix + visitor
	path, ok := s.values[key]
	if !ok {
		return "", nil
	}
	delete(s.values, key)
	return path, s.saveToDisk()
}

func (s *PathStore) file() string {
	return filepath.Join(s.dataDir, "paths.json")
}

func (s *PathStore) loadFromDisk() {
	data, err := os.ReadFile(s.file())
	if err != nil {
		return
	}

	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		zap.L().Warn("ignoring unreadable path store", zap.String("file", s.file()), zap.Error(err))
		return
	}
	if values != nil {
		s.values = values
	}
}

func (s *PathStore) saveToDisk() error {
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return eris.Wrap(err, "auth: create data dir")
	}

	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return eris.Wrap(err, "auth: encode path store")
	}
	return eris.Wrap(os.WriteFile(s.file(), data, 0644), "auth: write path store")
}
