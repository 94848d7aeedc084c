// Package memory stores objects in-memory for tests and development.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// ObjectStore stores objects in a map keyed by path.
type ObjectStore struct {
	mu           sync.RWMutex
	data         map[string][]byte
	contentTypes map[string]string
}

// NewObjectStore creates a new in-memory object store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{
		data:         make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

// EnsureBucket always succeeds.
func (s *ObjectStore) EnsureBucket(_ context.Context) error {
	return nil
}

// Upload stores the content, overwriting any previous value at the path.
func (s *ObjectStore) Upload(_ context.Context, path string, contentType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	s.contentTypes[path] = contentType
	return nil
}

// PublicURL returns a memory:// pseudo URL.
func (s *ObjectStore) PublicURL(path string) string {
	return fmt.Sprintf("memory://%s", path)
}

// Object returns the stored bytes and content type for a path.
func (s *ObjectStore) Object(path string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	return data, s.contentTypes[path], ok
}

// Len reports the number of stored objects.
func (s *ObjectStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
