// Package blob abstracts evidence payload storage. Active payloads live in
// a plain store; archived payloads pass through the sealed store, which
// encrypts and envelope-hashes them.
package blob

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
)

// Store is the payload storage port
type Store interface {
	// Put writes an object under the given key, replacing any prior object
	Put(ctx context.Context, key string, reader io.Reader) error

	// Get returns a reader over the object at key
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete irreversibly removes the object at key. Deleting a missing key
	// is not an error; disposal must be idempotent.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is stored under key
	Exists(ctx context.Context, key string) (bool, error)

	// List returns the keys with the given prefix
	List(ctx context.Context, prefix string) ([]string, error)
}

// MemoryStore is an in-memory Store for tests and single-node deployments
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty in-memory blob store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Put writes an object
func (s *MemoryStore) Put(ctx context.Context, key string, reader io.Reader) error {
	if key == "" {
		return errors.NewValidationError("EMPTY_KEY", "blob key is required")
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return errors.NewStorageUnavailableError("reading blob payload failed").WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

// Get returns a reader over the stored object
func (s *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[key]
	if !ok {
		return nil, errors.NewNotFoundError("blob " + key)
	}

	copied := make([]byte, len(data))
	copy(copied, data)
	return io.NopCloser(bytes.NewReader(copied)), nil
}

// Delete removes the object; missing keys are ignored
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Exists reports whether the key is stored
func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

// List returns keys with the given prefix, sorted
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	for key := range s.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
