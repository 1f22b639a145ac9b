package mirror

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryRemote is an in-memory implementation of the Remote interface.
// It stores all objects in a map, making it useful for testing.
// This implementation is safe for concurrent use.
type MemoryRemote struct {
	objects map[string][]byte
	mu      sync.RWMutex
}

// NewMemoryRemote creates a new in-memory remote.
func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{objects: make(map[string][]byte)}
}

// Exists reports whether an object has been stored under key.
func (m *MemoryRemote) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.objects[key]
	return ok, nil
}

// Put stores the object under key. Overwriting the same key is safe.
func (m *MemoryRemote) Put(_ context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = data
	return nil
}

// Get writes the object stored under key to w.
func (m *MemoryRemote) Get(_ context.Context, key string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return fmt.Errorf("object not found: %s", key)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}

	return nil
}

// Len returns the number of stored objects.
func (m *MemoryRemote) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Compile-time check that MemoryRemote implements the Remote interface
var _ Remote = (*MemoryRemote)(nil)
