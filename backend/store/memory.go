package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Memory is a mutex-guarded in-process Store used by tests and local runs.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]json.RawMessage // path -> document
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]json.RawMessage)}
}

// Get reads the document at path.
func (m *Memory) Get(ctx context.Context, path string, out interface{}) error {
	m.mu.RLock()
	raw, ok := m.docs[strings.Trim(path, "/")]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("store: decode %s: %w", path, err)
	}
	return nil
}

// Set writes the full document at path.
func (m *Memory) Set(ctx context.Context, path string, value interface{}) error {
	if _, _, err := splitPath(path); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", path, err)
	}
	m.mu.Lock()
	m.docs[strings.Trim(path, "/")] = data
	m.mu.Unlock()
	return nil
}

// Update merges fields into the document at path.
func (m *Memory) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.Trim(path, "/")
	raw, ok := m.docs[key]
	if !ok {
		return ErrNotFound
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("store: decode %s: %w", path, err)
	}
	doc = mergeFields(doc, fields)

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", path, err)
	}
	m.docs[key] = data
	return nil
}

// Push appends a new child under collection with a generated id.
func (m *Memory) Push(ctx context.Context, collection string, value interface{}) (string, error) {
	id := uuid.New().String()
	if err := m.Set(ctx, strings.Trim(collection, "/")+"/"+id, value); err != nil {
		return "", err
	}
	return id, nil
}

// List returns all direct children of collection keyed by id.
func (m *Memory) List(ctx context.Context, collection string) (map[string]json.RawMessage, error) {
	prefix := strings.Trim(collection, "/") + "/"

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]json.RawMessage)
	for path, raw := range m.docs {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		id := path[len(prefix):]
		if strings.Contains(id, "/") {
			continue // child of a nested collection
		}
		cp := make(json.RawMessage, len(raw))
		copy(cp, raw)
		out[id] = cp
	}
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
