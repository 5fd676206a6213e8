// Package store provides path-scoped access to the shared realtime document
// store. Documents are JSON values addressed as "collection/id"; collections
// may be nested ("payments/<pid>/releases"). Writes are single-path only;
// there are no multi-path transactions, so callers design every state
// transition as one path update.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates the document does not exist.
	ErrNotFound = errors.New("store: document not found")
	// ErrUnavailable indicates a transient infrastructure failure; the caller
	// retries on its next scheduled pass.
	ErrUnavailable = errors.New("store: unavailable")
)

// Store is the document store contract shared by every service.
type Store interface {
	// Get reads the document at path into out.
	Get(ctx context.Context, path string, out interface{}) error
	// Set writes the full document at path, creating or replacing it.
	Set(ctx context.Context, path string, value interface{}) error
	// Update merges the given fields into the document at path using
	// optimistic concurrency. Fails with ErrNotFound if the document is
	// missing.
	Update(ctx context.Context, path string, fields map[string]interface{}) error
	// Push appends a new child document under collection and returns its
	// generated id.
	Push(ctx context.Context, collection string, value interface{}) (string, error)
	// List returns all child documents of collection keyed by id.
	List(ctx context.Context, collection string) (map[string]json.RawMessage, error)
	// Close releases underlying connections.
	Close() error
}

// Options selects and configures a store driver.
type Options struct {
	Driver        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresDSN   string
}

// Open constructs the driver named by opts.Driver.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "redis", "":
		return OpenRedis(opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
	case "postgres":
		return OpenPostgres(opts.PostgresDSN)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", opts.Driver)
	}
}

// splitPath separates "collection/id" into its collection and id parts. The
// collection itself may contain slashes.
func splitPath(path string) (collection, id string, err error) {
	path = strings.Trim(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx <= 0 || idx == len(path)-1 {
		return "", "", fmt.Errorf("store: invalid document path %q", path)
	}
	return path[:idx], path[idx+1:], nil
}

// mergeFields applies a partial update onto a decoded document.
func mergeFields(doc map[string]interface{}, fields map[string]interface{}) map[string]interface{} {
	if doc == nil {
		doc = make(map[string]interface{}, len(fields))
	}
	for k, v := range fields {
		doc[k] = v
	}
	return doc
}
