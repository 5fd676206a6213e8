package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	libredis "parkngo/backend/libs/redis"
)

const (
	docKeyPrefix = "doc:"
	colKeyPrefix = "col:"

	updateAttempts = 5
	updateBackoff  = 25 * time.Millisecond
)

// Redis implements Store on top of a Redis instance, mirroring the realtime
// keyed-document semantics the services were designed against. Each document
// lives at doc:<path>; collection membership is tracked in a set at
// col:<collection> so listings never scan the keyspace.
type Redis struct {
	client *redis.Client
}

// OpenRedis connects and validates a Redis-backed store.
func OpenRedis(addr, password string, db int) (*Redis, error) {
	client, err := libredis.NewClient(addr, password, db)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Redis{client: client}, nil
}

// NewRedisStore wraps an existing client, used when the caller manages the
// connection itself.
func NewRedisStore(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func docKey(path string) string {
	return docKeyPrefix + strings.Trim(path, "/")
}

func colKey(collection string) string {
	return colKeyPrefix + strings.Trim(collection, "/")
}

// Get reads the document at path.
func (r *Redis) Get(ctx context.Context, path string, out interface{}) error {
	raw, err := r.client.Get(ctx, docKey(path)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: get %s: %v", ErrUnavailable, path, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("store: decode %s: %w", path, err)
	}
	return nil
}

// Set writes the full document at path and registers it in its collection.
func (r *Redis) Set(ctx context.Context, path string, value interface{}) error {
	collection, id, err := splitPath(path)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", path, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, docKey(path), data, 0)
	pipe.SAdd(ctx, colKey(collection), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, path, err)
	}
	return nil
}

// Update merges fields into the document at path under a WATCH transaction,
// retrying a handful of times when a concurrent writer wins the race.
func (r *Redis) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	key := docKey(path)

	apply := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return fmt.Errorf("store: decode %s: %w", path, err)
		}
		doc = mergeFields(doc, fields)

		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("store: encode %s: %w", path, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	backoff := retry.WithMaxRetries(updateAttempts, retry.NewConstant(updateBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := r.client.Watch(ctx, apply, key)
		if errors.Is(err, redis.TxFailedErr) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: update %s: %v", ErrUnavailable, path, err)
}

// Push appends a new child under collection with a generated id.
func (r *Redis) Push(ctx context.Context, collection string, value interface{}) (string, error) {
	id := uuid.New().String()
	if err := r.Set(ctx, strings.Trim(collection, "/")+"/"+id, value); err != nil {
		return "", err
	}
	return id, nil
}

// List returns all documents in collection keyed by id.
func (r *Redis) List(ctx context.Context, collection string) (map[string]json.RawMessage, error) {
	ids, err := r.client.SMembers(ctx, colKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrUnavailable, collection, err)
	}
	out := make(map[string]json.RawMessage, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(strings.Trim(collection, "/") + "/" + id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrUnavailable, collection, err)
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // member removed between SMEMBERS and MGET
		}
		out[ids[i]] = json.RawMessage(s)
	}
	return out, nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
