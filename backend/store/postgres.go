package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	libdb "parkngo/backend/libs/db"
)

// Schema for the documents table. Versions increment on every write; Update
// uses them for optimistic concurrency.
const schema = `
CREATE TABLE IF NOT EXISTS park_documents (
    collection TEXT NOT NULL,
    id         TEXT NOT NULL,
    doc        JSONB NOT NULL,
    version    BIGINT NOT NULL DEFAULT 1,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (collection, id)
)`

var errVersionConflict = errors.New("store: version conflict")

// Postgres implements Store on a park_documents JSONB table.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects, validates, and ensures the documents table exists.
func OpenPostgres(dsn string) (*Postgres, error) {
	pool, err := libdb.NewPostgresDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := pool.ExecContext(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ensure schema: %v", ErrUnavailable, err)
	}

	return &Postgres{db: pool}, nil
}

// Get reads the document at path.
func (p *Postgres) Get(ctx context.Context, path string, out interface{}) error {
	collection, id, err := splitPath(path)
	if err != nil {
		return err
	}

	var raw []byte
	err = p.db.QueryRowContext(ctx,
		`SELECT doc FROM park_documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: get %s: %v", ErrUnavailable, path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("store: decode %s: %w", path, err)
	}
	return nil
}

// Set writes the full document at path, creating or replacing it.
func (p *Postgres) Set(ctx context.Context, path string, value interface{}) error {
	collection, id, err := splitPath(path)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", path, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO park_documents (collection, id, doc)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE SET
			doc = EXCLUDED.doc,
			version = park_documents.version + 1,
			updated_at = NOW()`,
		collection, id, data,
	)
	if err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, path, err)
	}
	return nil
}

// Update merges fields into the document at path, retrying on version
// conflicts with a concurrent writer.
func (p *Postgres) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	collection, id, err := splitPath(path)
	if err != nil {
		return err
	}

	backoff := retry.WithMaxRetries(updateAttempts, retry.NewConstant(updateBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := p.updateOnce(ctx, collection, id, fields)
		if errors.Is(err, errVersionConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: update %s: %v", ErrUnavailable, path, err)
}

func (p *Postgres) updateOnce(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	var raw []byte
	var version int64
	err := p.db.QueryRowContext(ctx,
		`SELECT doc, version FROM park_documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("store: decode %s/%s: %w", collection, id, err)
	}
	doc = mergeFields(doc, fields)

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: encode %s/%s: %w", collection, id, err)
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE park_documents
		SET doc = $3, version = version + 1, updated_at = NOW()
		WHERE collection = $1 AND id = $2 AND version = $4`,
		collection, id, data, version,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errVersionConflict
	}
	return nil
}

// Push appends a new child under collection with a generated id.
func (p *Postgres) Push(ctx context.Context, collection string, value interface{}) (string, error) {
	id := uuid.New().String()
	if err := p.Set(ctx, strings.Trim(collection, "/")+"/"+id, value); err != nil {
		return "", err
	}
	return id, nil
}

// List returns all documents in collection keyed by id.
func (p *Postgres) List(ctx context.Context, collection string) (map[string]json.RawMessage, error) {
	collection = strings.Trim(collection, "/")
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, doc FROM park_documents WHERE collection = $1`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrUnavailable, collection, err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", ErrUnavailable, collection, err)
		}
		out[id] = json.RawMessage(raw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrUnavailable, collection, err)
	}
	return out, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}
