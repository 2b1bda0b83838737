// Package docstore keeps JSON documents grouped in named collections inside a
// single Postgres jsonb table. Filters use jsonb containment so the GIN index
// on data serves equality lookups on any field.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("docstore: document not found")

// Document is a stored JSON document.
type Document struct {
	Collection string
	ID         string
	Data       json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Decode unmarshals the document body into dst.
func (d Document) Decode(dst any) error {
	return json.Unmarshal(d.Data, dst)
}

// FindOptions controls ordering and paging of Find.
type FindOptions struct {
	// OrderBy is a top-level document field, or "created_at" (the default).
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store runs document operations against a pool or, inside InTx, a transaction.
type Store struct {
	db   querier
	pool *pgxpool.Pool
}

// New returns a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool, pool: pool}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errors.New("docstore: pool not configured")
	}
	return s.pool.Ping(ctx)
}

// InTx runs fn with a Store bound to a single transaction. The transaction
// commits when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.pool == nil {
		// already inside a transaction
		return fn(s)
	}
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&Store{db: tx})
	})
}

// Get loads one document.
func (s *Store) Get(ctx context.Context, collection, id string) (Document, error) {
	row := s.db.QueryRow(ctx,
		`SELECT collection, id, data, created_at, updated_at FROM documents WHERE collection = $1 AND id = $2`,
		collection, id)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return doc, err
}

// Find returns the documents of collection whose body contains filter. A nil
// filter matches every document.
func (s *Store) Find(ctx context.Context, collection string, filter any, opts FindOptions) ([]Document, error) {
	where, args, err := containment(collection, filter)
	if err != nil {
		return nil, err
	}
	order, err := orderClause(opts)
	if err != nil {
		return nil, err
	}
	sql := `SELECT collection, id, data, created_at, updated_at FROM documents WHERE ` + where + order
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// Count returns the number of documents matching filter.
func (s *Store) Count(ctx context.Context, collection string, filter any) (int, error) {
	where, args, err := containment(collection, filter)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.QueryRow(ctx, `SELECT count(*) FROM documents WHERE `+where, args...).Scan(&n)
	return n, err
}

// Insert stores doc under id unless a document with that id exists. It
// reports whether a row was written.
func (s *Store) Insert(ctx context.Context, collection, id string, doc any) (bool, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("docstore: encode %s/%s: %w", collection, id, err)
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3) ON CONFLICT (collection, id) DO NOTHING`,
		collection, id, data)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Put creates or replaces the document.
func (s *Store) Put(ctx context.Context, collection, id string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("docstore: encode %s/%s: %w", collection, id, err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
		 ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		collection, id, data)
	return err
}

// Merge shallow-merges fields into the document and returns the result.
func (s *Store) Merge(ctx context.Context, collection, id string, fields map[string]any) (Document, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return Document{}, fmt.Errorf("docstore: encode patch: %w", err)
	}
	row := s.db.QueryRow(ctx,
		`UPDATE documents SET data = data || $3::jsonb, updated_at = now()
		 WHERE collection = $1 AND id = $2
		 RETURNING collection, id, data, created_at, updated_at`,
		collection, id, data)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return doc, err
}

// Decrement lowers an integer field by delta, never below zero. Missing
// documents are reported as ErrNotFound.
func (s *Store) Decrement(ctx context.Context, collection, id, field string, delta int) error {
	if !validField(field) {
		return fmt.Errorf("docstore: invalid field %q", field)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE documents
		 SET data = jsonb_set(data, ARRAY[$3::text], to_jsonb(GREATEST(COALESCE((data->>$3)::numeric, 0)::int - $4, 0))),
		     updated_at = now()
		 WHERE collection = $1 AND id = $2`,
		collection, id, field, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (Document, error) {
	var doc Document
	var data []byte
	if err := row.Scan(&doc.Collection, &doc.ID, &data, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return Document{}, err
	}
	doc.Data = data
	return doc, nil
}

func containment(collection string, filter any) (string, []any, error) {
	args := []any{collection}
	if filter == nil {
		return "collection = $1", args, nil
	}
	data, err := json.Marshal(filter)
	if err != nil {
		return "", nil, fmt.Errorf("docstore: encode filter: %w", err)
	}
	if string(data) == "{}" || string(data) == "null" {
		return "collection = $1", args, nil
	}
	args = append(args, data)
	return "collection = $1 AND data @> $2::jsonb", args, nil
}

func orderClause(opts FindOptions) (string, error) {
	dir := " ASC"
	if opts.Desc {
		dir = " DESC"
	}
	switch field := strings.TrimSpace(opts.OrderBy); field {
	case "", "created_at":
		return " ORDER BY created_at" + dir + ", id", nil
	case "updated_at":
		return " ORDER BY updated_at" + dir + ", id", nil
	default:
		if !validField(field) {
			return "", fmt.Errorf("docstore: invalid order field %q", field)
		}
		return " ORDER BY data->>'" + field + "'" + dir + ", id", nil
	}
}

// validField accepts plain identifiers only; field names end up in SQL text.
func validField(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
