package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nainya/linksweep/pkg/doctree"
	"github.com/nainya/linksweep/pkg/patch"
	"github.com/nainya/linksweep/pkg/storage"
)

// Verify interface compliance
var _ storage.Store = (*Store)(nil)

// Store implements storage.Store on a JSONB documents table.
// JSONB normalizes key order, so documents read back sorted by key length.
type Store struct {
	db *DB
}

// NewStore creates a new Store
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Collections lists collections holding at least one document
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT collection FROM documents ORDER BY collection`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Iterate streams a collection in id order
func (s *Store) Iterate(ctx context.Context, collection string, fn storage.IterateFunc) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, doc FROM documents WHERE collection = $1 ORDER BY id`, collection)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return err
		}
		doc, err := doctree.Decode(raw)
		if err != nil {
			return fmt.Errorf("%s/%s: %w", collection, id, err)
		}
		if err := fn(id, doc); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Get loads one document
func (s *Store) Get(ctx context.Context, collection, id string) (*doctree.Node, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE collection = $1 AND id = $2`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", storage.ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, err
	}
	return doctree.Decode(raw)
}

// Put creates or overwrites a document
func (s *Store) Put(ctx context.Context, collection, id string, doc *doctree.Node) error {
	raw, err := doctree.Encode(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, doc)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO UPDATE SET
			doc = EXCLUDED.doc,
			updated_at = now()
	`, collection, id, string(raw))
	return err
}

// ApplyPatch writes every patch entry in a single statement
func (s *Store) ApplyPatch(ctx context.Context, collection, id string, p patch.Patch) error {
	if p.IsEmpty() {
		return nil
	}
	query, args, err := PatchSQL(p)
	if err != nil {
		return err
	}

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, append([]any{collection, id}, args...)...)
		if err != nil {
			return fmt.Errorf("patch %s/%s: %w", collection, id, err)
		}
		return expectOne(res, collection, id)
	})
}

// Replace overwrites an existing document
func (s *Store) Replace(ctx context.Context, collection, id string, doc *doctree.Node) error {
	raw, err := doctree.Encode(doc)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET doc = $3::jsonb, updated_at = now() WHERE collection = $1 AND id = $2`,
		collection, id, string(raw))
	if err != nil {
		return fmt.Errorf("replace %s/%s: %w", collection, id, err)
	}
	return expectOne(res, collection, id)
}

func expectOne(res sql.Result, collection, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", storage.ErrNotFound, collection, id)
	}
	return nil
}

// Close closes the pool
func (s *Store) Close() error {
	return s.db.Close()
}
