package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SourceCorpus marks documents loaded by an index rebuild. Rebuilds replace
// exactly this set and leave ingested documents alone.
const SourceCorpus = "corpus"

func (s *Store) SaveContextDoc(ctx context.Context, doc ContextDoc) error {
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO context_docs (id, title, content, source, created_at, vector_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Content, doc.Source, formatTime(createdAt), doc.VectorID,
	)
	if err != nil {
		return fmt.Errorf("%w: inserting context doc %s: %w", ErrStorageFailure, doc.ID, err)
	}
	return nil
}

func (s *Store) GetContextDoc(ctx context.Context, id string) (ContextDoc, error) {
	d, err := scanContextDoc(s.db.QueryRowContext(ctx, `
		SELECT id, title, content, source, created_at, vector_id
		FROM context_docs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ContextDoc{}, fmt.Errorf("%w: context doc %s", ErrNotFound, id)
	}
	return d, err
}

// ListContextDocs returns documents newest first.
func (s *Store) ListContextDocs(ctx context.Context, limit, offset int) ([]ContextDoc, error) {
	return s.queryContextDocs(ctx, `
		SELECT id, title, content, source, created_at, vector_id
		FROM context_docs ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
}

// AllContextDocs returns every document, oldest first.
func (s *Store) AllContextDocs(ctx context.Context) ([]ContextDoc, error) {
	return s.queryContextDocs(ctx, `
		SELECT id, title, content, source, created_at, vector_id
		FROM context_docs ORDER BY created_at ASC, id ASC`)
}

// ReplaceCorpusDocs swaps the corpus document set in one transaction.
func (s *Store) ReplaceCorpusDocs(ctx context.Context, docs []ContextDoc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning corpus replace: %w", ErrStorageFailure, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM context_docs WHERE source = ?`, SourceCorpus); err != nil {
		return fmt.Errorf("%w: clearing corpus docs: %w", ErrStorageFailure, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO context_docs (id, title, content, source, created_at, vector_id)
		VALUES (?, ?, ?, ?, ?, '')`)
	if err != nil {
		return fmt.Errorf("%w: preparing corpus insert: %w", ErrStorageFailure, err)
	}
	defer stmt.Close()

	now := s.now()
	for _, d := range docs {
		createdAt := d.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := stmt.ExecContext(ctx, d.ID, d.Title, d.Content, SourceCorpus, formatTime(createdAt)); err != nil {
			return fmt.Errorf("%w: inserting corpus doc %s: %w", ErrStorageFailure, d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing corpus replace: %w", ErrStorageFailure, err)
	}
	return nil
}

func (s *Store) UpdateContextDocVectorID(ctx context.Context, id, vectorID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE context_docs SET vector_id = ? WHERE id = ?`, vectorID, id)
	if err != nil {
		return fmt.Errorf("%w: updating vector id of %s: %w", ErrStorageFailure, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: context doc %s", ErrNotFound, id)
	}
	return nil
}

func (s *Store) queryContextDocs(ctx context.Context, query string, args ...any) ([]ContextDoc, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying context docs: %w", err)
	}
	defer rows.Close()

	var out []ContextDoc
	for rows.Next() {
		d, err := scanContextDoc(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanContextDoc(row rowScanner) (ContextDoc, error) {
	var d ContextDoc
	var createdAt string
	if err := row.Scan(&d.ID, &d.Title, &d.Content, &d.Source, &createdAt, &d.VectorID); err != nil {
		return ContextDoc{}, err
	}
	t, err := parseTime("created_at", createdAt)
	if err != nil {
		return ContextDoc{}, err
	}
	d.CreatedAt = t
	return d, nil
}
