package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yejinpRE/plan-checker/internal/rulebook"
)

// ErrNotFound is returned when no entry exists for a case id.
var ErrNotFound = errors.New("case not found")

// Repository stores per-case rulebook scores.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Upsert inserts an entry or replaces the scores of an existing case id.
func (r *Repository) Upsert(ctx context.Context, e *Entry) error {
	stmt, err := r.db.GetPreparedStatement(stmtUpsert)
	if err != nil {
		return err
	}
	return upsert(ctx, stmt, e)
}

// UpsertAll writes entries in one transaction. Either every entry is stored
// or none is.
func (r *Repository) UpsertAll(ctx context.Context, entries []*Entry) error {
	stmt, err := r.db.GetPreparedStatement(stmtUpsert)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	txStmt := tx.StmtContext(ctx, stmt)
	for _, e := range entries {
		if err := upsert(ctx, txStmt, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %d entries: %w", len(entries), err)
	}
	return nil
}

func upsert(ctx context.Context, stmt *sql.Stmt, e *Entry) error {
	if e == nil || e.CaseID == "" {
		return errors.New("case id is required")
	}

	e.UpdatedAt = time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = e.UpdatedAt
	}

	args := []interface{}{e.ID, e.CaseID, e.BatchID, e.Extracted, e.MIMEType}
	for _, d := range rulebook.Dimensions() {
		args = append(args, e.Scores[d])
	}
	args = append(args, e.CreatedAt, e.UpdatedAt)

	if _, err := stmt.ExecContext(ctx, args...); err != nil {
		return fmt.Errorf("failed to upsert case %s: %w", e.CaseID, err)
	}
	return nil
}

// Get returns the entry for a case id.
func (r *Repository) Get(ctx context.Context, caseID string) (*Entry, error) {
	stmt, err := r.db.GetPreparedStatement(stmtGet)
	if err != nil {
		return nil, err
	}

	e, err := scanEntry(stmt.QueryRowContext(ctx, caseID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case %s: %w", caseID, err)
	}
	return e, nil
}

// List returns every entry ordered by case id.
func (r *Repository) List(ctx context.Context) ([]*Entry, error) {
	return r.list(ctx, stmtList)
}

// ListBatch returns the entries written by one batch run.
func (r *Repository) ListBatch(ctx context.Context, batchID string) ([]*Entry, error) {
	return r.list(ctx, stmtListBatch, batchID)
}

func (r *Repository) list(ctx context.Context, name string, args ...interface{}) ([]*Entry, error) {
	stmt, err := r.db.GetPreparedStatement(name)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	return entries, nil
}

// Count returns the number of stored cases.
func (r *Repository) Count(ctx context.Context) (int, error) {
	stmt, err := r.db.GetPreparedStatement(stmtCount)
	if err != nil {
		return 0, err
	}

	var n int
	if err := stmt.QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cases: %w", err)
	}
	return n, nil
}

// Clear removes every entry and reports how many were deleted.
func (r *Repository) Clear(ctx context.Context) (int64, error) {
	stmt, err := r.db.GetPreparedStatement(stmtClear)
	if err != nil {
		return 0, err
	}

	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to clear cases: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e    Entry
		mime sql.NullString
	)
	dims := rulebook.Dimensions()
	values := make([]float64, len(dims))

	dest := []interface{}{&e.ID, &e.CaseID, &e.BatchID, &e.Extracted, &mime}
	for i := range values {
		dest = append(dest, &values[i])
	}
	dest = append(dest, &e.CreatedAt, &e.UpdatedAt)

	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	e.MIMEType = mime.String
	e.Scores = make(rulebook.ScoreMap, len(dims))
	for i, d := range dims {
		e.Scores[d] = values[i]
	}
	return &e, nil
}
