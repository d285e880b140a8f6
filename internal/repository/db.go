package repository

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/yejinpRE/plan-checker/internal/rulebook"
)

// MemoryDSN keeps the repository for the lifetime of the process only.
const MemoryDSN = ":memory:"

// Prepared statement names.
const (
	stmtUpsert    = "upsert_case"
	stmtGet       = "get_case"
	stmtList      = "list_cases"
	stmtListBatch = "list_batch"
	stmtCount     = "count_cases"
	stmtClear     = "clear_cases"
)

// DB is the sqlite handle with its prepared statements. An in-memory
// database lives inside one connection, so the pool is pinned to a single
// connection that is never recycled.
type DB struct {
	*sql.DB
	mu       sync.RWMutex
	prepared map[string]*sql.Stmt
}

// Open opens the repository database and creates the score table. An empty
// dsn selects MemoryDSN.
func Open(dsn string) (*DB, error) {
	if dsn == "" {
		dsn = MemoryDSN
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	db := &DB{DB: sqlDB, prepared: make(map[string]*sql.Stmt)}

	for _, step := range []struct {
		name string
		run  func() error
	}{
		{"ping database", sqlDB.Ping},
		{"run migrations", db.migrate},
		{"prepare statements", db.prepare},
	} {
		if err := step.run(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to %s: %w", step.name, err)
		}
	}

	slog.Debug("Repository database initialized", "dsn", dsn, "dimensions", len(scoreColumns()))
	return db, nil
}

// scoreColumns are the per-dimension columns in canonical order.
func scoreColumns() []string {
	dims := rulebook.Dimensions()
	cols := make([]string, len(dims))
	for i, d := range dims {
		cols[i] = strings.ToLower(d)
	}
	return cols
}

func (db *DB) migrate() error {
	var b strings.Builder
	b.WriteString(`CREATE TABLE IF NOT EXISTS case_scores (
		id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL UNIQUE,
		batch_id TEXT NOT NULL,
		extracted BOOLEAN NOT NULL,
		mime_type TEXT,`)
	for _, c := range scoreColumns() {
		fmt.Fprintf(&b, "\n\t\t%s REAL NOT NULL DEFAULT 0,", c)
	}
	b.WriteString(`
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`)

	for _, q := range []string{
		b.String(),
		`CREATE INDEX IF NOT EXISTS idx_case_scores_batch ON case_scores(batch_id)`,
	} {
		if _, err := db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) prepare() error {
	cols := scoreColumns()
	scoreList := strings.Join(cols, ", ")
	updates := make([]string, len(cols))
	for i, c := range cols {
		updates[i] = c + " = excluded." + c
	}
	selectCols := "id, case_id, batch_id, extracted, mime_type, " + scoreList + ", created_at, updated_at"

	queries := map[string]string{
		stmtUpsert: `INSERT INTO case_scores (id, case_id, batch_id, extracted, mime_type, ` + scoreList + `, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ` + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + `, ?, ?)
			ON CONFLICT(case_id) DO UPDATE SET
			batch_id = excluded.batch_id, extracted = excluded.extracted, mime_type = excluded.mime_type,
			` + strings.Join(updates, ", ") + `, updated_at = excluded.updated_at`,
		stmtGet:       `SELECT ` + selectCols + ` FROM case_scores WHERE case_id = ?`,
		stmtList:      `SELECT ` + selectCols + ` FROM case_scores ORDER BY case_id`,
		stmtListBatch: `SELECT ` + selectCols + ` FROM case_scores WHERE batch_id = ? ORDER BY case_id`,
		stmtCount:     `SELECT COUNT(*) FROM case_scores`,
		stmtClear:     `DELETE FROM case_scores`,
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	for name, q := range queries {
		stmt, err := db.Prepare(q)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		db.prepared[name] = stmt
	}
	return nil
}

// GetPreparedStatement returns a statement prepared by Open.
func (db *DB) GetPreparedStatement(name string) (*sql.Stmt, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	stmt, ok := db.prepared[name]
	if !ok {
		return nil, fmt.Errorf("prepared statement %s not found", name)
	}
	return stmt, nil
}

// GetPoolStats reports the connection pool for /metrics.
func (db *DB) GetPoolStats() map[string]interface{} {
	s := db.Stats()
	return map[string]interface{}{
		"open_connections":     s.OpenConnections,
		"in_use":               s.InUse,
		"idle":                 s.Idle,
		"max_open_connections": s.MaxOpenConnections,
		"wait_count":           s.WaitCount,
		"wait_duration_ms":     s.WaitDuration.Milliseconds(),
	}
}

// Close closes the prepared statements and the database.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for name, stmt := range db.prepared {
		if err := stmt.Close(); err != nil {
			slog.Warn("Failed to close prepared statement", "name", name, "error", err)
		}
	}
	db.prepared = map[string]*sql.Stmt{}
	return db.DB.Close()
}
