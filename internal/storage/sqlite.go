package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"envelope/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps budgets and months as JSON documents in SQLite, one row
// per document, months keyed by (budget_id, ordinal).
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) ReadMonth(ctx context.Context, budgetID string, ordinal core.Ordinal) (*core.Month, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM months WHERE budget_id = ? AND ordinal = ?`,
		budgetID, int(ordinal)).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &core.PersistenceError{Op: "read month", Err: err}
	}

	var m core.Month
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, &core.PersistenceError{Op: "decode month", Err: err}
	}
	return &m, nil
}

func (s *SQLiteStore) WriteMonths(ctx context.Context, months []*core.Month) error {
	if len(months) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &core.PersistenceError{Op: "begin write months", Err: err}
	}
	defer tx.Rollback()

	for _, m := range months {
		doc, err := json.Marshal(m)
		if err != nil {
			return &core.PersistenceError{Op: "encode month", Err: err}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO months (budget_id, ordinal, doc, updated_at)
			 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT (budget_id, ordinal)
			 DO UPDATE SET doc = excluded.doc, updated_at = CURRENT_TIMESTAMP`,
			m.BudgetID, int(m.Ordinal()), doc)
		if err != nil {
			return &core.PersistenceError{Op: "write month", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &core.PersistenceError{Op: "commit write months", Err: err}
	}

	slog.InfoContext(ctx, "Months written to SQLite", "count", len(months))
	return nil
}

func (s *SQLiteStore) ReadBudget(ctx context.Context, budgetID string) (*core.Budget, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM budgets WHERE id = ?`, budgetID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrBudgetNotFound
	}
	if err != nil {
		return nil, &core.PersistenceError{Op: "read budget", Err: err}
	}

	var b core.Budget
	if err := json.Unmarshal(doc, &b); err != nil {
		return nil, &core.PersistenceError{Op: "decode budget", Err: err}
	}
	return &b, nil
}

func (s *SQLiteStore) WriteBudget(ctx context.Context, b *core.Budget) error {
	doc, err := json.Marshal(b)
	if err != nil {
		return &core.PersistenceError{Op: "encode budget", Err: err}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO budgets (id, doc, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (id)
		 DO UPDATE SET doc = excluded.doc, updated_at = CURRENT_TIMESTAMP`,
		b.ID, doc)
	if err != nil {
		return &core.PersistenceError{Op: "write budget", Err: err}
	}
	return nil
}
