//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"anonpost/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps every mapping in one kv table. Update runs inside a
// transaction; with a single connection this serializes all mutations.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context, name string) (Mapping, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	return s.load(ctx, s.db, name)
}

func (s *sqliteStore) load(ctx context.Context, q querier, name string) (Mapping, error) {
	rows, err := q.QueryContext(ctx, `SELECT key, value FROM kv WHERE mapping = ?`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m := Mapping{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		if !json.Valid([]byte(value)) {
			s.log.Error("malformed stored value, dropping", logx.String("mapping", name), logx.String("key", key))
			continue
		}
		m[key] = json.RawMessage(value)
	}
	return m, rows.Err()
}

func (s *sqliteStore) Save(ctx context.Context, name string, m Mapping) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := saveTx(ctx, tx, name, m); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) Update(ctx context.Context, name string, fn func(m Mapping) error) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	m, err := s.load(ctx, tx, name)
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	if err := saveTx(ctx, tx, name, m); err != nil {
		return err
	}
	return tx.Commit()
}

func saveTx(ctx context.Context, tx *sql.Tx, name string, m Mapping) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE mapping = ?`, name); err != nil {
		return err
	}
	for key, value := range m {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv(mapping, key, value) VALUES(?,?,?)`,
			name, key, string(value),
		); err != nil {
			return err
		}
	}
	return nil
}
