package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound marks a lookup that matched no row.
var ErrNotFound = errors.New("db: not found")

// Database wraps a sqlite handle configured for a single concurrent writer,
// which is how sqlite behaves anyway.
type Database struct {
	*sql.DB
}

// Open opens (and creates if needed) the sqlite database at path. Use
// ":memory:" for tests.
func Open(path string) (*Database, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	if path == ":memory:" {
		dsn = ":memory:"
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return &Database{DB: conn}, nil
}

// ApplyMigrations executes schema statements in order. Statements are
// expected to be idempotent (CREATE TABLE IF NOT EXISTS and friends).
func (d *Database) ApplyMigrations(stmts []string) error {
	for i, stmt := range stmts {
		if _, err := d.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
