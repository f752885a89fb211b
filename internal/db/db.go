// Package db owns the application's SQLite database (SQLCipher-encrypted when a key is configured).
package db

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kuitang/plansite/internal/obs"
)

const (
	// DatabaseName is the filename inside the data directory.
	DatabaseName = "plansite.db"

	// InMemoryPath selects OpenInMemory in place of a data directory.
	InMemoryPath = ":memory:"

	// MaxOpenConns caps the pool. SQLite is single-writer, so high counts only add contention.
	MaxOpenConns = 10

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns = 2
)

// DB wraps the sql.DB connection and provides typed queries.
type DB struct {
	db *sql.DB
}

// NewFromSQL wraps an existing sql.DB. The schema must already be applied.
func NewFromSQL(sqlDB *sql.DB) *DB {
	return &DB{db: sqlDB}
}

// DB returns the underlying sql.DB for direct access when needed.
func (d *DB) DB() *sql.DB {
	return d.db
}

// Open opens (creating if needed) the database file in dataDir.
// keyHex, when non-empty, must be 64 hex characters and enables SQLCipher encryption.
func Open(dataDir, keyHex string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dsn := filepath.Join(dataDir, DatabaseName)
	if keyHex != "" {
		if _, err := hex.DecodeString(keyHex); err != nil || len(keyHex) != 64 {
			return nil, fmt.Errorf("database key must be 64 hex characters")
		}
		dsn = appendSQLiteParams(dsn, fmt.Sprintf("_pragma_key=x'%s'&_pragma_cipher_page_size=4096", keyHex))
	}
	dsn = appendSQLiteParams(dsn, sqliteCommonParams())

	sqlDB, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(MaxIdleConns)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := sqlDB.Exec(Schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	obs.Pkg("db").Info("database opened", "path", filepath.Join(dataDir, DatabaseName), "encrypted", keyHex != "")
	return NewFromSQL(sqlDB), nil
}

// OpenInMemory opens a private in-memory database for tests.
// The pool is pinned to one connection: every :memory: connection is a separate database.
func OpenInMemory() (*DB, error) {
	sqlDB, err := sql.Open(SQLiteDriverName, ":memory:?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping in-memory database: %w", err)
	}
	if _, err := sqlDB.Exec(Schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize in-memory schema: %w", err)
	}
	return NewFromSQL(sqlDB), nil
}

// Reset deletes every row from the application tables. Test fixtures only.
func (d *DB) Reset() error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin reset transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	for _, table := range ResetTables {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset transaction: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

func sqliteCommonParams() string {
	return "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
}

func appendSQLiteParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}
