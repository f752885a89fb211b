// Package testdb opens throwaway databases for package tests.
package testdb

import (
	"context"
	"testing"
	"time"

	"github.com/kuitang/plansite/internal/db"
)

// New opens a private in-memory database with the full schema and closes it
// when t finishes.
func New(t testing.TB) *db.DB {
	t.Helper()
	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("open in-memory database: %v", err)
	}
	if err := applyFastSQLitePragmas(database); err != nil {
		database.Close()
		t.Fatalf("apply fast SQLite pragmas: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

// CreateUser inserts a user row directly, bypassing password hashing.
func CreateUser(t testing.TB, database *db.DB, id, email string) {
	t.Helper()
	err := database.CreateUser(context.Background(), db.User{
		ID:           id,
		Email:        email,
		PasswordHash: "unused",
		CreatedAt:    time.Now().Unix(),
	})
	if err != nil {
		t.Fatalf("create user %s: %v", id, err)
	}
}

func applyFastSQLitePragmas(database *db.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=MEMORY",
		"PRAGMA synchronous=OFF",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := database.DB().Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}
