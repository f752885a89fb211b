package db

import (
	"database/sql"
	"fmt"
	"strings"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/kuitang/plansite/internal/terms"
)

const (
	// SQLiteDriverName is the project-specific SQLCipher driver with custom SQL functions.
	SQLiteDriverName = "sqlite3_plansite"
)

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("term_days", sqliteTermDays, true); err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "already exists") {
					return nil
				}
				return fmt.Errorf("register term_days SQL function: %w", err)
			}
			return nil
		},
	})
}

// sqliteTermDays exposes terms.Term.PeriodDays to SQL so period arithmetic
// stays in one place. Unknown tags yield 0.
func sqliteTermDays(tag string) int64 {
	return int64(terms.Term(tag).PeriodDays())
}
