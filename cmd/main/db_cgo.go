//go:build cgo_sqlite

package main

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteDriver = "sqlite3"

// sqliteDSN appends the mattn connection parameters to path. A path that
// already carries a query string is used verbatim.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
}

func initDB(path string) (*sql.DB, error) {
	return openSQLite(sqliteDriver, sqliteDSN(path))
}
