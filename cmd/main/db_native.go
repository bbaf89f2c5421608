//go:build !cgo_sqlite

package main

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteDriver = "sqlite"

// sqliteDSN appends the modernc pragmas to path. A path that already carries
// a query string is used verbatim.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func initDB(path string) (*sql.DB, error) {
	return openSQLite(sqliteDriver, sqliteDSN(path))
}
