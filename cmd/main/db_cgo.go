//go:build cgo_sqlite

package main

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// openCacheDB opens the render cache database with the cgo driver.
func openCacheDB(path string) (*sql.DB, error) {
	return sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=5000")
}
