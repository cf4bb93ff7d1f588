//go:build !cgo_sqlite

package main

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

// openCacheDB opens the render cache database with the pure Go driver.
func openCacheDB(path string) (*sql.DB, error) {
	return sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
}
