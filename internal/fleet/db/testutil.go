package db

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

var testDBCounter atomic.Int64

// NewTestDB creates a new in-memory SQLite database for testing. Each call
// gets an isolated database so parallel tests do not share state.
func NewTestDB(t *testing.T) (*sql.DB, Store) {
	t.Helper()

	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared&_foreign_keys=on", testDBCounter.Add(1))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// Single connection keeps the in-memory database alive
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to setup test database schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db, NewStoreFromDB(db)
}
