package db

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
)

var (
	scratchInstance *sql.DB
	scratchOnce     sync.Once
	scratchErr      error
)

// Scratch returns the shared in-memory DuckDB used to read JSONL dumps.
func Scratch() (*sql.DB, error) {
	scratchOnce.Do(func() {
		scratchInstance, scratchErr = Open("")
	})
	return scratchInstance, scratchErr
}

// Open opens a DuckDB database file, or an in-memory database when path is
// empty. DuckDB allows one writer, so the pool is pinned to one connection.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to DuckDB at %q: %w", path, err)
	}

	return db, nil
}
