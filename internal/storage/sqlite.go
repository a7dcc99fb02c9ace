package storage

import (
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"site-decisions/internal/config"
)

type SQLiteProvider struct {
	*SQLProvider
}

func NewSQLiteProvider(config *config.Storage) (*SQLiteProvider, error) {
	dsn := config.SQLite.Path
	if dsn == ":memory:" {
		dsn = "file::memory:"
	} else if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	dsn += "?_foreign_keys=on&_busy_timeout=5000"

	provider, err := NewSQLProvider(config, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %q: %w", config.SQLite.Path, err)
	}
	// SQLite allows a single writer. One connection also keeps an
	// in-memory database alive and shared.
	provider.db.SetMaxOpenConns(1)

	return &SQLiteProvider{SQLProvider: provider}, nil
}
