package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaFS embed.FS

var ErrNoPath = errors.New("db path is required")

// The CLI and a running TUI may share one file.
const busyTimeoutMillis = 5000

// Open opens the client database at path and makes sure the settings table exists.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, ErrNoPath
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps ":memory:" shared across queries.
	conn.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("configure db: %w", err)
	}
	if err := migrate(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func migrate(ctx context.Context, conn *sql.DB) error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	if _, err := conn.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
