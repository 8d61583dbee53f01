// Package testutil bootstraps integration tests against a real database.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	_ "github.com/lib/pq"
)

// PGTest connects to the database named by POSTGRES_URL, applies the
// project migrations, and returns the connection plus a cleanup that
// truncates every application table. Tests are skipped when POSTGRES_URL
// is unset:
//
//	db, cleanup := testutil.PGTest(t)
//	defer cleanup()
func PGTest(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("pgtest: open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: connect to database: %v", err)
	}

	ctx := context.Background()
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: %v", err)
	}

	return db, func() {
		truncateAll(ctx, db)
		_ = db.Close()
	}
}

// applyMigrations locates the migrations/ directory by walking up from
// the test's working directory and executes the Up section of each file
// in name order.
func applyMigrations(ctx context.Context, db *sql.DB) error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getwd: %w", err)
	}
	for {
		candidate := filepath.Join(dir, "migrations")
		if info, statErr := os.Stat(candidate); statErr == nil && info.IsDir() {
			dir = candidate
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return fmt.Errorf("migrations/ directory not found above cwd")
		}
		dir = parent
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name)) // #nosec G304 -- path found by walking up from cwd
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		// Goose files carry both directions; run only the Up section.
		up := string(data)
		if i := strings.Index(up, "-- +goose Down"); i >= 0 {
			up = up[:i]
		}
		if _, err := db.ExecContext(ctx, up); err != nil {
			// Schema survives between runs; cleanup truncates, it does
			// not drop.
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("execute %s: %w", name, err)
		}
	}
	return nil
}

// truncateAll empties every table in the public schema so each test run
// starts clean. Best effort; teardown failures are not worth failing a
// test over.
func truncateAll(ctx context.Context, db *sql.DB) {
	rows, err := db.QueryContext(ctx, `
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public' AND tablename NOT LIKE 'goose%'
	`)
	if err != nil {
		return
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			tables = append(tables, name)
		}
	}
	if len(tables) == 0 {
		return
	}
	stmt := "TRUNCATE " + strings.Join(tables, ", ") + " CASCADE" // #nosec G202 -- names come from pg_tables
	_, _ = db.ExecContext(ctx, stmt)
}
