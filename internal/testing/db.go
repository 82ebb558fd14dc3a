// Package testing provides test helpers shared across stockwatch packages:
// migrated databases, fixtures and in-memory doubles of the domain collaborators.
package testing

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/aristath/stockwatch/internal/database"
	_ "github.com/mattn/go-sqlite3"
)

// NewTestDB creates a migrated file-backed database in a temporary directory.
// The database is closed when the test ends.
//
// Supported schema names:
//   - "monitor" - applies monitor_schema.sql
//   - Unknown names - creates empty database (no schema applied)
func NewTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: database.ProfileDurable,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	})

	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}
	return db
}

// NewMemoryDB opens an in-memory database with the named schema file applied.
// The pool is limited to one connection because every :memory: connection is a separate database.
func NewMemoryDB(t *testing.T, schemaFile string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	schema, err := LoadTestSchema(schemaFile)
	if err != nil {
		t.Fatalf("Failed to load schema: %v", err)
	}
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("Failed to apply schema %s: %v", schemaFile, err)
	}
	return db
}

// LoadTestSchema returns the contents of a file in internal/database/schemas.
func LoadTestSchema(schemaFile string) (string, error) {
	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}
	path := filepath.Join(filepath.Dir(currentFile), "..", "database", "schemas", schemaFile)

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	return string(content), nil
}
