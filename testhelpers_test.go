package sqmcp_test

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	sqmcp "github.com/rickchristie/sqlite-mcp"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func defaultConfig(allowedPaths ...string) sqmcp.Config {
	return sqmcp.Config{
		AllowedPaths: allowedPaths,
		Query: sqmcp.QueryConfig{
			MaxConcurrent:               8,
			DefaultTimeoutSeconds:       30,
			ListTablesTimeoutSeconds:    10,
			DescribeTableTimeoutSeconds: 10,
			MaxSQLLength:                100000,
			MaxResultLength:             100000,
		},
	}
}

// createTestDB creates a SQLite database file in a fresh temp directory and
// applies the given statements. Returns the database path.
func createTestDB(t *testing.T, stmts ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	defer db.Close()
	// Force the file to materialize even when no schema follows.
	if _, err := db.Exec("PRAGMA user_version = 1"); err != nil {
		t.Fatalf("failed to initialize test database: %v", err)
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("setup statement failed: %s: %v", stmt, err)
		}
	}
	return path
}

func newTestInstance(t *testing.T, config sqmcp.Config) *sqmcp.SqliteMcp {
	t.Helper()
	s, err := sqmcp.New(config, testLogger())
	if err != nil {
		t.Fatalf("Failed to create SqliteMcp: %v", err)
	}
	return s
}

func newTestInstanceWithHooks(t *testing.T, config sqmcp.Config, hooks sqmcp.ServerHooksConfig) *sqmcp.SqliteMcp {
	t.Helper()
	s, err := sqmcp.New(config, testLogger(), sqmcp.WithServerHooks(hooks))
	if err != nil {
		t.Fatalf("Failed to create SqliteMcp: %v", err)
	}
	return s
}

func hookScript(name string) string {
	return filepath.Join("testdata", "hooks", name)
}
