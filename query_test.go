package sqmcp_test

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	sqmcp "github.com/rickchristie/sqlite-mcp"
)

func TestReadQuery_SimpleSelect(t *testing.T) {
	t.Parallel()
	dbPath := createTestDB(t,
		"CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)",
		"INSERT INTO users (name) VALUES ('alice'), ('bob')",
	)
	s := newTestInstance(t, defaultConfig(dbPath))

	output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
		FilePath: dbPath,
		SQL:      "SELECT id, name FROM users ORDER BY id",
	})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if len(output.Columns) != 2 || output.Columns[0] != "id" || output.Columns[1] != "name" {
		t.Fatalf("unexpected columns: %v", output.Columns)
	}
	if len(output.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(output.Rows))
	}
	if output.Rows[0]["name"] != "alice" {
		t.Fatalf("unexpected first row: %v", output.Rows[0])
	}
}

func TestReadQuery_UnauthorizedPath(t *testing.T) {
	t.Parallel()
	allowed := createTestDB(t, "CREATE TABLE t (a)")
	other := createTestDB(t, "CREATE TABLE t (a)")
	s := newTestInstance(t, defaultConfig(allowed))

	output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
		FilePath: other,
		SQL:      "SELECT * FROM t",
	})
	if output.Error == "" {
		t.Fatal("expected error for unauthorized path")
	}
	if !strings.Contains(output.Error, "not allowed") {
		t.Fatalf("expected authorization error, got %q", output.Error)
	}
}

func TestReadQuery_RelativePath(t *testing.T) {
	t.Parallel()
	dbPath := createTestDB(t, "CREATE TABLE t (a)")
	s := newTestInstance(t, defaultConfig(dbPath))

	output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
		FilePath: "test.db",
		SQL:      "SELECT * FROM t",
	})
	if !strings.Contains(output.Error, "absolute") {
		t.Fatalf("expected absolute-path error, got %q", output.Error)
	}
}

func TestReadQuery_MissingFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	dbPath := createTestDB(t, "CREATE TABLE t (a)")
	s := newTestInstance(t, defaultConfig(dbPath, dir))

	output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
		FilePath: filepath.Join(dir, "missing.db"),
		SQL:      "SELECT * FROM t",
	})
	if !strings.Contains(output.Error, "not found") {
		t.Fatalf("expected not-found error, got %q", output.Error)
	}
}

func TestReadQuery_MultipleStatements(t *testing.T) {
	t.Parallel()
	dbPath := createTestDB(t, "CREATE TABLE t (a)")
	s := newTestInstance(t, defaultConfig(dbPath))

	output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
		FilePath: dbPath,
		SQL:      "SELECT 1; SELECT 2",
	})
	if !strings.Contains(output.Error, "multiple SQL statements") {
		t.Fatalf("expected multiple-statements error, got %q", output.Error)
	}
}

func TestReadQuery_NonSelectRejected(t *testing.T) {
	t.Parallel()
	dbPath := createTestDB(t, "CREATE TABLE t (a)")
	s := newTestInstance(t, defaultConfig(dbPath))

	for _, sql := range []string{
		"DELETE FROM t",
		"INSERT INTO t VALUES (1)",
		"DROP TABLE t",
		"PRAGMA journal_mode = WAL",
		"WITH x AS (SELECT 1) DELETE FROM t",
	} {
		output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
			FilePath: dbPath,
			SQL:      sql,
		})
		if !strings.Contains(output.Error, "only SELECT") {
			t.Errorf("ReadQuery(%q): expected read-only error, got %q", sql, output.Error)
		}
	}
}

func TestReadQuery_LeadingCommentAccepted(t *testing.T) {
	t.Parallel()
	dbPath := createTestDB(t, "CREATE TABLE t (a)")
	s := newTestInstance(t, defaultConfig(dbPath))

	output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
		FilePath: dbPath,
		SQL:      "  -- leading comment\nSELECT 1 AS v;",
	})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if len(output.Rows) != 1 || output.Rows[0]["v"] != int64(1) {
		t.Fatalf("unexpected rows: %v", output.Rows)
	}
}

func TestReadQuery_WithSelect(t *testing.T) {
	t.Parallel()
	dbPath := createTestDB(t,
		"CREATE TABLE nums (n INTEGER)",
		"INSERT INTO nums VALUES (1), (2), (3)",
	)
	s := newTestInstance(t, defaultConfig(dbPath))

	output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
		FilePath: dbPath,
		SQL:      "WITH big AS (SELECT n FROM nums WHERE n > 1) SELECT count(*) AS c FROM big",
	})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if output.Rows[0]["c"] != int64(2) {
		t.Fatalf("unexpected count: %v", output.Rows[0])
	}
}

func TestReadQuery_RowLimit(t *testing.T) {
	t.Parallel()
	dbPath := createTestDB(t,
		"CREATE TABLE t (n INTEGER)",
		"INSERT INTO t VALUES (1), (2), (3), (4), (5)",
	)
	s := newTestInstance(t, defaultConfig(dbPath))

	output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
		FilePath: dbPath,
		SQL:      "SELECT n FROM t ORDER BY n",
		RowLimit: 2,
	})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if len(output.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(output.Rows))
	}
}

func TestReadQuery_DefaultRowLimit(t *testing.T) {
	t.Parallel()
	dbPath := createTestDB(t,
		"CREATE TABLE t (n INTEGER)",
		"INSERT INTO t VALUES (1), (2), (3), (4), (5)",
	)
	config := defaultConfig(dbPath)
	config.Query.DefaultRowLimit = 3
	s := newTestInstance(t, config)

	output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
		FilePath: dbPath,
		SQL:      "SELECT n FROM t",
	})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if len(output.Rows) != 3 {
		t.Fatalf("expected 3 rows (default cap), got %d", len(output.Rows))
	}
}

func TestReadQuery_NegativeRowLimit(t *testing.T) {
	t.Parallel()
	dbPath := createTestDB(t, "CREATE TABLE t (n INTEGER)")
	s := newTestInstance(t, defaultConfig(dbPath))

	output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
		FilePath: dbPath,
		SQL:      "SELECT n FROM t",
		RowLimit: -1,
	})
	if !strings.Contains(output.Error, "row_limit") {
		t.Fatalf("expected row_limit error, got %q", output.Error)
	}
}

func TestReadQuery_FetchOne(t *testing.T) {
	t.Parallel()
	dbPath := createTestDB(t,
		"CREATE TABLE t (n INTEGER)",
		"INSERT INTO t VALUES (1), (2), (3)",
	)
	s := newTestInstance(t, defaultConfig(dbPath))

	output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
		FilePath: dbPath,
		SQL:      "SELECT n FROM t ORDER BY n",
		FetchOne: true,
	})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if len(output.Rows) != 1 || output.Rows[0]["n"] != int64(1) {
		t.Fatalf("expected single first row, got %v", output.Rows)
	}
}

func TestReadQuery_FetchOneEmptyResult(t *testing.T) {
	t.Parallel()
	dbPath := createTestDB(t, "CREATE TABLE t (n INTEGER)")
	s := newTestInstance(t, defaultConfig(dbPath))

	output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
		FilePath: dbPath,
		SQL:      "SELECT n FROM t",
		FetchOne: true,
	})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if output.Rows == nil || len(output.Rows) != 0 {
		t.Fatalf("expected empty non-nil rows, got %v", output.Rows)
	}
}

func TestReadQuery_Params(t *testing.T) {
	t.Parallel()
	dbPath := createTestDB(t,
		"CREATE TABLE t (n INTEGER, s TEXT)",
		"INSERT INTO t VALUES (1, 'a'), (2, 'b'), (3, 'c')",
	)
	s := newTestInstance(t, defaultConfig(dbPath))

	output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
		FilePath: dbPath,
		SQL:      "SELECT s FROM t WHERE n > ? AND s != ?",
		Params:   []interface{}{1, "c"},
	})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if len(output.Rows) != 1 || output.Rows[0]["s"] != "b" {
		t.Fatalf("unexpected rows: %v", output.Rows)
	}
}

func TestReadQuery_ParamCountMismatch(t *testing.T) {
	t.Parallel()
	dbPath := createTestDB(t, "CREATE TABLE t (n INTEGER)")
	s := newTestInstance(t, defaultConfig(dbPath))

	output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
		FilePath: dbPath,
		SQL:      "SELECT n FROM t WHERE n = ? OR n = ?",
		Params:   []interface{}{1},
	})
	if !strings.Contains(output.Error, "parameter count mismatch") {
		t.Fatalf("expected binding error, got %q", output.Error)
	}
}

func TestReadQuery_PlaceholderInLiteralNotCounted(t *testing.T) {
	t.Parallel()
	dbPath := createTestDB(t,
		"CREATE TABLE t (s TEXT)",
		"INSERT INTO t VALUES ('?')",
	)
	s := newTestInstance(t, defaultConfig(dbPath))

	output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
		FilePath: dbPath,
		SQL:      "SELECT s FROM t WHERE s = '?'",
	})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if len(output.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(output.Rows))
	}
}

func TestReadQuery_ValueConversion(t *testing.T) {
	t.Parallel()
	dbPath := createTestDB(t,
		"CREATE TABLE vals (i INTEGER, r REAL, s TEXT, b BLOB, nul TEXT)",
		"INSERT INTO vals VALUES (42, 3.5, 'hello', x'DEADBEEF', NULL)",
	)
	s := newTestInstance(t, defaultConfig(dbPath))

	output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
		FilePath: dbPath,
		SQL:      "SELECT * FROM vals",
	})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	row := output.Rows[0]
	if row["i"] != int64(42) {
		t.Errorf("expected integer 42, got %T %v", row["i"], row["i"])
	}
	if row["r"] != 3.5 {
		t.Errorf("expected real 3.5, got %T %v", row["r"], row["r"])
	}
	if row["s"] != "hello" {
		t.Errorf("expected text hello, got %v", row["s"])
	}
	if b, ok := row["b"].([]byte); !ok || len(b) != 4 {
		t.Errorf("expected 4-byte blob, got %T %v", row["b"], row["b"])
	}
	if row["nul"] != nil {
		t.Errorf("expected nil for NULL, got %v", row["nul"])
	}
}

func TestReadQuery_EngineErrorSurfaced(t *testing.T) {
	t.Parallel()
	dbPath := createTestDB(t, "CREATE TABLE t (a)")
	s := newTestInstance(t, defaultConfig(dbPath))

	output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
		FilePath: dbPath,
		SQL:      "SELECT * FROM no_such_table",
	})
	if !strings.Contains(output.Error, "no such table") {
		t.Fatalf("expected engine error, got %q", output.Error)
	}
}

func TestReadQuery_MaxSQLLength(t *testing.T) {
	t.Parallel()
	dbPath := createTestDB(t, "CREATE TABLE t (a)")
	config := defaultConfig(dbPath)
	config.Query.MaxSQLLength = 20
	s := newTestInstance(t, config)

	output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
		FilePath: dbPath,
		SQL:      "SELECT * FROM t WHERE a = 'long predicate here'",
	})
	if !strings.Contains(output.Error, "too long") {
		t.Fatalf("expected SQL length error, got %q", output.Error)
	}
}

func TestReadQuery_MaxResultLengthTruncation(t *testing.T) {
	t.Parallel()
	dbPath := createTestDB(t,
		"CREATE TABLE t (s TEXT)",
		fmt.Sprintf("INSERT INTO t VALUES ('%s')", strings.Repeat("x", 500)),
	)
	config := defaultConfig(dbPath)
	config.Query.MaxResultLength = 100
	s := newTestInstance(t, config)

	output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
		FilePath: dbPath,
		SQL:      "SELECT s FROM t",
	})
	if output.Rows != nil {
		t.Fatalf("expected rows dropped on truncation, got %v", output.Rows)
	}
	if !strings.Contains(output.Error, "[truncated]") {
		t.Fatalf("expected truncation marker, got %q", output.Error)
	}
}

func TestReadQuery_Sanitization(t *testing.T) {
	t.Parallel()
	dbPath := createTestDB(t,
		"CREATE TABLE people (ssn TEXT)",
		"INSERT INTO people VALUES ('123-45-6789')",
	)
	config := defaultConfig(dbPath)
	config.Sanitization = []sqmcp.SanitizationRule{
		{Pattern: `\d{3}-\d{2}-\d{4}`, Replacement: "***-**-****"},
	}
	s := newTestInstance(t, config)

	output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
		FilePath: dbPath,
		SQL:      "SELECT ssn FROM people",
	})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if output.Rows[0]["ssn"] != "***-**-****" {
		t.Fatalf("expected redacted value, got %v", output.Rows[0]["ssn"])
	}
}

func TestReadQuery_ErrorPromptAppended(t *testing.T) {
	t.Parallel()
	dbPath := createTestDB(t, "CREATE TABLE t (a)")
	config := defaultConfig(dbPath)
	config.ErrorPrompts = []sqmcp.ErrorPromptRule{
		{Pattern: "no such table", Message: "Use list_tables to discover tables."},
	}
	s := newTestInstance(t, config)

	output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
		FilePath: dbPath,
		SQL:      "SELECT * FROM ghost",
	})
	if !strings.Contains(output.Error, "no such table") {
		t.Fatalf("expected engine error, got %q", output.Error)
	}
	if !strings.Contains(output.Error, "Use list_tables to discover tables.") {
		t.Fatalf("expected appended prompt, got %q", output.Error)
	}
}

func TestReadQuery_ConcurrentNoCrossTalk(t *testing.T) {
	t.Parallel()
	dbA := createTestDB(t,
		"CREATE TABLE marker (v TEXT)",
		"INSERT INTO marker VALUES ('from-a')",
	)
	dbB := createTestDB(t,
		"CREATE TABLE marker (v TEXT)",
		"INSERT INTO marker VALUES ('from-b')",
	)
	s := newTestInstance(t, defaultConfig(dbA, dbB))

	const iterations = 25
	var wg sync.WaitGroup
	errCh := make(chan error, 2*iterations)

	worker := func(path, want string) {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			output := s.ReadQuery(context.Background(), sqmcp.QueryInput{
				FilePath: path,
				SQL:      "SELECT v FROM marker",
			})
			if output.Error != "" {
				errCh <- fmt.Errorf("query on %s failed: %s", path, output.Error)
				return
			}
			if len(output.Rows) != 1 || output.Rows[0]["v"] != want {
				errCh <- fmt.Errorf("cross-talk: wanted %q from %s, got %v", want, path, output.Rows)
				return
			}
		}
	}

	wg.Add(2)
	go worker(dbA, "from-a")
	go worker(dbB, "from-b")
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Error(err)
	}
}
