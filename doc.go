// Package sqmcp provides safe, read-only SQLite access for AI agents
// through the Model Context Protocol (MCP).
//
// It exposes three tools — ReadQuery, ListTables, and DescribeTable —
// scoped to an operator-configured allow-list of database files and
// directories. Only single SELECT statements (including WITH ... SELECT)
// ever reach the engine: a SQL-aware scanner rejects stacked statements,
// non-SELECT keywords hidden behind comments, and WITH clauses whose
// terminal statement mutates. Databases are opened read-only for the
// duration of a single call and closed on every exit path.
//
// # Library Usage
//
//	p, err := sqmcp.New(sqmcp.Config{
//		AllowedPaths: []string{"/var/data"},
//		Query: sqmcp.QueryConfig{
//			MaxConcurrent:               8,
//			DefaultTimeoutSeconds:       30,
//			ListTablesTimeoutSeconds:    10,
//			DescribeTableTimeoutSeconds: 10,
//		},
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Use directly
//	output := p.ReadQuery(ctx, sqmcp.QueryInput{
//		FilePath: "/var/data/app.db",
//		SQL:      "SELECT * FROM users LIMIT 10",
//	})
//
//	// Or register as MCP tools
//	sqmcp.RegisterMCPTools(mcpServer, p)
//
// # Hooks
//
// BeforeQuery and AfterQuery hooks run as a middleware chain around query
// execution. Implement [BeforeQueryHook] and [AfterQueryHook] for native
// Go hooks with full type safety:
//
//	type AuditHook struct{}
//
//	func (h *AuditHook) Run(ctx context.Context, filePath, query string) (string, error) {
//		log.Printf("query on %s: %s", filePath, query)
//		return query, nil // return modified query or original
//	}
//
// Unlike command-based hooks (server mode), Go hooks have no regex pattern
// matching — the hook function itself decides whether to act.
//
// For full documentation, configuration reference, and examples, see:
// https://github.com/rickchristie/sqlite-mcp
package sqmcp
