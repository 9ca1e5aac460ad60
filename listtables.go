package sqmcp

import (
	"context"
	"fmt"
	"time"
)

// Internal sqlite_* catalog tables are excluded; results stay in catalog
// order, matching what the schema reader reports.
const listTablesSQL = `
SELECT name
FROM sqlite_master
WHERE type = 'table'
  AND name NOT LIKE 'sqlite\_%' ESCAPE '\';
`

// ListTables returns the names of all user-defined tables in the database.
// Does NOT go through the hook/sanitization pipeline.
func (s *SqliteMcp) ListTables(ctx context.Context, input ListTablesInput) (*ListTablesOutput, error) {
	startTime := time.Now()

	// 1. Acquire semaphore
	select {
	case s.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("ListTables: failed to acquire query slot: all %d slots are in use, context cancelled while waiting: %w", cap(s.semaphore), ctx.Err())
	}
	defer func() { <-s.semaphore }()

	// 2. Authorize the database path
	dbPath, err := s.authorizer.Authorize(input.FilePath)
	if err != nil {
		return nil, err
	}

	// 3. Apply configurable timeout
	queryCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.Query.ListTablesTimeoutSeconds)*time.Second)
	defer cancel()

	// 4. Open read-only and execute
	db, err := openReadOnly(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(queryCtx, listTablesSQL)
	if err != nil {
		return nil, fmt.Errorf("ListTables query failed: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("ListTables scan failed: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListTables rows error: %w", err)
	}

	if tables == nil {
		tables = []string{}
	}

	s.logger.Info().
		Str("db", dbPath).
		Dur("duration", time.Since(startTime)).
		Int("table_count", len(tables)).
		Msg("ListTables executed")

	return &ListTablesOutput{Tables: tables}, nil
}
