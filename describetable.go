package sqmcp

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const tableExistsSQL = `
SELECT name
FROM sqlite_master
WHERE type = 'table'
  AND name = ?;
`

// DescribeTable returns column metadata for a user-defined table: name,
// declared type, NOT NULL, default expression, and primary key membership.
// Absence is an error, never an empty column list.
// Does NOT go through the hook/sanitization pipeline.
func (s *SqliteMcp) DescribeTable(ctx context.Context, input DescribeTableInput) (*DescribeTableOutput, error) {
	startTime := time.Now()

	// 1. Acquire semaphore
	select {
	case s.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("DescribeTable: failed to acquire query slot: all %d slots are in use, context cancelled while waiting: %w", cap(s.semaphore), ctx.Err())
	}
	defer func() { <-s.semaphore }()

	// 2. Authorize the database path
	dbPath, err := s.authorizer.Authorize(input.FilePath)
	if err != nil {
		return nil, err
	}

	// 3. Apply configurable timeout
	queryCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.Query.DescribeTableTimeoutSeconds)*time.Second)
	defer cancel()

	// 4. Open read-only and check the table exists. PRAGMA table_info
	// returns an empty set for unknown tables, so existence is checked
	// first against sqlite_master.
	db, err := openReadOnly(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	var name string
	err = db.QueryRowContext(queryCtx, tableExistsSQL, input.Table).Scan(&name)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, input.Table)
	}
	if err != nil {
		return nil, fmt.Errorf("DescribeTable lookup failed: %w", err)
	}

	// 5. Fetch columns. PRAGMA table_info does not accept bound
	// parameters, so the identifier is quoted directly; existence was
	// already verified with a bound parameter above.
	rows, err := db.QueryContext(queryCtx, "PRAGMA table_info("+quoteIdent(name)+")")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch columns: %w", err)
	}
	defer rows.Close()

	output := &DescribeTableOutput{Name: name}
	for rows.Next() {
		var (
			cid     int
			colName string
			declTyp string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &colName, &declTyp, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		col := ColumnInfo{
			Name:         colName,
			DeclaredType: declTyp,
			NotNull:      notNull != 0,
			IsPrimaryKey: pk != 0,
			Position:     cid,
		}
		if dflt.Valid {
			col.Default = dflt.String
		}
		output.Columns = append(output.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("DescribeTable rows error: %w", err)
	}

	if output.Columns == nil {
		output.Columns = []ColumnInfo{}
	}

	s.logger.Info().
		Str("db", dbPath).
		Str("table", name).
		Dur("duration", time.Since(startTime)).
		Int("column_count", len(output.Columns)).
		Msg("DescribeTable executed")

	return output, nil
}

// quoteIdent escapes a SQL identifier for direct interpolation.
// Doubles embedded double-quotes and wraps in double-quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
