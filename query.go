package sqmcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/rickchristie/sqlite-mcp/internal/readonly"
)

// ReadQuery executes the full query pipeline and returns only QueryOutput.
// All errors (path authorization, statement validation, binding, engine
// errors, hook rejections) are converted to output.Error. The error
// message is then evaluated against error_prompts patterns — any matching
// prompt messages are appended. This means callers only need to check
// output.Error, never a Go error.
func (s *SqliteMcp) ReadQuery(ctx context.Context, input QueryInput) *QueryOutput {
	startTime := time.Now()
	rawSQL := input.SQL

	// 1. Acquire semaphore (respects context cancellation to prevent deadlock)
	select {
	case s.semaphore <- struct{}{}:
	case <-ctx.Done():
		return s.handleError(fmt.Errorf("failed to acquire query slot: all %d slots are in use, context cancelled while waiting: %w", cap(s.semaphore), ctx.Err()))
	}
	defer func() { <-s.semaphore }()

	// 2. Check SQL length (before any processing — scanning, hooks)
	if len(rawSQL) > s.config.Query.MaxSQLLength {
		return s.handleError(fmt.Errorf("SQL query too long: %d bytes exceeds maximum of %d bytes", len(rawSQL), s.config.Query.MaxSQLLength))
	}

	// 3. Authorize the database path (fail fast, before hooks run)
	dbPath, err := s.authorizer.Authorize(input.FilePath)
	if err != nil {
		return s.handleError(err)
	}

	// --- Pipeline tracking ---
	var beforeHooks, afterHooks []string
	timeoutRule := ""
	sanitized := false

	// 4. Run BeforeQuery hooks (middleware chain)
	if len(s.goBeforeHooks) > 0 {
		rawSQL, err = s.runGoBeforeHooks(ctx, dbPath, rawSQL)
		for _, entry := range s.goBeforeHooks {
			beforeHooks = append(beforeHooks, entry.Name)
		}
	} else if s.cmdHooks != nil {
		rawSQL, beforeHooks, err = s.cmdHooks.RunBeforeQuery(ctx, dbPath, rawSQL)
	}
	if err != nil {
		return s.handleError(err)
	}

	// 5. Validate read-only single statement (on potentially modified query)
	stmt, err := readonly.Validate(rawSQL)
	if err != nil {
		return s.handleError(err)
	}

	// 6. Resolve the row cap and check positional parameter counts before
	// touching the database.
	rowLimit := input.RowLimit
	if rowLimit == 0 {
		rowLimit = s.config.Query.DefaultRowLimit
	}
	if rowLimit < 0 {
		return s.handleError(fmt.Errorf("row_limit must be > 0, got %d", input.RowLimit))
	}
	if input.FetchOne {
		rowLimit = 1
	}
	if n, authoritative := stmt.PositionalParams(); authoritative && n != len(input.Params) {
		return s.handleError(fmt.Errorf("%w: statement has %d placeholders but %d parameters were given", ErrParameterBinding, n, len(input.Params)))
	}

	// 7. Determine timeout
	var queryTimeout time.Duration
	queryTimeout, timeoutRule = s.timeoutMgr.Resolve(stmt.SQL)
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// 8. Open the database read-only and execute. The handle is scoped to
	// this invocation and closed on every exit path, including
	// cancellation — there is no cross-request pooling.
	db, err := openReadOnly(dbPath)
	if err != nil {
		return s.handleError(fmt.Errorf("%w: %v", ErrExecution, err))
	}
	defer db.Close()

	rows, err := db.QueryContext(queryCtx, stmt.SQL, input.Params...)
	if err != nil {
		return s.handleError(fmt.Errorf("%w: %v", ErrExecution, err))
	}

	// 9. Collect results. The cap bounds how many rows are fetched from
	// the cursor, not just how many are returned.
	result, err := collectRows(rows, rowLimit)
	if err != nil {
		return s.handleError(fmt.Errorf("%w: %v", ErrExecution, err))
	}

	// 10. AfterQuery hooks
	var finalResult *QueryOutput
	if len(s.goAfterHooks) > 0 {
		finalResult, err = s.runGoAfterHooks(ctx, result)
		if err != nil {
			return s.handleError(err)
		}
		for _, entry := range s.goAfterHooks {
			afterHooks = append(afterHooks, entry.Name)
		}
	} else if s.cmdHooks != nil && s.cmdHooks.HasAfterQueryHooks() {
		resultJSON, err := json.Marshal(result)
		if err != nil {
			return s.handleError(err)
		}

		modifiedJSON, executed, err := s.cmdHooks.RunAfterQuery(ctx, string(resultJSON))
		if err != nil {
			return s.handleError(err)
		}
		afterHooks = executed

		finalResult = &QueryOutput{}
		dec := json.NewDecoder(strings.NewReader(modifiedJSON))
		dec.UseNumber()
		if err := dec.Decode(finalResult); err != nil {
			return s.handleError(err)
		}
	} else {
		finalResult = result
	}

	// 11. Apply sanitization (per-field)
	sanitized = s.sanitizer.HasRules()
	finalResult.Rows = s.sanitizer.SanitizeRows(finalResult.Rows)

	// 12. Apply max result length truncation
	s.truncateIfNeeded(finalResult)

	// 13. Log successful query execution with pipeline details
	logEvent := s.logger.Info().
		Str("db", dbPath).
		Str("sql", truncateForLog(stmt.SQL, 200)).
		Dur("duration", time.Since(startTime)).
		Int("row_count", len(finalResult.Rows))
	if len(beforeHooks) > 0 {
		logEvent = logEvent.Strs("before_hooks", beforeHooks)
	}
	if len(afterHooks) > 0 {
		logEvent = logEvent.Strs("after_hooks", afterHooks)
	}
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	if sanitized {
		logEvent = logEvent.Bool("sanitized", true)
	}
	logEvent.Msg("query executed")

	return finalResult
}

// openReadOnly opens a scoped read-only handle on the database file.
// mode=ro makes the engine refuse any write, independent of the statement
// validation layer.
func openReadOnly(path string) (*sql.DB, error) {
	u := url.URL{Scheme: "file", Path: path, RawQuery: "mode=ro"}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		return nil, err
	}
	// One handle per invocation; database/sql must not grow a pool behind it.
	db.SetMaxOpenConns(1)
	return db, nil
}

// runGoBeforeHooks runs Go-interface BeforeQuery hooks in middleware chain.
func (s *SqliteMcp) runGoBeforeHooks(ctx context.Context, filePath, query string) (string, error) {
	for _, entry := range s.goBeforeHooks {
		hookTimeout := entry.Timeout
		if hookTimeout == 0 {
			hookTimeout = time.Duration(s.config.DefaultHookTimeoutSeconds) * time.Second
		}
		hookCtx, cancel := context.WithTimeout(ctx, hookTimeout)

		modified, err := entry.Hook.Run(hookCtx, filePath, query)
		cancel()
		if err != nil {
			if hookCtx.Err() == context.DeadlineExceeded {
				return "", fmt.Errorf("before_query hook error: hook timed out (name: %s, timeout: %s)", entry.Name, hookTimeout)
			}
			return "", fmt.Errorf("before_query hook error: hook rejected query (name: %s): %w", entry.Name, err)
		}
		query = modified
	}
	return query, nil
}

// runGoAfterHooks runs Go-interface AfterQuery hooks in middleware chain.
func (s *SqliteMcp) runGoAfterHooks(ctx context.Context, result *QueryOutput) (*QueryOutput, error) {
	for _, entry := range s.goAfterHooks {
		hookTimeout := entry.Timeout
		if hookTimeout == 0 {
			hookTimeout = time.Duration(s.config.DefaultHookTimeoutSeconds) * time.Second
		}
		hookCtx, cancel := context.WithTimeout(ctx, hookTimeout)

		modified, err := entry.Hook.Run(hookCtx, result)
		cancel()
		if err != nil {
			if hookCtx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("after_query hook error: hook timed out (name: %s, timeout: %s)", entry.Name, hookTimeout)
			}
			return nil, fmt.Errorf("after_query hook error: hook rejected result (name: %s): %w", entry.Name, err)
		}
		result = modified
	}
	return result, nil
}

// collectRows reads up to limit rows from the cursor and returns a
// QueryOutput. Rows beyond the cap are never fetched.
func collectRows(rows *sql.Rows, limit int) (*QueryOutput, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	resultRows := make([]map[string]interface{}, 0)
	for len(resultRows) < limit && rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &QueryOutput{Columns: columns, Rows: resultRows}, nil
}

// convertValue maps a driver-returned value onto the five SQLite storage
// classes: null, integer (int64), real (float64), text (string), and blob
// ([]byte, base64-encoded only at the JSON boundary).
func convertValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case int64:
		return val
	case float64:
		// SQLite stores NaN as NULL but can hold infinities (e.g. 9e999).
		// JSON cannot encode them, so they become strings.
		if math.IsNaN(val) {
			return "NaN"
		}
		if math.IsInf(val, 1) {
			return "Infinity"
		}
		if math.IsInf(val, -1) {
			return "-Infinity"
		}
		return val
	case string:
		return val
	case []byte:
		return val
	case bool:
		return val
	case time.Time:
		// The driver decodes DATETIME-declared columns eagerly.
		return val.Format(time.RFC3339Nano)
	default:
		return val
	}
}

// handleError converts any error into a QueryOutput with error message.
// The error message is evaluated against error_prompts — matching prompt messages are appended.
func (s *SqliteMcp) handleError(err error) *QueryOutput {
	errMsg := err.Error()
	prompt := s.errPrompts.Match(errMsg)
	patterns := s.errPrompts.MatchedPatterns(errMsg)

	logEvent := s.logger.Error().Err(err)
	if len(patterns) > 0 {
		logEvent = logEvent.Strs("error_prompts", patterns)
	}
	logEvent.Msg("query error")

	if prompt != "" {
		errMsg = errMsg + "\n\n" + prompt
	}
	return &QueryOutput{Error: errMsg}
}

// truncateIfNeeded truncates query output rows if they exceed MaxResultLength (in characters).
func (s *SqliteMcp) truncateIfNeeded(output *QueryOutput) {
	jsonBytes, _ := json.Marshal(output.Rows)
	jsonStr := string(jsonBytes)
	if utf8.RuneCountInString(jsonStr) <= s.config.Query.MaxResultLength {
		return
	}
	runes := []rune(jsonStr)
	truncated := string(runes[:s.config.Query.MaxResultLength])
	output.Rows = nil
	output.Error = truncated + "...[truncated] Result is too long! Add limits in your query!"
}

// truncateForLog truncates a string for log output to avoid oversized log entries.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}
