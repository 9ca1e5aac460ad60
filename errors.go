package sqmcp

import (
	"errors"

	"github.com/rickchristie/sqlite-mcp/internal/pathauth"
	"github.com/rickchristie/sqlite-mcp/internal/readonly"
)

// Error kinds surfaced by the three tools. Path and validation kinds are
// re-exported from the internal packages that detect them so library
// callers can match with errors.Is.
var (
	// Path authorization failures.
	ErrInvalidPath  = pathauth.ErrInvalidPath
	ErrNotFound     = pathauth.ErrNotFound
	ErrUnauthorized = pathauth.ErrUnauthorized

	// Statement validation failures.
	ErrEmptyQuery         = readonly.ErrEmptyQuery
	ErrMultipleStatements = readonly.ErrMultipleStatements
	ErrNotReadOnly        = readonly.ErrNotReadOnly

	// Execution failures.
	ErrParameterBinding = errors.New("parameter count mismatch")
	ErrTableNotFound    = errors.New("table not found")
	ErrExecution        = errors.New("query execution failed")
)
