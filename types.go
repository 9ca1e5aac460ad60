package sqmcp

// QueryInput is the input for the ReadQuery tool.
type QueryInput struct {
	// FilePath is the absolute path of the SQLite database file.
	FilePath string `json:"file_path"`
	// SQL is the SELECT (or WITH ... SELECT) statement to execute.
	SQL string `json:"sql"`
	// Params are bound to the statement's placeholders in order.
	Params []interface{} `json:"params,omitempty"`
	// FetchOne limits the result to at most one row.
	FetchOne bool `json:"fetch_one,omitempty"`
	// RowLimit caps the number of rows fetched. 0 means the configured
	// default (1000 unless overridden).
	RowLimit int `json:"row_limit,omitempty"`
}

// QueryOutput is the output of the ReadQuery tool. All failures (path
// authorization, statement validation, binding, engine errors, hook
// rejections) are placed in Error; matching error_prompts messages are
// appended. Callers only need to check Error, never a Go error.
type QueryOutput struct {
	Columns []string                 `json:"columns"`
	Rows    []map[string]interface{} `json:"rows"`
	Error   string                   `json:"error,omitempty"`
}

// ListTablesInput is the input for the ListTables tool.
type ListTablesInput struct {
	FilePath string `json:"file_path"`
}

// ListTablesOutput is the output of the ListTables tool. Tables holds the
// user-defined table names in catalog order; internal sqlite_* tables are
// excluded.
type ListTablesOutput struct {
	Tables []string `json:"tables"`
}

// DescribeTableInput is the input for the DescribeTable tool.
type DescribeTableInput struct {
	FilePath string `json:"file_path"`
	Table    string `json:"table_name"`
}

// ColumnInfo describes a single column as reported by the schema catalog.
type ColumnInfo struct {
	Name         string      `json:"name"`
	DeclaredType string      `json:"declared_type"`
	NotNull      bool        `json:"not_null"`
	Default      interface{} `json:"default_value"`
	IsPrimaryKey bool        `json:"is_primary_key"`
	Position     int         `json:"ordinal_position"`
}

// DescribeTableOutput is the output of the DescribeTable tool.
type DescribeTableOutput struct {
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns"`
}
