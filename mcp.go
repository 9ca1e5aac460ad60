package sqmcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterMCPTools registers ReadQuery, ListTables, and DescribeTable
// as MCP tools on the given MCP server.
func RegisterMCPTools(mcpServer *server.MCPServer, sq *SqliteMcp) {
	// ReadQuery tool
	readQueryTool := mcp.NewTool("read_query",
		mcp.WithDescription("Execute a read-only SELECT query against an allowed SQLite database file. Returns results as JSON."),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Absolute path of the SQLite database file"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The SELECT statement to execute"),
		),
		mcp.WithArray("params",
			mcp.Description("Values bound to the statement's ? placeholders, in order"),
		),
		mcp.WithBoolean("fetch_all",
			mcp.Description("Fetch all matching rows (up to row_limit). Set false to fetch at most one row."),
			mcp.DefaultBool(true),
		),
		mcp.WithNumber("row_limit",
			mcp.Description("Maximum number of rows to return"),
			mcp.DefaultNumber(1000),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(readQueryTool, sq.loggedToolHandler("read_query", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, err := req.RequireString("file_path")
		if err != nil {
			return mcp.NewToolResultError("file_path parameter is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query parameter is required"), nil
		}
		fetchAll := req.GetBool("fetch_all", true)
		rowLimit := req.GetInt("row_limit", 0)
		var params []interface{}
		if raw, ok := req.GetArguments()["params"]; ok {
			params, ok = raw.([]interface{})
			if !ok {
				return mcp.NewToolResultError("params must be an array"), nil
			}
		}

		output := sq.ReadQuery(ctx, QueryInput{
			FilePath: filePath,
			SQL:      query,
			Params:   params,
			FetchOne: !fetchAll,
			RowLimit: rowLimit,
		})
		if output.Error != "" {
			return mcp.NewToolResultError(output.Error), nil
		}
		jsonBytes, err := json.Marshal(output)
		if err != nil {
			return mcp.NewToolResultError("failed to marshal query result"), nil
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}))

	// ListTables tool
	listTablesTool := mcp.NewTool("list_tables",
		mcp.WithDescription("List all user-defined tables in an allowed SQLite database file."),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Absolute path of the SQLite database file"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(listTablesTool, sq.loggedToolHandler("list_tables", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, err := req.RequireString("file_path")
		if err != nil {
			return mcp.NewToolResultError("file_path parameter is required"), nil
		}
		output, err := sq.ListTables(ctx, ListTablesInput{FilePath: filePath})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		jsonBytes, err := json.Marshal(output)
		if err != nil {
			return mcp.NewToolResultError("failed to marshal list tables result"), nil
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}))

	// DescribeTable tool
	describeTableTool := mcp.NewTool("describe_table",
		mcp.WithDescription("Describe the schema of a table in an allowed SQLite database file: columns, declared types, NOT NULL, defaults, and primary key membership."),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Absolute path of the SQLite database file"),
		),
		mcp.WithString("table_name",
			mcp.Required(),
			mcp.Description("The table name to describe"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(describeTableTool, sq.loggedToolHandler("describe_table", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, err := req.RequireString("file_path")
		if err != nil {
			return mcp.NewToolResultError("file_path parameter is required"), nil
		}
		table, err := req.RequireString("table_name")
		if err != nil {
			return mcp.NewToolResultError("table_name parameter is required"), nil
		}

		output, err := sq.DescribeTable(ctx, DescribeTableInput{FilePath: filePath, Table: table})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		jsonBytes, err := json.Marshal(output)
		if err != nil {
			return mcp.NewToolResultError("failed to marshal describe table result"), nil
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}))
}

// loggedToolHandler wraps a tool handler to log request and response lengths.
func (s *SqliteMcp) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		respLen := resultLength(result)
		s.logger.Info().
			Str("tool", tool).
			Int("request_bytes", reqLen).
			Int("response_bytes", respLen).
			Msg("tool call")
		return result, err
	}
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
