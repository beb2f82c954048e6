package pgscope

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pgscope/pgscope/internal/metrics"
)

// RegisterMCPTools registers Query, ListTables, ListSchemas, and
// DescribeTable as MCP tools on the given MCP server. Session and client
// identity are derived from the MCP client session, so each connected agent
// gets its own rate-limit bucket and inspection gate.
func RegisterMCPTools(mcpServer *server.MCPServer, engine *PgScope) {
	// Query tool
	queryTool := mcp.NewTool("query",
		mcp.WithDescription("Execute a read-only SQL query against the PostgreSQL database. Every table the query references must have been described with describe_table first in this session. Returns results as JSON."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The SQL query to execute"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(queryTool, engine.loggedToolHandler("query", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, err := req.RequireString("sql")
		if err != nil {
			return mcp.NewToolResultError("sql parameter is required"), nil
		}
		sessionID, clientID := callerIdentity(ctx)
		output := engine.Query(ctx, QueryInput{SQL: sql, SessionID: sessionID, ClientID: clientID})
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
		mcp.WithDescription("List all tables, views, materialized views, and foreign tables in the database that are accessible to the current user."),
		mcp.WithString("schema",
			mcp.Description("Only list tables in this schema (defaults to all non-system schemas)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(listTablesTool, engine.loggedToolHandler("list_tables", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, clientID := callerIdentity(ctx)
		output, err := engine.ListTables(ctx, ListTablesInput{
			Schema:    req.GetString("schema", ""),
			SessionID: sessionID,
			ClientID:  clientID,
		})
		if err != nil {
			return mcp.NewToolResultError(engine.guidance.Annotate(err.Error())), nil
		}
		jsonBytes, err := json.Marshal(output)
		if err != nil {
			return mcp.NewToolResultError("failed to marshal list tables result"), nil
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}))

	// ListSchemas tool
	listSchemasTool := mcp.NewTool("list_schemas",
		mcp.WithDescription("List all schemas in the database that are accessible to the current user."),
		mcp.WithBoolean("include_system",
			mcp.Description("Include system schemas such as pg_catalog and information_schema"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(listSchemasTool, engine.loggedToolHandler("list_schemas", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, clientID := callerIdentity(ctx)
		output, err := engine.ListSchemas(ctx, ListSchemasInput{
			IncludeSystem: req.GetBool("include_system", false),
			SessionID:     sessionID,
			ClientID:      clientID,
		})
		if err != nil {
			return mcp.NewToolResultError(engine.guidance.Annotate(err.Error())), nil
		}
		jsonBytes, err := json.Marshal(output)
		if err != nil {
			return mcp.NewToolResultError("failed to marshal list schemas result"), nil
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}))

	// DescribeTable tool
	describeTableTool := mcp.NewTool("describe_table",
		mcp.WithDescription("Describe the schema of a table including columns, types, indexes, and foreign keys. Describing a table unlocks it for the query tool in this session."),
		mcp.WithString("table",
			mcp.Required(),
			mcp.Description("The table name to describe"),
		),
		mcp.WithString("schema",
			mcp.Description("The schema name (defaults to 'public')"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(describeTableTool, engine.loggedToolHandler("describe_table", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table")
		if err != nil {
			return mcp.NewToolResultError("table parameter is required"), nil
		}
		sessionID, clientID := callerIdentity(ctx)
		output, err := engine.DescribeTable(ctx, DescribeTableInput{
			Table:     table,
			Schema:    req.GetString("schema", ""),
			SessionID: sessionID,
			ClientID:  clientID,
		})
		if err != nil {
			return mcp.NewToolResultError(engine.guidance.Annotate(err.Error())), nil
		}
		jsonBytes, err := json.Marshal(output)
		if err != nil {
			return mcp.NewToolResultError("failed to marshal describe table result"), nil
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}))
}

// callerIdentity derives session and client identity from the MCP client
// session. Both map to the MCP session ID: sessions are the natural unit
// for the inspection gate, and per-session rate limiting keeps one agent
// from starving the rest. Falls back to empty (engine defaults) when no
// session is attached, e.g. in stateless HTTP mode.
func callerIdentity(ctx context.Context) (sessionID, clientID string) {
	if cs := server.ClientSessionFromContext(ctx); cs != nil {
		id := cs.SessionID()
		return id, id
	}
	return "", ""
}

// loggedToolHandler wraps a tool handler to log request/response lengths
// and record per-tool metrics.
func (p *PgScope) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		respLen := resultLength(result)

		outcome := "ok"
		if err != nil || (result != nil && result.IsError) {
			outcome = "error"
		}
		metrics.ToolCalls.WithLabelValues(tool, outcome).Inc()
		metrics.ToolDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())

		p.logger.Info().
			Str("tool", tool).
			Str("outcome", outcome).
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
