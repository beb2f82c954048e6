// Package pgscope provides rate-limited, session-gated PostgreSQL
// introspection for AI agents through the Model Context Protocol (MCP).
//
// It exposes four read-only tools — Query, ListTables, ListSchemas, and
// DescribeTable — behind a shared resource-arbitration layer: a bounded
// FIFO-fair connection pool, a per-client token-bucket rate governor, and a
// per-session tracker that only permits free-form queries against tables the
// session has already inspected with DescribeTable. Rejections carry
// actionable recovery guidance ("call describe_table for orders first")
// rather than opaque denials, so agents self-correct on the next turn.
//
// # Library Usage
//
//	p, err := pgscope.New(ctx, connString, pgscope.Config{
//		Pool: pgscope.PoolConfig{MinConns: 1, MaxConns: 5, MaxQueue: 10},
//		Query: pgscope.QueryConfig{
//			DefaultTimeoutSeconds:       30,
//			ListTablesTimeoutSeconds:    10,
//			ListSchemasTimeoutSeconds:   10,
//			DescribeTableTimeoutSeconds: 10,
//		},
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer p.Close(ctx)
//
//	// Use directly
//	out := p.Query(ctx, pgscope.QueryInput{
//		SQL:       "SELECT * FROM orders LIMIT 10",
//		SessionID: "session-1",
//		ClientID:  "agent-1",
//	})
//
//	// Or register as MCP tools
//	pgscope.RegisterMCPTools(mcpServer, p)
//
// Session and client identities are caller-supplied strings; the MCP layer
// derives both from the MCP client session. Rate-limit and session state are
// process-lifetime only and are evicted after configurable idle periods.
package pgscope
