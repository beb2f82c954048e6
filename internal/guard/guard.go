// Package guard validates that a SQL statement is safe for read-only
// execution. Unlike a denylist of mutating statement types, the checker is
// an allowlist: only SELECT, EXPLAIN, and SHOW (plus SET when explicitly
// enabled) pass, everything else is rejected. Statements are parsed with
// PostgreSQL's actual C parser via pg_query, never with regexes.
package guard

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Config controls the checker's allowlist.
type Config struct {
	// AllowSet permits SET statements (e.g. for query parameters). Default
	// blocked: SET can flip transaction read-only settings.
	AllowSet bool
}

// Checker validates SQL statements for read-only execution.
type Checker struct {
	config Config
}

// NewChecker creates a Checker with the given config.
func NewChecker(config Config) *Checker {
	return &Checker{config: config}
}

// dangerousFunctions are server-side functions that can execute remote SQL,
// touch the filesystem, or disrupt other backends even from a SELECT.
var dangerousFunctions = []string{
	"DBLINK_EXEC", "DBLINK_CONNECT", "DBLINK_DISCONNECT", "DBLINK",
	"PG_RELOAD_CONF", "PG_ROTATE_LOGFILE",
	"PG_CANCEL_BACKEND", "PG_TERMINATE_BACKEND",
	"PG_READ_FILE", "PG_READ_BINARY_FILE", "PG_LS_DIR",
	"LO_IMPORT", "LO_EXPORT", "LO_UNLINK",
}

// Check parses sql and returns nil if it is a single, read-only statement,
// or a descriptive error naming what was rejected.
func (c *Checker) Check(sql string) error {
	if strings.TrimSpace(sql) == "" {
		return fmt.Errorf("empty query")
	}

	result, err := pg_query.Parse(sql)
	if err != nil {
		return fmt.Errorf("SQL parse error: %w", err)
	}
	if len(result.Stmts) == 0 {
		return fmt.Errorf("SQL parse error: empty query")
	}
	if len(result.Stmts) > 1 {
		return fmt.Errorf("multi-statement queries are not allowed: found %d statements", len(result.Stmts))
	}

	if err := c.checkNode(result.Stmts[0].Stmt); err != nil {
		return err
	}

	return c.checkFunctions(result)
}

// checkNode enforces the statement-type allowlist. EXPLAIN recurses into the
// wrapped statement so EXPLAIN DELETE is rejected like DELETE.
func (c *Checker) checkNode(node *pg_query.Node) error {
	if node == nil {
		return nil
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_SelectStmt:
		return nil

	case *pg_query.Node_ExplainStmt:
		return c.checkNode(n.ExplainStmt.Query)

	case *pg_query.Node_VariableShowStmt:
		return nil

	case *pg_query.Node_VariableSetStmt:
		if !c.config.AllowSet {
			return fmt.Errorf("SET statements are not allowed: SET %s", n.VariableSetStmt.Name)
		}
		if isTransactionReadOnlyVar(n.VariableSetStmt.Name) {
			return fmt.Errorf("SET %s is not allowed: cannot change the transaction read-only setting", n.VariableSetStmt.Name)
		}
		return nil

	default:
		return fmt.Errorf("statement type %s is not allowed: only SELECT, EXPLAIN, and SHOW are permitted", statementName(node))
	}
}

// checkFunctions rejects queries invoking dangerous server-side functions.
// The parsed statement is deparsed back to canonical SQL and scanned for
// call sites, mirroring what the C parser actually saw rather than the raw
// input text.
func (c *Checker) checkFunctions(result *pg_query.ParseResult) error {
	deparsed, err := pg_query.Deparse(result)
	if err != nil {
		// Deparse failing on a successfully parsed statement is unexpected;
		// reject rather than skip the function check.
		return fmt.Errorf("could not verify query functions: %w", err)
	}
	upper := strings.ToUpper(deparsed)
	for _, fn := range dangerousFunctions {
		if strings.Contains(upper, fn+"(") || strings.Contains(upper, fn+" (") {
			return fmt.Errorf("query contains forbidden function: %s", strings.ToLower(fn))
		}
	}
	return nil
}

// statementName returns a readable name like "InsertStmt" for error messages.
func statementName(node *pg_query.Node) string {
	name := fmt.Sprintf("%T", node.Node)
	if i := strings.LastIndex(name, "_"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func isTransactionReadOnlyVar(name string) bool {
	return name == "default_transaction_read_only" || name == "transaction_read_only"
}
