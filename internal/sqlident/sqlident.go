// Package sqlident extracts the tables a SQL statement references, using
// PostgreSQL's actual C parser via pg_query. The result feeds the session
// tracker's inspection gate, so it must see through joins, subqueries, set
// operations, and CTEs — and must not report CTE names or system catalogs
// as tables requiring inspection.
package sqlident

import (
	"fmt"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// ReferencedTables returns the sorted, deduplicated set of user tables the
// statement references. Names are lowercased; schema-qualified references
// are returned as "schema.table". System relations (pg_catalog,
// information_schema, pg_* names) and CTE names are excluded.
func ReferencedTables(sql string) ([]string, error) {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("SQL parse error: %w", err)
	}

	tables := make(map[string]struct{})
	for _, rawStmt := range result.Stmts {
		collect(rawStmt.Stmt, map[string]struct{}{}, tables)
	}

	out := make([]string, 0, len(tables))
	for t := range tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// collect walks one AST node. cteNames holds the CTE names in scope: a
// RangeVar matching a CTE name is a reference to the CTE, not to a table.
func collect(node *pg_query.Node, cteNames map[string]struct{}, tables map[string]struct{}) {
	if node == nil {
		return
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_SelectStmt:
		collectSelect(n.SelectStmt, cteNames, tables)

	case *pg_query.Node_ExplainStmt:
		collect(n.ExplainStmt.Query, cteNames, tables)

	case *pg_query.Node_RangeVar:
		addRangeVar(n.RangeVar, cteNames, tables)

	case *pg_query.Node_JoinExpr:
		collect(n.JoinExpr.Larg, cteNames, tables)
		collect(n.JoinExpr.Rarg, cteNames, tables)
		collect(n.JoinExpr.Quals, cteNames, tables)

	case *pg_query.Node_RangeSubselect:
		collect(n.RangeSubselect.Subquery, cteNames, tables)

	case *pg_query.Node_SubLink:
		collect(n.SubLink.Testexpr, cteNames, tables)
		collect(n.SubLink.Subselect, cteNames, tables)

	case *pg_query.Node_BoolExpr:
		for _, arg := range n.BoolExpr.Args {
			collect(arg, cteNames, tables)
		}

	case *pg_query.Node_AExpr:
		collect(n.AExpr.Lexpr, cteNames, tables)
		collect(n.AExpr.Rexpr, cteNames, tables)

	case *pg_query.Node_ResTarget:
		collect(n.ResTarget.Val, cteNames, tables)

	case *pg_query.Node_FuncCall:
		for _, arg := range n.FuncCall.Args {
			collect(arg, cteNames, tables)
		}

	case *pg_query.Node_TypeCast:
		collect(n.TypeCast.Arg, cteNames, tables)

	case *pg_query.Node_NullTest:
		collect(n.NullTest.Arg, cteNames, tables)

	case *pg_query.Node_CaseExpr:
		for _, arg := range n.CaseExpr.Args {
			collect(arg, cteNames, tables)
		}
		collect(n.CaseExpr.Defresult, cteNames, tables)

	case *pg_query.Node_CaseWhen:
		collect(n.CaseWhen.Expr, cteNames, tables)
		collect(n.CaseWhen.Result, cteNames, tables)

	case *pg_query.Node_List:
		for _, item := range n.List.Items {
			collect(item, cteNames, tables)
		}
	}
}

// collectSelect handles the SELECT shape: CTEs first (their names shadow
// tables for the rest of the statement), then FROM, target list, WHERE and
// HAVING, and set-operation branches.
func collectSelect(sel *pg_query.SelectStmt, cteNames map[string]struct{}, tables map[string]struct{}) {
	if sel == nil {
		return
	}

	if sel.WithClause != nil {
		// CTE names defined here are in scope for sibling CTEs (when
		// recursive) and the statement body, so extend the scope set.
		scoped := make(map[string]struct{}, len(cteNames)+len(sel.WithClause.Ctes))
		for name := range cteNames {
			scoped[name] = struct{}{}
		}
		for _, cte := range sel.WithClause.Ctes {
			if c, ok := cte.Node.(*pg_query.Node_CommonTableExpr); ok {
				scoped[strings.ToLower(c.CommonTableExpr.Ctename)] = struct{}{}
			}
		}
		for _, cte := range sel.WithClause.Ctes {
			if c, ok := cte.Node.(*pg_query.Node_CommonTableExpr); ok {
				collect(c.CommonTableExpr.Ctequery, scoped, tables)
			}
		}
		cteNames = scoped
	}

	for _, item := range sel.FromClause {
		collect(item, cteNames, tables)
	}
	for _, item := range sel.TargetList {
		collect(item, cteNames, tables)
	}
	collect(sel.WhereClause, cteNames, tables)
	collect(sel.HavingClause, cteNames, tables)

	// UNION / INTERSECT / EXCEPT branches.
	if sel.Larg != nil {
		collectSelect(sel.Larg, cteNames, tables)
	}
	if sel.Rarg != nil {
		collectSelect(sel.Rarg, cteNames, tables)
	}
}

func addRangeVar(rv *pg_query.RangeVar, cteNames map[string]struct{}, tables map[string]struct{}) {
	name := strings.ToLower(rv.Relname)
	schema := strings.ToLower(rv.Schemaname)

	// An unqualified reference to an in-scope CTE name is the CTE itself.
	if schema == "" {
		if _, ok := cteNames[name]; ok {
			return
		}
	}
	if isSystemRelation(schema, name) {
		return
	}
	if schema != "" {
		tables[schema+"."+name] = struct{}{}
		return
	}
	tables[name] = struct{}{}
}

// isSystemRelation reports whether the reference points at a catalog or
// information-schema relation, which never require prior inspection.
func isSystemRelation(schema, name string) bool {
	if schema == "pg_catalog" || schema == "information_schema" {
		return true
	}
	if schema == "" && (strings.HasPrefix(name, "pg_") || strings.HasPrefix(name, "information_schema.")) {
		return true
	}
	return false
}
