package pgscope

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const describeColumnsSQL = `
SELECT
    a.attname AS name,
    pg_catalog.format_type(a.atttypid, a.atttypmod) AS type,
    NOT a.attnotnull AS nullable,
    COALESCE(pg_catalog.pg_get_expr(ad.adbin, ad.adrelid), '') AS default_value,
    COALESCE(a.attnum = ANY(pk.conkey), false) AS is_primary_key
FROM pg_catalog.pg_attribute a
JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_catalog.pg_attrdef ad ON ad.adrelid = a.attrelid AND ad.adnum = a.attnum
LEFT JOIN pg_catalog.pg_constraint pk ON pk.conrelid = c.oid AND pk.contype = 'p'
WHERE n.nspname = $1 AND c.relname = $2
  AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum;
`

const describeIndexesSQL = `
SELECT
    i.relname AS name,
    pg_catalog.pg_get_indexdef(ix.indexrelid) AS definition,
    ix.indisunique AS is_unique,
    ix.indisprimary AS is_primary
FROM pg_catalog.pg_index ix
JOIN pg_catalog.pg_class i ON i.oid = ix.indexrelid
JOIN pg_catalog.pg_class c ON c.oid = ix.indrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relname = $2
ORDER BY i.relname;
`

const describeForeignKeysSQL = `
SELECT
    con.conname AS name,
    pg_catalog.pg_get_constraintdef(con.oid) AS definition
FROM pg_catalog.pg_constraint con
JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relname = $2 AND con.contype = 'f'
ORDER BY con.conname;
`

// DescribeTable returns column, index, and foreign-key metadata for a
// single table. On success the table is recorded as inspected for the
// calling session, which unlocks it for Query. Rate limited per client.
func (p *PgScope) DescribeTable(ctx context.Context, input DescribeTableInput) (*DescribeTableOutput, error) {
	startTime := time.Now()
	clientID := identityOrDefault(input.ClientID)
	sessionID := identityOrDefault(input.SessionID)

	if input.Table == "" {
		return nil, fmt.Errorf("DescribeTable: table must be non-empty")
	}
	schema := input.Schema
	if schema == "" {
		schema = "public"
	}

	if err := p.governor.Allow(clientID); err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, time.Duration(p.config.Query.DescribeTableTimeoutSeconds)*time.Second)
	defer cancel()

	lease, err := p.acquire(queryCtx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer p.releaseLease(lease)
	conn := lease.Value()

	columns, err := describeColumns(queryCtx, conn, schema, input.Table)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %q does not exist in schema %q", input.Table, schema)
	}

	indexes, err := describeIndexes(queryCtx, conn, schema, input.Table)
	if err != nil {
		return nil, err
	}
	foreignKeys, err := describeForeignKeys(queryCtx, conn, schema, input.Table)
	if err != nil {
		return nil, err
	}

	// Unlock the table for this session under both spellings agents use.
	p.tracker.RecordInspection(sessionID, input.Table)
	p.tracker.RecordInspection(sessionID, schema+"."+input.Table)

	p.logger.Info().
		Str("client_id", clientID).
		Str("session_id", sessionID).
		Str("table", schema+"."+input.Table).
		Dur("duration", time.Since(startTime)).
		Int("column_count", len(columns)).
		Msg("DescribeTable executed")

	return &DescribeTableOutput{
		Schema:      schema,
		Name:        input.Table,
		Columns:     columns,
		Indexes:     indexes,
		ForeignKeys: foreignKeys,
	}, nil
}

func describeColumns(ctx context.Context, conn *pgx.Conn, schema, table string) ([]ColumnInfo, error) {
	rows, err := conn.Query(ctx, describeColumnsSQL, schema, table)
	if err != nil {
		return nil, fmt.Errorf("DescribeTable columns query failed: %w", err)
	}
	defer rows.Close()

	columns := []ColumnInfo{}
	for rows.Next() {
		var col ColumnInfo
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &col.Default, &col.IsPrimaryKey); err != nil {
			return nil, fmt.Errorf("DescribeTable columns scan failed: %w", err)
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func describeIndexes(ctx context.Context, conn *pgx.Conn, schema, table string) ([]IndexInfo, error) {
	rows, err := conn.Query(ctx, describeIndexesSQL, schema, table)
	if err != nil {
		return nil, fmt.Errorf("DescribeTable indexes query failed: %w", err)
	}
	defer rows.Close()

	indexes := []IndexInfo{}
	for rows.Next() {
		var idx IndexInfo
		if err := rows.Scan(&idx.Name, &idx.Definition, &idx.IsUnique, &idx.IsPrimary); err != nil {
			return nil, fmt.Errorf("DescribeTable indexes scan failed: %w", err)
		}
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

func describeForeignKeys(ctx context.Context, conn *pgx.Conn, schema, table string) ([]ForeignKeyInfo, error) {
	rows, err := conn.Query(ctx, describeForeignKeysSQL, schema, table)
	if err != nil {
		return nil, fmt.Errorf("DescribeTable foreign keys query failed: %w", err)
	}
	defer rows.Close()

	fks := []ForeignKeyInfo{}
	for rows.Next() {
		var fk ForeignKeyInfo
		if err := rows.Scan(&fk.Name, &fk.Definition); err != nil {
			return nil, fmt.Errorf("DescribeTable foreign keys scan failed: %w", err)
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}
