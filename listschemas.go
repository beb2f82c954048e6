package pgscope

import (
	"context"
	"fmt"
	"time"
)

const listSchemasSQL = `
SELECT
    n.nspname AS name,
    pg_catalog.pg_get_userbyid(n.nspowner) AS owner,
    (n.nspname IN ('pg_catalog', 'information_schema') OR n.nspname LIKE 'pg\_%') AS is_system
FROM pg_catalog.pg_namespace n
WHERE has_schema_privilege(n.oid, 'USAGE')
ORDER BY n.nspname;
`

// ListSchemas returns all schemas accessible to the current user. System
// schemas (pg_catalog, information_schema, pg_*) are omitted unless
// IncludeSystem is set. Rate limited per client.
func (p *PgScope) ListSchemas(ctx context.Context, input ListSchemasInput) (*ListSchemasOutput, error) {
	startTime := time.Now()
	clientID := identityOrDefault(input.ClientID)

	if err := p.governor.Allow(clientID); err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, time.Duration(p.config.Query.ListSchemasTimeoutSeconds)*time.Second)
	defer cancel()

	lease, err := p.acquire(queryCtx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer p.releaseLease(lease)

	rows, err := lease.Value().Query(queryCtx, listSchemasSQL)
	if err != nil {
		return nil, fmt.Errorf("ListSchemas query failed: %w", err)
	}
	defer rows.Close()

	schemas := []SchemaEntry{}
	for rows.Next() {
		var entry SchemaEntry
		if err := rows.Scan(&entry.Name, &entry.Owner, &entry.IsSystem); err != nil {
			return nil, fmt.Errorf("ListSchemas scan failed: %w", err)
		}
		if entry.IsSystem && !input.IncludeSystem {
			continue
		}
		schemas = append(schemas, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListSchemas rows error: %w", err)
	}

	p.logger.Info().
		Str("client_id", clientID).
		Dur("duration", time.Since(startTime)).
		Int("schema_count", len(schemas)).
		Msg("ListSchemas executed")

	return &ListSchemasOutput{Schemas: schemas}, nil
}
