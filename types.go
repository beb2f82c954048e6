package pgscope

// QueryInput is the input for the Query tool. SessionID and ClientID
// identify the caller for session gating and rate limiting; when empty
// they default to "default".
type QueryInput struct {
	SQL       string `json:"sql"`
	SessionID string `json:"-"`
	ClientID  string `json:"-"`
}

// QueryOutput is the output of the Query tool. All failures (Postgres
// errors, read-only rejections, rate-limit denials, session-gate denials,
// pool saturation) are placed in Error, annotated with a recovery prompt
// when a guidance rule matches.
type QueryOutput struct {
	Columns  []string                 `json:"columns"`
	Rows     []map[string]interface{} `json:"rows"`
	RowCount int                      `json:"row_count"`
	Error    string                   `json:"error,omitempty"`
}

// ListTablesInput is the input for the ListTables tool.
type ListTablesInput struct {
	Schema    string `json:"schema"` // empty means all non-system schemas
	SessionID string `json:"-"`
	ClientID  string `json:"-"`
}

// TableEntry represents a single table/view in the ListTables output.
type TableEntry struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
	Type   string `json:"type"` // "table", "view", "materialized_view", "foreign_table", "partitioned_table"
	Owner  string `json:"owner"`
}

// ListTablesOutput is the output of the ListTables tool.
type ListTablesOutput struct {
	Tables []TableEntry `json:"tables"`
	Error  string       `json:"error,omitempty"`
}

// ListSchemasInput is the input for the ListSchemas tool.
type ListSchemasInput struct {
	IncludeSystem bool   `json:"include_system"`
	SessionID     string `json:"-"`
	ClientID      string `json:"-"`
}

// SchemaEntry represents a single schema in the ListSchemas output.
type SchemaEntry struct {
	Name     string `json:"name"`
	Owner    string `json:"owner"`
	IsSystem bool   `json:"is_system"`
}

// ListSchemasOutput is the output of the ListSchemas tool.
type ListSchemasOutput struct {
	Schemas []SchemaEntry `json:"schemas"`
	Error   string        `json:"error,omitempty"`
}

// DescribeTableInput is the input for the DescribeTable tool.
type DescribeTableInput struct {
	Table     string `json:"table"`
	Schema    string `json:"schema"` // empty means "public"
	SessionID string `json:"-"`
	ClientID  string `json:"-"`
}

// ColumnInfo describes a single column.
type ColumnInfo struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Nullable     bool   `json:"nullable"`
	Default      string `json:"default,omitempty"`
	IsPrimaryKey bool   `json:"is_primary_key"`
}

// IndexInfo describes a single index.
type IndexInfo struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
	IsUnique   bool   `json:"is_unique"`
	IsPrimary  bool   `json:"is_primary"`
}

// ForeignKeyInfo describes a single foreign key.
type ForeignKeyInfo struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

// DescribeTableOutput is the output of the DescribeTable tool. A successful
// describe also marks the table as inspected for the calling session,
// unlocking it for Query.
type DescribeTableOutput struct {
	Schema      string           `json:"schema"`
	Name        string           `json:"name"`
	Columns     []ColumnInfo     `json:"columns"`
	Indexes     []IndexInfo      `json:"indexes"`
	ForeignKeys []ForeignKeyInfo `json:"foreign_keys"`
	Error       string           `json:"error,omitempty"`
}

// Stats is a point-in-time snapshot of the arbitration layer, for health
// endpoints and diagnostics.
type Stats struct {
	PoolActive     int `json:"pool_active"`
	PoolIdle       int `json:"pool_idle"`
	PoolWaiting    int `json:"pool_waiting"`
	PoolMax        int `json:"pool_max"`
	RateBuckets    int `json:"rate_buckets"`
	ActiveSessions int `json:"active_sessions"`
}
