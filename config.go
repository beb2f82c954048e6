package pgscope

import (
	"time"

	"github.com/pgscope/pgscope/internal/guidance"
)

// Config is the base configuration used by library mode via New().
type Config struct {
	Pool      PoolConfig      `json:"pool"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Session   SessionConfig   `json:"session"`
	Query     QueryConfig     `json:"query"`
	Guidance  []GuidanceRule  `json:"guidance"`
	Redaction []RedactionRule `json:"redaction"`
	ReadOnly  bool            `json:"read_only"`
	Timezone  string          `json:"timezone"`
}

// ServerConfig embeds Config and adds server-only fields for CLI mode.
type ServerConfig struct {
	Config
	Connection ConnectionConfig `json:"connection"`
	Server     ServerSettings   `json:"server"`
	Logging    LoggingConfig    `json:"logging"`
}

// ConnectionConfig holds database connection parameters used by CLI mode.
type ConnectionConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	DBName  string `json:"dbname"`
	SSLMode string `json:"sslmode"`
}

// NoQueue as PoolConfig.MaxQueue disables queueing entirely: acquires
// against an exhausted pool fail immediately instead of waiting.
const NoQueue = -1

// PoolConfig holds connection pool settings. MaxConns is the hard upper
// bound on simultaneous backend connections; callers beyond it wait in a
// FIFO queue of at most MaxQueue entries. MaxQueue 0 applies the default;
// use NoQueue to turn the queue off.
type PoolConfig struct {
	MaxConns              int     `json:"max_conns"`
	MinConns              int     `json:"min_conns"`
	MaxQueue              int     `json:"max_queue"`
	AcquireTimeoutSeconds int     `json:"acquire_timeout_seconds"`
	ConnIdleTime          string  `json:"conn_idle_time"`
	FairnessFraction      float64 `json:"fairness_fraction"`
}

// RateLimitConfig holds per-client token bucket settings. Each client
// starts with Burst tokens and regains RatePerMinute tokens per minute up
// to Burst. Every tool call costs one token.
type RateLimitConfig struct {
	Burst         float64 `json:"burst"`
	RatePerMinute float64 `json:"rate_per_minute"`
	BucketIdleTTL string  `json:"bucket_idle_ttl"`
}

// SessionConfig holds session tracker settings.
type SessionConfig struct {
	IdleTTL string `json:"idle_ttl"`
}

// ServerSettings holds transport settings for CLI mode.
type ServerSettings struct {
	Transport          string `json:"transport"` // stdio, http
	Port               int    `json:"port"`
	HealthCheckEnabled bool   `json:"health_check_enabled"`
	HealthCheckPath    string `json:"health_check_path"`
	MetricsEnabled     bool   `json:"metrics_enabled"`
	MetricsPath        string `json:"metrics_path"`
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
	Output string `json:"output"` // stderr, stdout, or file path
}

// QueryConfig holds query execution settings.
type QueryConfig struct {
	DefaultTimeoutSeconds       int           `json:"default_timeout_seconds"`
	ListTablesTimeoutSeconds    int           `json:"list_tables_timeout_seconds"`
	ListSchemasTimeoutSeconds   int           `json:"list_schemas_timeout_seconds"`
	DescribeTableTimeoutSeconds int           `json:"describe_table_timeout_seconds"`
	MaxSQLLength                int           `json:"max_sql_length"`
	MaxResultLength             int           `json:"max_result_length"`
	AllowSet                    bool          `json:"allow_set"`
	TimeoutRules                []TimeoutRule `json:"timeout_rules"`
}

// TimeoutRule maps a SQL pattern to a specific timeout duration.
type TimeoutRule struct {
	Pattern        string `json:"pattern"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// GuidanceRule maps an error message pattern to a recovery prompt appended
// to the error before it is returned to the agent.
type GuidanceRule struct {
	Pattern string `json:"pattern"`
	Message string `json:"message"`
}

// RedactionRule defines a regex-based field redaction rule.
type RedactionRule struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
	Description string `json:"description"`
}

// Defaults applied by New for fields left at their zero value.
const (
	defaultMaxQueue              = 10
	defaultAcquireTimeoutSeconds = 10
	defaultConnIdleTime          = 5 * time.Minute
	defaultBurst                 = 10.0
	defaultRatePerMinute         = 10.0
	defaultBucketIdleTTL         = 15 * time.Minute
	defaultSessionIdleTTL        = 30 * time.Minute
)

func guidanceRules(rules []GuidanceRule) []guidance.Rule {
	out := make([]guidance.Rule, len(rules))
	for i, r := range rules {
		out[i] = guidance.Rule{Pattern: r.Pattern, Message: r.Message}
	}
	return out
}

// parseDuration parses s, falling back to def when s is empty. Panics on
// malformed input since this only runs during construction.
func parseDuration(field, s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		panic("pgscope: invalid duration for " + field + ": " + s)
	}
	return d
}
