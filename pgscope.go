package pgscope

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/pgscope/pgscope/internal/guard"
	"github.com/pgscope/pgscope/internal/guidance"
	"github.com/pgscope/pgscope/internal/pool"
	"github.com/pgscope/pgscope/internal/ratelimit"
	"github.com/pgscope/pgscope/internal/redact"
	"github.com/pgscope/pgscope/internal/session"
	"github.com/pgscope/pgscope/internal/timeout"
)

// PgScope is the core engine that provides Query, ListTables, ListSchemas,
// and DescribeTable tools behind a shared arbitration layer. All exported
// methods are safe for concurrent use from multiple goroutines.
type PgScope struct {
	config         Config
	pool           *pool.Pool[*pgx.Conn]
	governor       *ratelimit.Governor
	tracker        *session.Tracker
	guard          *guard.Checker
	timeoutMgr     *timeout.Manager
	redactor       *redact.Redactor
	guidance       *guidance.Matcher
	acquireTimeout time.Duration
	logger         zerolog.Logger
}

// New creates a new PgScope instance.
// connString is the PostgreSQL connection string (must include credentials).
// In library mode, connString is required — Config.Connection fields are
// ignored (the CLI is responsible for building connString from
// Config.Connection + prompted credentials).
// Panics on invalid config. Returns error only for runtime failures
// (e.g., a malformed connection string).
//
// Connections are established lazily on first acquire; New does not dial
// the database.
func New(ctx context.Context, connString string, config Config, logger zerolog.Logger) (*PgScope, error) {
	// --- Config validation (panics on invalid config) ---

	if connString == "" {
		panic("pgscope: connString must be non-empty")
	}
	if config.Pool.MaxConns <= 0 {
		panic("pgscope: pool.max_conns must be > 0")
	}
	if config.Pool.MinConns < 0 || config.Pool.MinConns > config.Pool.MaxConns {
		panic("pgscope: pool.min_conns must be in [0, max_conns]")
	}
	if config.Pool.MaxQueue < NoQueue {
		panic("pgscope: pool.max_queue must be > 0, or -1 to disable queueing")
	}
	if config.Pool.FairnessFraction < 0 || config.Pool.FairnessFraction > 1 {
		panic("pgscope: pool.fairness_fraction must be in [0, 1]")
	}
	if config.Query.DefaultTimeoutSeconds <= 0 {
		panic("pgscope: query.default_timeout_seconds must be > 0")
	}
	if config.Query.ListTablesTimeoutSeconds <= 0 {
		panic("pgscope: query.list_tables_timeout_seconds must be > 0")
	}
	if config.Query.ListSchemasTimeoutSeconds <= 0 {
		panic("pgscope: query.list_schemas_timeout_seconds must be > 0")
	}
	if config.Query.DescribeTableTimeoutSeconds <= 0 {
		panic("pgscope: query.describe_table_timeout_seconds must be > 0")
	}

	// Apply defaults for zero values
	if config.Pool.MinConns == 0 {
		config.Pool.MinConns = 1
	}
	switch config.Pool.MaxQueue {
	case 0:
		config.Pool.MaxQueue = defaultMaxQueue
	case NoQueue:
		config.Pool.MaxQueue = 0 // pool treats 0 as "never queue"
	}
	if config.Pool.AcquireTimeoutSeconds == 0 {
		config.Pool.AcquireTimeoutSeconds = defaultAcquireTimeoutSeconds
	}
	if config.Pool.AcquireTimeoutSeconds < 0 {
		panic("pgscope: pool.acquire_timeout_seconds must be > 0")
	}
	if config.RateLimit.Burst == 0 {
		config.RateLimit.Burst = defaultBurst
	}
	if config.RateLimit.RatePerMinute == 0 {
		config.RateLimit.RatePerMinute = defaultRatePerMinute
	}
	if config.RateLimit.Burst < 0 || config.RateLimit.RatePerMinute < 0 {
		panic("pgscope: rate_limit.burst and rate_limit.rate_per_minute must be > 0")
	}
	if config.Query.MaxSQLLength == 0 {
		config.Query.MaxSQLLength = 100000
	}
	if config.Query.MaxResultLength == 0 {
		config.Query.MaxResultLength = 100000
	}
	if config.Query.MaxSQLLength < 0 {
		panic("pgscope: query.max_sql_length must be > 0")
	}
	if config.Query.MaxResultLength < 0 {
		panic("pgscope: query.max_result_length must be > 0")
	}
	for _, rule := range config.Query.TimeoutRules {
		if rule.TimeoutSeconds <= 0 {
			panic(fmt.Sprintf("pgscope: timeout_rule with pattern %q has timeout_seconds <= 0", rule.Pattern))
		}
	}

	// --- Connection factory ---

	connConfig, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	connConfig.DefaultQueryExecMode = pgx.QueryExecModeExec

	constructor := func(ctx context.Context) (*pgx.Conn, error) {
		conn, err := pgx.ConnectConfig(ctx, connConfig)
		if err != nil {
			return nil, err
		}
		if config.ReadOnly {
			if _, err := conn.Exec(ctx, "SET default_transaction_read_only = on"); err != nil {
				conn.Close(ctx)
				return nil, fmt.Errorf("failed to SET default_transaction_read_only: %w", err)
			}
		}
		if config.Timezone != "" {
			escaped := strings.ReplaceAll(config.Timezone, "'", "''")
			if _, err := conn.Exec(ctx, fmt.Sprintf("SET timezone = '%s'", escaped)); err != nil {
				conn.Close(ctx)
				return nil, fmt.Errorf("failed to SET timezone: %w", err)
			}
		}
		return conn, nil
	}
	destructor := func(conn *pgx.Conn) {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}
	healthCheck := func(ctx context.Context, conn *pgx.Conn) error {
		if conn.IsClosed() {
			return fmt.Errorf("connection is closed")
		}
		return conn.Ping(ctx)
	}

	// --- Initialize internal components ---

	connPool := pool.New(pool.Config[*pgx.Conn]{
		Constructor:      constructor,
		Destructor:       destructor,
		HealthCheck:      healthCheck,
		MinConns:         config.Pool.MinConns,
		MaxConns:         config.Pool.MaxConns,
		MaxQueue:         config.Pool.MaxQueue,
		IdleTimeout:      parseDuration("pool.conn_idle_time", config.Pool.ConnIdleTime, defaultConnIdleTime),
		FairnessFraction: config.Pool.FairnessFraction,
	})

	governor := ratelimit.NewGovernor(ratelimit.Config{
		Burst:   config.RateLimit.Burst,
		Rate:    config.RateLimit.RatePerMinute / 60.0,
		IdleTTL: parseDuration("rate_limit.bucket_idle_ttl", config.RateLimit.BucketIdleTTL, defaultBucketIdleTTL),
	})

	tracker := session.NewTracker(session.Config{
		IdleTTL: parseDuration("session.idle_ttl", config.Session.IdleTTL, defaultSessionIdleTTL),
	})

	timeoutRules := make([]timeout.Rule, len(config.Query.TimeoutRules))
	for i, r := range config.Query.TimeoutRules {
		timeoutRules[i] = timeout.Rule{
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}
	tmgr := timeout.NewManager(timeout.Config{
		DefaultTimeout: time.Duration(config.Query.DefaultTimeoutSeconds) * time.Second,
		Rules:          timeoutRules,
	})

	redactionRules := make([]redact.Rule, len(config.Redaction))
	for i, r := range config.Redaction {
		redactionRules[i] = redact.Rule{Pattern: r.Pattern, Replacement: r.Replacement}
	}

	return &PgScope{
		config:         config,
		pool:           connPool,
		governor:       governor,
		tracker:        tracker,
		guard:          guard.NewChecker(guard.Config{AllowSet: config.Query.AllowSet}),
		timeoutMgr:     tmgr,
		redactor:       redact.NewRedactor(redactionRules),
		guidance:       guidance.NewMatcher(guidanceRules(config.Guidance)),
		acquireTimeout: time.Duration(config.Pool.AcquireTimeoutSeconds) * time.Second,
		logger:         logger,
	}, nil
}

// Close shuts the connection pool down. Accepts context for API
// forward-compatibility; close of individual connections is bounded
// internally.
func (p *PgScope) Close(ctx context.Context) {
	p.pool.Close()
}

// Ping verifies database connectivity by acquiring a connection and
// pinging it. Used by health checks and the doctor command.
func (p *PgScope) Ping(ctx context.Context) error {
	lease, err := p.acquire(ctx, "healthcheck")
	if err != nil {
		return err
	}
	err = lease.Value().Ping(ctx)
	if err != nil {
		p.discardLease(lease)
		return err
	}
	p.releaseLease(lease)
	return nil
}

// Stats returns a point-in-time snapshot of the arbitration layer.
func (p *PgScope) Stats() Stats {
	ps := p.pool.Stats()
	return Stats{
		PoolActive:     ps.Active,
		PoolIdle:       ps.Idle,
		PoolWaiting:    ps.Waiting,
		PoolMax:        ps.Max,
		RateBuckets:    p.governor.Size(),
		ActiveSessions: p.tracker.Size(),
	}
}

// acquire leases a connection, bounding queue wait by the configured
// acquire timeout independently of the statement timeout.
func (p *PgScope) acquire(ctx context.Context, clientID string) (*pool.Lease[*pgx.Conn], error) {
	acqCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()
	return p.pool.Acquire(acqCtx, clientID)
}

// releaseLease returns a lease to the pool, discarding the connection if
// the backend closed it mid-use.
func (p *PgScope) releaseLease(lease *pool.Lease[*pgx.Conn]) {
	if lease.Value().IsClosed() {
		p.discardLease(lease)
		return
	}
	if err := p.pool.Release(lease); err != nil {
		p.logger.Error().Err(err).Msg("failed to release connection lease")
	}
}

func (p *PgScope) discardLease(lease *pool.Lease[*pgx.Conn]) {
	if err := p.pool.Discard(lease); err != nil {
		p.logger.Error().Err(err).Msg("failed to discard connection lease")
	}
}

func identityOrDefault(id string) string {
	if id == "" {
		return "default"
	}
	return id
}
