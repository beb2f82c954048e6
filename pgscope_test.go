package pgscope

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

const testConnString = "host=127.0.0.1 port=5432 dbname=testdb user=test"

func validConfig() Config {
	return Config{
		Pool: PoolConfig{MaxConns: 5, MaxQueue: 10},
		Query: QueryConfig{
			DefaultTimeoutSeconds:       30,
			ListTablesTimeoutSeconds:    10,
			ListSchemasTimeoutSeconds:   10,
			DescribeTableTimeoutSeconds: 10,
		},
	}
}

// newTestEngine builds an engine against an address nothing listens on.
// Connections are lazy, so tests that stop at the gating layer never dial.
func newTestEngine(t *testing.T, mutate func(*Config)) *PgScope {
	t.Helper()
	cfg := validConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(context.Background(), testConnString, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { p.Close(context.Background()) })
	return p
}

func TestNewPanicsOnInvalidConfig(t *testing.T) {
	tests := []struct {
		name       string
		connString string
		mutate     func(*Config)
	}{
		{"empty conn string", "", nil},
		{"zero max conns", testConnString, func(c *Config) { c.Pool.MaxConns = 0 }},
		{"min conns above max", testConnString, func(c *Config) { c.Pool.MinConns = 10 }},
		{"max queue below sentinel", testConnString, func(c *Config) { c.Pool.MaxQueue = -2 }},
		{"fairness above one", testConnString, func(c *Config) { c.Pool.FairnessFraction = 1.5 }},
		{"zero default timeout", testConnString, func(c *Config) { c.Query.DefaultTimeoutSeconds = 0 }},
		{"zero list tables timeout", testConnString, func(c *Config) { c.Query.ListTablesTimeoutSeconds = 0 }},
		{"zero list schemas timeout", testConnString, func(c *Config) { c.Query.ListSchemasTimeoutSeconds = 0 }},
		{"zero describe timeout", testConnString, func(c *Config) { c.Query.DescribeTableTimeoutSeconds = 0 }},
		{"negative max sql length", testConnString, func(c *Config) { c.Query.MaxSQLLength = -1 }},
		{"zero timeout rule", testConnString, func(c *Config) {
			c.Query.TimeoutRules = []TimeoutRule{{Pattern: "pg_sleep", TimeoutSeconds: 0}}
		}},
		{"bad idle duration", testConnString, func(c *Config) { c.Pool.ConnIdleTime = "soon" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			cfg := validConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			New(context.Background(), tt.connString, cfg, zerolog.Nop())
		})
	}
}

func TestMaxQueueDefaultsAndSentinel(t *testing.T) {
	p := newTestEngine(t, func(c *Config) { c.Pool.MaxQueue = NoQueue })
	if got := p.config.Pool.MaxQueue; got != 0 {
		t.Errorf("NoQueue: effective max queue = %d, want 0", got)
	}

	p = newTestEngine(t, func(c *Config) { c.Pool.MaxQueue = 0 })
	if got := p.config.Pool.MaxQueue; got != defaultMaxQueue {
		t.Errorf("zero: effective max queue = %d, want default %d", got, defaultMaxQueue)
	}
}

func TestNewRejectsMalformedConnString(t *testing.T) {
	_, err := New(context.Background(), "host=x port=notaport", validConfig(), zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for malformed connection string")
	}
}

func TestQueryRejectsWriteStatements(t *testing.T) {
	p := newTestEngine(t, nil)
	for _, sql := range []string{
		"INSERT INTO orders (id) VALUES (1)",
		"UPDATE orders SET id = 2",
		"DELETE FROM orders",
		"DROP TABLE orders",
		"TRUNCATE orders",
	} {
		out := p.Query(context.Background(), QueryInput{SQL: sql})
		if out.Error == "" {
			t.Errorf("Query(%q) succeeded, want read-only rejection", sql)
		}
	}
}

func TestQueryRejectsUninspectedTables(t *testing.T) {
	p := newTestEngine(t, nil)
	out := p.Query(context.Background(), QueryInput{
		SQL:       "SELECT * FROM orders JOIN customers ON orders.customer_id = customers.id",
		SessionID: "s1",
	})
	if out.Error == "" {
		t.Fatal("expected session-gate rejection")
	}
	if !strings.Contains(out.Error, "customers, orders") {
		t.Errorf("error should list missing tables sorted, got: %s", out.Error)
	}
	if !strings.Contains(out.Error, "describe_table") {
		t.Errorf("error should carry recovery guidance, got: %s", out.Error)
	}
}

func TestQueryRateLimitExhaustion(t *testing.T) {
	p := newTestEngine(t, func(c *Config) {
		c.RateLimit.Burst = 2
		c.RateLimit.RatePerMinute = 0.001
	})
	// First two calls consume the burst (both fail at the gate, which
	// still charges a token).
	for i := 0; i < 2; i++ {
		p.Query(context.Background(), QueryInput{SQL: "SELECT * FROM orders", ClientID: "agent-1"})
	}
	out := p.Query(context.Background(), QueryInput{SQL: "SELECT * FROM orders", ClientID: "agent-1"})
	if !strings.Contains(out.Error, "rate limit exceeded") {
		t.Fatalf("expected rate limit error, got: %s", out.Error)
	}
	if !strings.Contains(out.Error, "too quickly") {
		t.Errorf("rate limit error should carry recovery guidance, got: %s", out.Error)
	}

	// Another client is unaffected.
	out = p.Query(context.Background(), QueryInput{SQL: "SELECT * FROM orders", ClientID: "agent-2"})
	if strings.Contains(out.Error, "rate limit exceeded") {
		t.Errorf("rate limit leaked across clients: %s", out.Error)
	}
}

func TestQueryRejectsOverlongSQL(t *testing.T) {
	p := newTestEngine(t, func(c *Config) { c.Query.MaxSQLLength = 20 })
	out := p.Query(context.Background(), QueryInput{SQL: "SELECT * FROM a_table_with_a_long_name"})
	if !strings.Contains(out.Error, "too long") {
		t.Fatalf("expected length rejection, got: %s", out.Error)
	}
}

func TestQueryRejectsUnparsableSQL(t *testing.T) {
	p := newTestEngine(t, nil)
	out := p.Query(context.Background(), QueryInput{SQL: "SELECT FROM FROM"})
	if out.Error == "" {
		t.Fatal("expected parse error")
	}
}

func TestQueryRejectsMultipleStatements(t *testing.T) {
	p := newTestEngine(t, nil)
	out := p.Query(context.Background(), QueryInput{SQL: "SELECT 1; SELECT 2"})
	if out.Error == "" {
		t.Fatal("expected multi-statement rejection")
	}
}

func TestSessionGateIsolatedPerSession(t *testing.T) {
	p := newTestEngine(t, nil)

	out1 := p.Query(context.Background(), QueryInput{SQL: "SELECT * FROM orders", SessionID: "s1"})
	out2 := p.Query(context.Background(), QueryInput{SQL: "SELECT * FROM orders", SessionID: "s2"})
	if !strings.Contains(out1.Error, "not yet inspected") || !strings.Contains(out2.Error, "not yet inspected") {
		t.Fatalf("both sessions should be gated, got %q / %q", out1.Error, out2.Error)
	}
}

func TestConcurrentGatingIsRaceFree(t *testing.T) {
	p := newTestEngine(t, func(c *Config) { c.RateLimit.Burst = 1000 })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sessions := []string{"s1", "s2", "s3"}
			for j := 0; j < 50; j++ {
				p.Query(context.Background(), QueryInput{
					SQL:       "SELECT * FROM orders",
					SessionID: sessions[j%len(sessions)],
					ClientID:  sessions[n%len(sessions)],
				})
			}
		}(i)
	}
	wg.Wait()
}

func TestStatsReflectsConfig(t *testing.T) {
	p := newTestEngine(t, nil)
	stats := p.Stats()
	if stats.PoolMax != 5 {
		t.Errorf("PoolMax = %d, want 5", stats.PoolMax)
	}
	if stats.PoolActive != 0 || stats.PoolWaiting != 0 {
		t.Errorf("fresh engine should be idle, got %+v", stats)
	}
}
