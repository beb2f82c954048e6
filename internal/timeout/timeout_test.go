package timeout

import (
	"testing"
	"time"
)

func TestResolve(t *testing.T) {
	m := NewManager(Config{
		DefaultTimeout: 30 * time.Second,
		Rules: []Rule{
			{Pattern: `(?i)pg_sleep`, Timeout: 60 * time.Second},
			{Pattern: `(?i)^EXPLAIN`, Timeout: 10 * time.Second},
			{Pattern: `(?i)SELECT`, Timeout: 20 * time.Second},
		},
	})

	tests := []struct {
		sql         string
		wantTimeout time.Duration
		wantPattern string
	}{
		{"SELECT pg_sleep(5)", 60 * time.Second, `(?i)pg_sleep`},
		{"EXPLAIN SELECT 1", 10 * time.Second, `(?i)^EXPLAIN`},
		{"SELECT * FROM users", 20 * time.Second, `(?i)SELECT`},
		{"SHOW search_path", 30 * time.Second, ""},
	}
	for _, tt := range tests {
		gotTimeout, gotPattern := m.Resolve(tt.sql)
		if gotTimeout != tt.wantTimeout || gotPattern != tt.wantPattern {
			t.Errorf("Resolve(%q) = (%v, %q), want (%v, %q)",
				tt.sql, gotTimeout, gotPattern, tt.wantTimeout, tt.wantPattern)
		}
	}
}

func TestFirstMatchingRuleWins(t *testing.T) {
	m := NewManager(Config{
		DefaultTimeout: 30 * time.Second,
		Rules: []Rule{
			{Pattern: `(?i)SELECT`, Timeout: 5 * time.Second},
			{Pattern: `(?i)SELECT.*orders`, Timeout: 60 * time.Second},
		},
	})
	got, _ := m.Resolve("SELECT * FROM orders")
	if got != 5*time.Second {
		t.Errorf("Resolve = %v, want first rule's 5s", got)
	}
}

func TestInvalidConfigPanics(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero default", Config{}},
		{"bad regex", Config{DefaultTimeout: time.Second, Rules: []Rule{{Pattern: "([", Timeout: time.Second}}}},
		{"zero rule timeout", Config{DefaultTimeout: time.Second, Rules: []Rule{{Pattern: "x"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			NewManager(tc.cfg)
		})
	}
}
