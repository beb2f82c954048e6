// Package timeout resolves per-query execution deadlines from SQL pattern
// rules, falling back to a default. First matching rule wins.
package timeout

import (
	"fmt"
	"regexp"
	"time"
)

// Rule maps a SQL regex pattern to a timeout.
type Rule struct {
	Pattern string
	Timeout time.Duration
}

// Config configures a Manager.
type Config struct {
	DefaultTimeout time.Duration
	Rules          []Rule
}

type compiledRule struct {
	pattern *regexp.Regexp
	timeout time.Duration
}

// Manager resolves query timeouts based on SQL pattern matching.
type Manager struct {
	rules          []compiledRule
	defaultTimeout time.Duration
}

// NewManager creates a Manager. Panics on invalid regex patterns or a
// non-positive default.
func NewManager(config Config) *Manager {
	if config.DefaultTimeout <= 0 {
		panic("timeout: DefaultTimeout must be > 0")
	}
	compiled := make([]compiledRule, len(config.Rules))
	for i, r := range config.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			panic(fmt.Sprintf("timeout: invalid regex pattern %q: %v", r.Pattern, err))
		}
		if r.Timeout <= 0 {
			panic(fmt.Sprintf("timeout: rule %q has non-positive timeout", r.Pattern))
		}
		compiled[i] = compiledRule{pattern: re, timeout: r.Timeout}
	}
	return &Manager{rules: compiled, defaultTimeout: config.DefaultTimeout}
}

// Resolve returns the timeout for the given SQL and the pattern of the rule
// that matched, or the default timeout and "" when no rule matched.
func (m *Manager) Resolve(sql string) (time.Duration, string) {
	for _, rule := range m.rules {
		if rule.pattern.MatchString(sql) {
			return rule.timeout, rule.pattern.String()
		}
	}
	return m.defaultTimeout, ""
}
