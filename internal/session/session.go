// Package session tracks which tables each agent session has explicitly
// inspected, gating free-form query execution on prior schema inspection.
// The gate is a soft safety workflow, not an ACL: a rejected query carries
// the exact list of tables to inspect, and the identical query succeeds once
// those inspections have happened within the same session.
package session

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pgscope/pgscope/internal/metrics"
)

// Config configures a Tracker.
type Config struct {
	// IdleTTL evicts sessions idle longer than this. 0 disables eviction.
	IdleTTL time.Duration
}

// UnknownTablesError is returned when a query references tables the session
// has not inspected. Missing is deduplicated and sorted for stable output.
type UnknownTablesError struct {
	SessionID string
	Missing   []string
}

func (e *UnknownTablesError) Error() string {
	return fmt.Sprintf("query references tables not yet inspected: %s — call describe_table for each of them first, then retry the query",
		strings.Join(e.Missing, ", "))
}

type sessionState struct {
	knownTables map[string]struct{}
	createdAt   time.Time
	lastActive  time.Time
}

// Tracker is a registry of per-session inspected-table sets. It is the sole
// mutator of those sets. All methods are safe for concurrent use.
type Tracker struct {
	cfg Config

	mu        sync.Mutex
	sessions  map[string]*sessionState
	lastSweep time.Time

	now func() time.Time // injectable for tests
}

// NewTracker creates a Tracker. Panics on invalid config.
func NewTracker(cfg Config) *Tracker {
	if cfg.IdleTTL < 0 {
		panic("session: IdleTTL must be >= 0")
	}
	return &Tracker{
		cfg:      cfg,
		sessions: make(map[string]*sessionState),
		now:      time.Now,
	}
}

// RecordInspection idempotently marks table as inspected for sessionID,
// creating the session on first use. Table names are case-normalized the
// way PostgreSQL folds unquoted identifiers.
func (t *Tracker) RecordInspection(sessionID, table string) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked(now)
	s := t.getOrCreateLocked(sessionID, now)
	s.knownTables[normalize(table)] = struct{}{}
	s.lastActive = now
}

// ValidateQuery checks that every referenced table has been inspected in
// this session. On failure it returns *UnknownTablesError listing the
// missing tables; the caller should surface it as a prerequisite step, not
// a denial.
func (t *Tracker) ValidateQuery(sessionID string, referencedTables []string) error {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked(now)
	s := t.getOrCreateLocked(sessionID, now)
	s.lastActive = now

	var missing []string
	seen := make(map[string]struct{})
	for _, table := range referencedTables {
		name := normalize(table)
		if _, ok := s.knownTables[name]; ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		missing = append(missing, name)
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	metrics.SessionGateRejections.Inc()
	return &UnknownTablesError{SessionID: sessionID, Missing: missing}
}

// KnownTables returns the sorted inspected-table set for a session. Empty
// for unknown sessions.
func (t *Tracker) KnownTables(sessionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return nil
	}
	tables := make([]string, 0, len(s.knownTables))
	for table := range s.knownTables {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}

// Size returns the number of tracked sessions.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *Tracker) getOrCreateLocked(sessionID string, now time.Time) *sessionState {
	s, ok := t.sessions[sessionID]
	if !ok {
		s = &sessionState{
			knownTables: make(map[string]struct{}),
			createdAt:   now,
			lastActive:  now,
		}
		t.sessions[sessionID] = s
	}
	return s
}

// sweepLocked drops sessions idle longer than IdleTTL, at most once per TTL
// interval.
func (t *Tracker) sweepLocked(now time.Time) {
	if t.cfg.IdleTTL <= 0 || now.Sub(t.lastSweep) < t.cfg.IdleTTL {
		return
	}
	t.lastSweep = now
	for id, s := range t.sessions {
		if now.Sub(s.lastActive) >= t.cfg.IdleTTL {
			delete(t.sessions, id)
		}
	}
}

func normalize(table string) string {
	return strings.ToLower(strings.TrimSpace(table))
}
