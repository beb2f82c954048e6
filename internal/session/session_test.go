package session

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestGateOpensAfterInspection(t *testing.T) {
	tr := NewTracker(Config{})

	var unknownErr *UnknownTablesError
	err := tr.ValidateQuery("s1", []string{"orders"})
	if !errors.As(err, &unknownErr) {
		t.Fatalf("got %v, want UnknownTablesError", err)
	}
	if !reflect.DeepEqual(unknownErr.Missing, []string{"orders"}) {
		t.Errorf("missing = %v, want [orders]", unknownErr.Missing)
	}

	tr.RecordInspection("s1", "orders")

	if err := tr.ValidateQuery("s1", []string{"orders"}); err != nil {
		t.Fatalf("identical query after inspection failed: %v", err)
	}
}

func TestMissingTablesSortedAndPartial(t *testing.T) {
	tr := NewTracker(Config{})
	tr.RecordInspection("s1", "users")

	var unknownErr *UnknownTablesError
	err := tr.ValidateQuery("s1", []string{"zebra", "users", "apple"})
	if !errors.As(err, &unknownErr) {
		t.Fatalf("got %v, want UnknownTablesError", err)
	}
	if !reflect.DeepEqual(unknownErr.Missing, []string{"apple", "zebra"}) {
		t.Errorf("missing = %v, want [apple zebra]", unknownErr.Missing)
	}
}

func TestMissingTablesDeduplicated(t *testing.T) {
	tr := NewTracker(Config{})
	tr.RecordInspection("s1", "users")

	var unknownErr *UnknownTablesError
	err := tr.ValidateQuery("s1", []string{"Orders", "orders", " ORDERS ", "customers", "users"})
	if !errors.As(err, &unknownErr) {
		t.Fatalf("got %v, want UnknownTablesError", err)
	}
	if !reflect.DeepEqual(unknownErr.Missing, []string{"customers", "orders"}) {
		t.Errorf("missing = %v, want [customers orders]", unknownErr.Missing)
	}
}

func TestNoCrossSessionLeakage(t *testing.T) {
	tr := NewTracker(Config{})
	tr.RecordInspection("s1", "orders")

	if err := tr.ValidateQuery("s2", []string{"orders"}); err == nil {
		t.Fatal("s2 must not see s1's inspections")
	}
	if err := tr.ValidateQuery("s1", []string{"orders"}); err != nil {
		t.Fatalf("s1 affected by s2's validation: %v", err)
	}
}

func TestRecordInspectionIdempotent(t *testing.T) {
	tr := NewTracker(Config{})
	tr.RecordInspection("s1", "orders")
	tr.RecordInspection("s1", "orders")
	tr.RecordInspection("s1", "Orders") // identifier folding

	if got := tr.KnownTables("s1"); !reflect.DeepEqual(got, []string{"orders"}) {
		t.Errorf("known tables = %v, want exactly [orders]", got)
	}
}

func TestCaseInsensitiveMatching(t *testing.T) {
	tr := NewTracker(Config{})
	tr.RecordInspection("s1", "Public.Orders")

	if err := tr.ValidateQuery("s1", []string{"public.orders"}); err != nil {
		t.Fatalf("case-folded reference rejected: %v", err)
	}
}

func TestEmptyReferenceSetAlwaysPasses(t *testing.T) {
	tr := NewTracker(Config{})
	if err := tr.ValidateQuery("fresh", nil); err != nil {
		t.Fatalf("query with no table references rejected: %v", err)
	}
}

func TestIdleSessionEviction(t *testing.T) {
	tr := NewTracker(Config{IdleTTL: time.Minute})
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tr.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	tr.RecordInspection("s1", "orders")

	mu.Lock()
	clock = clock.Add(2 * time.Minute)
	mu.Unlock()

	// Any call triggers the lazy sweep; the idle session's inspections are
	// gone, so the gate closes again.
	if err := tr.ValidateQuery("s1", []string{"orders"}); err == nil {
		t.Fatal("evicted session retained its inspections")
	}
}

func TestConcurrentSessions(t *testing.T) {
	tr := NewTracker(Config{})

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			sid := fmt.Sprintf("s%d", g%4)
			for i := 0; i < 100; i++ {
				table := fmt.Sprintf("t%d", i%10)
				tr.RecordInspection(sid, table)
				_ = tr.ValidateQuery(sid, []string{table})
				_ = tr.KnownTables(sid)
			}
		}(g)
	}
	wg.Wait()

	for g := 0; g < 4; g++ {
		sid := fmt.Sprintf("s%d", g)
		if got := len(tr.KnownTables(sid)); got != 10 {
			t.Errorf("session %s has %d known tables, want 10", sid, got)
		}
	}
}
