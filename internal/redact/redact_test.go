package redact

import (
	"reflect"
	"testing"
)

func TestRowsScrubsStringsRecursively(t *testing.T) {
	r := NewRedactor([]Rule{
		{Pattern: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, Replacement: "[EMAIL]"},
		{Pattern: `\d{3}-\d{4}`, Replacement: "***-****"},
	})

	rows := []map[string]interface{}{
		{
			"email": "alice@example.com",
			"phone": "555-1234",
			"count": 3,
			"meta": map[string]interface{}{
				"contact": "bob@test.org",
				"tags":    []interface{}{"x", "carol@test.org"},
			},
		},
	}
	r.Rows(rows)

	want := []map[string]interface{}{
		{
			"email": "[EMAIL]",
			"phone": "***-****",
			"count": 3,
			"meta": map[string]interface{}{
				"contact": "[EMAIL]",
				"tags":    []interface{}{"x", "[EMAIL]"},
			},
		},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("Rows = %v, want %v", rows, want)
	}
}

func TestRulesApplyInOrder(t *testing.T) {
	r := NewRedactor([]Rule{
		{Pattern: `secret`, Replacement: "hidden"},
		{Pattern: `hidden`, Replacement: "[GONE]"},
	})
	rows := []map[string]interface{}{{"v": "secret"}}
	r.Rows(rows)
	if rows[0]["v"] != "[GONE]" {
		t.Errorf("v = %v, want [GONE]", rows[0]["v"])
	}
}

func TestInactiveRedactorIsNoop(t *testing.T) {
	r := NewRedactor(nil)
	if r.Active() {
		t.Error("empty redactor reports active")
	}
	rows := []map[string]interface{}{{"v": "secret"}}
	r.Rows(rows)
	if rows[0]["v"] != "secret" {
		t.Error("no-op redactor modified rows")
	}
}

func TestInvalidPatternPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewRedactor([]Rule{{Pattern: "(["}})
}
