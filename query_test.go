package pgscope

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

func TestConvertValue(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	uuid := [16]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0}

	tests := []struct {
		name string
		in   interface{}
		want interface{}
	}{
		{"nil", nil, nil},
		{"string", "hello", "hello"},
		{"int64", int64(42), int64(42)},
		{"bool", true, true},
		{"time", ts, "2026-03-14T09:26:53Z"},
		{"float", 3.5, 3.5},
		{"nan", math.NaN(), "NaN"},
		{"positive inf", math.Inf(1), "Infinity"},
		{"negative inf", math.Inf(-1), "-Infinity"},
		{"float32 nan", float32(math.NaN()), "NaN"},
		{"uuid", uuid, "12345678-9abc-def0-1234-56789abcdef0"},
		{"bytea", []byte{0x01, 0x02}, "AQI="},
		{"null numeric", pgtype.Numeric{Valid: false}, nil},
		{"nan numeric", pgtype.Numeric{Valid: true, NaN: true}, "NaN"},
		{"time of day", pgtype.Time{Valid: true, Microseconds: 3_600_000_000 + 60_000_000 + 1_000_000}, "01:01:01"},
		{"null time of day", pgtype.Time{Valid: false}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := convertValue(tt.in); got != tt.want {
				t.Errorf("convertValue(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestConvertValueRecursesIntoJSON(t *testing.T) {
	in := map[string]interface{}{
		"nested": map[string]interface{}{"nan": math.NaN()},
		"list":   []interface{}{math.Inf(1), "x"},
	}
	got := convertValue(in).(map[string]interface{})
	if got["nested"].(map[string]interface{})["nan"] != "NaN" {
		t.Error("nested NaN not converted")
	}
	if got["list"].([]interface{})[0] != "Infinity" {
		t.Error("list Infinity not converted")
	}
}

func TestTruncateIfNeeded(t *testing.T) {
	p := newTestEngine(t, func(c *Config) { c.Query.MaxResultLength = 50 })

	out := &QueryOutput{
		Rows: []map[string]interface{}{
			{"data": strings.Repeat("x", 200)},
		},
		RowCount: 1,
	}
	p.truncateIfNeeded(out)
	if out.Rows != nil {
		t.Error("oversized rows should be dropped")
	}
	if !strings.Contains(out.Error, "[truncated]") {
		t.Errorf("expected truncation notice, got: %s", out.Error)
	}

	small := &QueryOutput{Rows: []map[string]interface{}{{"a": 1}}, RowCount: 1}
	p.truncateIfNeeded(small)
	if small.Error != "" || small.Rows == nil {
		t.Error("small result should pass through untouched")
	}
}

func TestTruncateIfNeededKeepsUnmarshalableRows(t *testing.T) {
	p := newTestEngine(t, func(c *Config) { c.Query.MaxResultLength = 50 })

	out := &QueryOutput{
		Rows: []map[string]interface{}{
			{"ch": make(chan int)},
		},
		RowCount: 1,
	}
	p.truncateIfNeeded(out)
	if out.Rows == nil {
		t.Error("rows dropped when result size could not be measured")
	}
	if out.Error != "" {
		t.Errorf("unexpected error set: %s", out.Error)
	}
}

func TestTruncateForLog(t *testing.T) {
	if got := truncateForLog("short", 100); got != "short" {
		t.Errorf("truncateForLog = %q, want unchanged", got)
	}
	long := strings.Repeat("a", 300)
	got := truncateForLog(long, 200)
	if len(got) > 200+len("...[truncated]") {
		t.Errorf("truncated string too long: %d", len(got))
	}
	if !strings.HasSuffix(got, "...[truncated]") {
		t.Errorf("expected truncation suffix, got: %q", got)
	}
	// Never split a multi-byte rune.
	multibyte := strings.Repeat("é", 200)
	for _, r := range truncateForLog(multibyte, 101) {
		if r == '�' {
			t.Fatal("truncation split a multi-byte rune")
		}
	}
}

func TestHandleErrorAppendsGuidance(t *testing.T) {
	p := newTestEngine(t, func(c *Config) {
		c.Guidance = []GuidanceRule{
			{Pattern: "deprecated_table", Message: "Query the replacement_table instead."},
		}
	})
	out := p.handleError(errFor("relation deprecated_table is retired"))
	if !strings.Contains(out.Error, "replacement_table") {
		t.Errorf("configured guidance not applied: %s", out.Error)
	}
}

type stringError string

func (e stringError) Error() string { return string(e) }

func errFor(msg string) error { return stringError(msg) }
