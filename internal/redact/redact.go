// Package redact applies regex-based redaction to result row values before
// they leave the server, so secrets and PII in table data never reach the
// agent's context window. Rules run in order over every string value,
// recursing into JSONB objects and arrays.
package redact

import (
	"fmt"
	"regexp"
)

// Rule replaces matches of Pattern with Replacement in string field values.
type Rule struct {
	Pattern     string
	Replacement string
}

type compiledRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Redactor scrubs result rows in place.
type Redactor struct {
	rules []compiledRule
}

// NewRedactor compiles the rules. Panics on invalid regex patterns.
func NewRedactor(rules []Rule) *Redactor {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			panic(fmt.Sprintf("redact: invalid regex pattern %q: %v", r.Pattern, err))
		}
		compiled[i] = compiledRule{pattern: re, replacement: r.Replacement}
	}
	return &Redactor{rules: compiled}
}

// Active reports whether any rules are configured.
func (r *Redactor) Active() bool {
	return len(r.rules) > 0
}

// Rows scrubs every field value in rows, mutating in place, and returns
// rows for chaining.
func (r *Redactor) Rows(rows []map[string]interface{}) []map[string]interface{} {
	if !r.Active() {
		return rows
	}
	for _, row := range rows {
		for k, v := range row {
			row[k] = r.value(v)
		}
	}
	return rows
}

func (r *Redactor) value(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		for _, rule := range r.rules {
			val = rule.pattern.ReplaceAllString(val, rule.replacement)
		}
		return val
	case map[string]interface{}:
		for k, nested := range val {
			val[k] = r.value(nested)
		}
		return val
	case []interface{}:
		for i, nested := range val {
			val[i] = r.value(nested)
		}
		return val
	default:
		// Numbers, bools, nil, time values: nothing to scrub.
		return v
	}
}
