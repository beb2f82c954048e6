// Package guidance turns failures into actionable recovery prompts for the
// calling agent. A rejection without a next step just stalls an agent; a
// rejection that names the prerequisite call usually self-corrects on the
// next turn. Built-in rules cover the arbitration layer's own failures;
// operators add domain rules (e.g. "that table is deprecated, query X
// instead") via configuration.
package guidance

import (
	"fmt"
	"regexp"
)

// Rule maps an error-message regex to a recovery prompt.
type Rule struct {
	Pattern string
	Message string
}

// builtinRules steer agents through the arbitration layer's failure modes.
// They are evaluated after configured rules so operators can lead with
// their own wording.
var builtinRules = []Rule{
	{
		Pattern: `rate limit exceeded`,
		Message: "You are sending requests too quickly. Wait for the indicated retry period before calling any tool again.",
	},
	{
		Pattern: `not yet inspected`,
		Message: "Call describe_table for each listed table, then retry this exact query. This is a prerequisite step, not a permanent denial.",
	},
	{
		Pattern: `wait queue is full|acquire timed out`,
		Message: "The database connection pool is saturated. Retry shortly; prefer fewer, more selective queries.",
	},
	{
		Pattern: `does not exist`,
		Message: "The relation or column may be misspelled. Call list_tables to see what is available.",
	},
}

type compiledRule struct {
	pattern *regexp.Regexp
	message string
}

// Matcher annotates error messages with recovery prompts.
type Matcher struct {
	rules []compiledRule
}

// NewMatcher compiles configured rules ahead of the built-ins. Panics on
// invalid regex patterns.
func NewMatcher(rules []Rule) *Matcher {
	all := make([]compiledRule, 0, len(rules)+len(builtinRules))
	for _, r := range append(append([]Rule{}, rules...), builtinRules...) {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			panic(fmt.Sprintf("guidance: invalid regex pattern %q: %v", r.Pattern, err))
		}
		all = append(all, compiledRule{pattern: re, message: r.Message})
	}
	return &Matcher{rules: all}
}

// Annotate returns errMsg with the first matching rule's prompt appended,
// or errMsg unchanged when nothing matches.
func (m *Matcher) Annotate(errMsg string) string {
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			return errMsg + "\n\n" + rule.message
		}
	}
	return errMsg
}

// MatchedPattern returns the pattern that would annotate errMsg, for
// logging. Empty when nothing matches.
func (m *Matcher) MatchedPattern(errMsg string) string {
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			return rule.pattern.String()
		}
	}
	return ""
}
