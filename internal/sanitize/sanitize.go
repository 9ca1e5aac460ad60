// Package sanitize applies regex-based redaction to query result values
// before they leave the server.
package sanitize

import (
	"fmt"
	"regexp"
)

// Rule is a single pattern/replacement redaction rule.
type Rule struct {
	Pattern     string
	Replacement string
}

type compiledRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Sanitizer applies redaction rules to result row field values.
type Sanitizer struct {
	rules []compiledRule
}

// NewSanitizer creates a new Sanitizer. Panics on invalid regex patterns.
func NewSanitizer(rules []Rule) *Sanitizer {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			panic(fmt.Sprintf("sanitize: invalid regex pattern %q: %v", r.Pattern, err))
		}
		compiled[i] = compiledRule{pattern: re, replacement: r.Replacement}
	}
	return &Sanitizer{rules: compiled}
}

// HasRules returns true if any rules are configured.
func (s *Sanitizer) HasRules() bool {
	return len(s.rules) > 0
}

// SanitizeRows applies the rules to every text value in the result rows.
// SQLite values are flat scalars; only text is rewritten — integers,
// reals, and blobs pass through untouched.
func (s *Sanitizer) SanitizeRows(rows []map[string]interface{}) []map[string]interface{} {
	if len(s.rules) == 0 {
		return rows
	}
	for _, row := range rows {
		for k, v := range row {
			if text, ok := v.(string); ok {
				row[k] = s.sanitizeText(text)
			}
		}
	}
	return rows
}

func (s *Sanitizer) sanitizeText(text string) string {
	for _, rule := range s.rules {
		text = rule.pattern.ReplaceAllString(text, rule.replacement)
	}
	return text
}
