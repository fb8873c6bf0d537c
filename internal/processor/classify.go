package processor

import (
	"regexp"
	"strings"
)

// nonActionable lists substrings that mark automated or placeholder addresses.
var nonActionable = []string{
	"noreply",
	"no-reply",
	"donotreply",
	"do-not-reply",
	"localhost",
	"example.com",
	"[bot]",
}

// reservedTLDs are domain suffixes that can never receive mail.
var reservedTLDs = []string{".invalid"}

var identityShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Classifier decides whether an identity is non-actionable. It holds no
// mutable state, so the same input always yields the same answer.
type Classifier struct {
	patterns []string
}

// NewClassifier returns a classifier using the built-in patterns plus extra.
func NewClassifier(extra ...string) *Classifier {
	patterns := append([]string(nil), nonActionable...)
	for _, p := range extra {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			patterns = append(patterns, p)
		}
	}
	return &Classifier{patterns: patterns}
}

// Classify reports whether identity should be ignored.
func (c *Classifier) Classify(identity string) bool {
	id := Normalize(identity)
	for _, p := range c.patterns {
		if strings.Contains(id, p) {
			return true
		}
	}
	if !identityShape.MatchString(id) {
		return true
	}
	domain := id[strings.LastIndexByte(id, '@')+1:]
	for _, tld := range reservedTLDs {
		if strings.HasSuffix(domain, tld) {
			return true
		}
	}
	return false
}
