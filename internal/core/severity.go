package core

import (
	"sort"
	"strings"
)

// SeverityClassifier maps a rule identifier to a severity class.
type SeverityClassifier interface {
	Classify(ruleID string) Severity
}

// DefaultSeverityPrefixes is used when no classification file is configured.
var DefaultSeverityPrefixes = map[string]Severity{
	"SAF-": SeveritySafety,
	"CRI-": SeverityCritical,
}

// PrefixClassifier classifies by the longest matching rule-id prefix.
type PrefixClassifier struct {
	prefixes []string
	classes  map[string]Severity
	fallback Severity
}

// NewPrefixClassifier builds a classifier. Prefixes are matched case-insensitively.
// An empty fallback means SeverityGeneral.
func NewPrefixClassifier(prefixes map[string]Severity, fallback Severity) *PrefixClassifier {
	if fallback == "" {
		fallback = SeverityGeneral
	}
	c := &PrefixClassifier{classes: make(map[string]Severity, len(prefixes)), fallback: fallback}
	for p, s := range prefixes {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		c.classes[p] = s
		c.prefixes = append(c.prefixes, p)
	}
	// Longest first so "SAF-X" beats "SAF-".
	sort.Slice(c.prefixes, func(i, j int) bool {
		if len(c.prefixes[i]) != len(c.prefixes[j]) {
			return len(c.prefixes[i]) > len(c.prefixes[j])
		}
		return c.prefixes[i] < c.prefixes[j]
	})
	return c
}

// Classify returns the severity for ruleID.
func (c *PrefixClassifier) Classify(ruleID string) Severity {
	id := strings.ToUpper(ruleID)
	for _, p := range c.prefixes {
		if strings.HasPrefix(id, p) {
			return c.classes[p]
		}
	}
	return c.fallback
}

// ParseSeverity validates a severity name.
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeveritySafety, SeverityCritical, SeverityGeneral:
		return sev, nil
	}
	return "", invalidInput("unknown severity %q", s)
}
