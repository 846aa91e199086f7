// Package cli provides shared utilities for CLI commands.
package cli

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Matcher selects values by glob patterns such as "credentials.*".
// An empty Matcher matches everything.
type Matcher struct {
	patterns []string
}

// NewMatcher validates the patterns and returns a Matcher for them.
// Empty patterns are ignored.
func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern '%s': %w", p, err)
		}
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

// Match reports whether value matches any pattern. Patterns without glob
// characters match exactly.
func (m *Matcher) Match(value string) bool {
	if m == nil || len(m.patterns) == 0 {
		return true
	}
	for _, p := range m.patterns {
		if !strings.ContainsAny(p, "*?[") {
			if p == value {
				return true
			}
			continue
		}
		// Patterns were validated in NewMatcher.
		if ok, _ := filepath.Match(p, value); ok {
			return true
		}
	}
	return false
}

// Filter returns the elements of items whose key matches, preserving order.
func Filter[T any](m *Matcher, items []T, key func(T) string) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if m.Match(key(it)) {
			out = append(out, it)
		}
	}
	return out
}

// MapKeys extracts keys from a map and returns them sorted.
func MapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
