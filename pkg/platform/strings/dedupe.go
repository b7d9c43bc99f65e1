// Package strings provides string list utilities shared by the transformer
// and the index.
package strings

import (
	"strings"
)

// DedupeFold trims every element, drops empty ones and removes
// case-insensitive duplicates. The first spelling of each value wins and
// order is preserved. It returns nil when nothing survives.
//
//	DedupeFold([]string{" VIP ", "vip", "", "Lead"})
//	// []string{"VIP", "Lead"}
func DedupeFold(values []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

// ContainsFold reports whether values holds target, ignoring case.
func ContainsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}
