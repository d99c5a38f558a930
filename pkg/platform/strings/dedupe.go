// Package strings provides string slice helpers.
package strings

import (
	"strings"
)

// DedupeFold removes case-insensitive duplicates from values, keeping the
// first spelling seen. Order is preserved and elements are not rewritten.
//
// Example:
//
//	DedupeFold([]string{"Ann@Example.com", "bob@example.com", "ann@example.com"})
//	// Returns: []string{"Ann@Example.com", "bob@example.com"}
func DedupeFold(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, v)
	}
	return result
}
