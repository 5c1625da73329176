package util

import (
	"slices"
	"strings"
)

// SafeTruncate truncates s to maxLen bytes without panicking.
// A negative maxLen returns an empty string.
//
//	SafeTruncate("very-long-token-abc123", 8) // "very-lon"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// ParseScopes splits a space-delimited scope string into distinct values,
// preserving first-seen order. Empty input yields nil.
func ParseScopes(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}
	return Distinct(fields)
}

// JoinScopes is the inverse of ParseScopes
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// Distinct returns values with duplicates removed, preserving order
func Distinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Intersect returns the values of a that are also in b, in the order of a
func Intersect(a, b []string) []string {
	var out []string
	for _, v := range a {
		if slices.Contains(b, v) {
			out = append(out, v)
		}
	}
	return out
}

// ContainsAll reports whether every value of subset is in set
func ContainsAll(set, subset []string) bool {
	for _, v := range subset {
		if !slices.Contains(set, v) {
			return false
		}
	}
	return true
}
