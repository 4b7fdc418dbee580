// Package util provides common utility functions used across the plugin-oauth
// library. These utilities handle string manipulation, formatting, and other
// shared operations that don't fit into domain-specific packages.
package util

import "strings"

// SafeTruncate safely truncates a string to maxLen characters without panicking.
// Returns the original string if it's shorter than maxLen, otherwise returns
// the first maxLen characters. This prevents index out of bounds errors when
// logging sensitive data like tokens, where only a prefix should be shown.
//
// If maxLen is negative, it's treated as 0 and returns an empty string.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL normalizes a URL for comparison by removing trailing slashes.
// This is used for RFC 8707 resource identifier comparison, where URLs with
// and without trailing slashes should be considered equivalent.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}

// ScopeSet splits a space-delimited scope string into its individual scopes.
// Empty input yields a nil slice.
func ScopeSet(scope string) []string {
	return strings.Fields(scope)
}

// JoinScopes joins a scope set into the space-delimited wire form (RFC 6749).
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ContainsAll reports whether every element of want is present in have.
// This is the scope containment check used at every exchange boundary:
// an empty want is always contained, an empty have contains nothing but
// the empty set.
func ContainsAll(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, s := range have {
		set[s] = struct{}{}
	}
	for _, s := range want {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}
