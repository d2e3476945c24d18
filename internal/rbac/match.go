package rbac

import "strings"

// Matches reports whether the stored pattern grants or denies the
// requested code. Exact string equality always matches. Otherwise the
// pattern must itself have exactly 3 segments, contain at least one
// wildcard, and every non-wildcard segment must equal the requested
// segment. A pattern with a different segment count never matches,
// wildcards or not.
func Matches(requested Code, pattern string) bool {
	if requested.String() == pattern {
		return true
	}
	parts := strings.Split(pattern, ".")
	if len(parts) != 3 {
		return false
	}
	if parts[0] != Wildcard && parts[1] != Wildcard && parts[2] != Wildcard {
		return false
	}
	want := [3]string{requested.Module, requested.Resource, requested.Action}
	for i, p := range parts {
		if p != Wildcard && p != want[i] {
			return false
		}
	}
	return true
}
