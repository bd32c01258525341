package certstate

import "strings"

// DedupeList trims every entry, drops empties, and removes exact-match
// duplicates keeping the first occurrence. Matching is case-sensitive:
// "Lead" and "lead" are distinct entries.
func DedupeList(items ...[]string) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, list := range items {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// dedupeStrings applies the DedupeList rule to loosely-typed items, dropping
// non-strings. It also returns the duplicates it removed.
func dedupeStrings(items []any) (out, dupes []string) {
	out = []string{}
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			dupes = append(dupes, s)
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, dupes
}
