// Package idset deduplicates the separator-joined identifier lists kept per
// API key.
package idset

import "strings"

// Separators used by the key records.
const (
	StopSep = ","
	TripSep = "|"
)

// Unique returns ids with duplicates and empty values removed, keeping the
// first occurrence of each.
func Unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// SplitUnique splits list on sep and returns the unique identifiers.
func SplitUnique(list, sep string) []string {
	if list == "" {
		return nil
	}
	return Unique(strings.Split(list, sep))
}

// Append joins id onto list with sep. Duplicates are kept; they are removed
// by SplitUnique before each poll.
func Append(list, sep, id string) string {
	if list == "" {
		return id
	}
	return list + sep + id
}

// Remove drops a single occurrence of id from list.
func Remove(list, sep, id string) string {
	if list == "" {
		return ""
	}
	parts := strings.Split(list, sep)
	for i, p := range parts {
		if p == id {
			parts = append(parts[:i], parts[i+1:]...)
			break
		}
	}
	return strings.Join(parts, sep)
}

// Contains reports whether id occurs in list.
func Contains(list, sep, id string) bool {
	for _, p := range strings.Split(list, sep) {
		if p == id {
			return true
		}
	}
	return false
}
