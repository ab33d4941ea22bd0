package domain

import "strings"

// NormalizeQuery returns the form used to compare search queries and entity
// names: lowercased, with every run of Unicode whitespace collapsed to one
// space and no leading or trailing space.
func NormalizeQuery(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
