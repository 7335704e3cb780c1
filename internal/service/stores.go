package service

import "strings"

// ParseStores splits a comma-delimited store list, trimming each name and
// dropping blank segments. Order is preserved. The result is never nil.
func ParseStores(s string) []string {
	out := []string{}
	for part := range strings.SplitSeq(s, ",") {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}
