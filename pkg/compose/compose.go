// Package compose turns option selections into the text blocks of a generated
// Emacs configuration.
//
// Every function in this package is total: unknown keys, duplicates and empty
// selections are all valid input and never produce an error.
package compose

import (
	"strings"

	"github.com/CTAG07/ecg/pkg/registry"
)

// Source is the read-only view of the option registry used by this package.
type Source interface {
	Lookup(group registry.Group, key string) (registry.Fragment, bool)
	Entry(group registry.Group, key string) (registry.Entry, bool)
}

// Compose concatenates the fragments of every known key in selection, in
// selection order. Unknown keys are skipped and duplicates are repeated.
func Compose(src Source, group registry.Group, selection []string) string {
	var sb strings.Builder
	for _, key := range selection {
		if frag, ok := src.Lookup(group, key); ok {
			sb.WriteString(string(frag))
		}
	}
	return sb.String()
}

// Matched returns the keys of selection that are known to group, keeping
// order and duplicates.
func Matched(src Source, group registry.Group, selection []string) []string {
	matched := []string{}
	for _, key := range selection {
		if _, ok := src.Lookup(group, key); ok {
			matched = append(matched, key)
		}
	}
	return matched
}
