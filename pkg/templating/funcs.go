package templating

import (
	"reflect"
	"slices"
	"strings"
)

var elispReplacer = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// elispString returns s as an Emacs Lisp string literal, quotes included.
func elispString(s string) string {
	return `"` + elispReplacer.Replace(s) + `"`
}

// contains reports whether list holds s.
func contains(list []string, s string) bool {
	return slices.Contains(list, s)
}

// join joins list with sep.
func join(sep string, list []string) string {
	return strings.Join(list, sep)
}

// defaultString returns val, or def when val is empty.
func defaultString(def, val string) string {
	if val == "" {
		return def
	}
	return val
}

// isSet returns true if a value is not its zero value.
func isSet(val any) bool {
	v := reflect.ValueOf(val)
	if !v.IsValid() {
		return false
	}
	return !v.IsZero()
}

func funcMap() map[string]any {
	return map[string]any{
		"elispString": elispString,
		"contains":    contains,
		"join":        join,
		"default":     defaultString,
		"isSet":       isSet,
	}
}
