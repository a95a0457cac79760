package fpoint

import (
	"regexp"
	"strings"
)

var colonParam = regexp.MustCompile(`(^|/):([A-Za-z_][A-Za-z0-9_]*)(\(([^)]*)\))?`)

// MuxPath rewrites colon style parameters (/widgets/:id) into gorilla
// mux variables (/widgets/{id}).  A parenthesized pattern after the name
// becomes the variable's pattern.  Paths that already use braces are
// returned unchanged.
func MuxPath(path string) string {
	if !strings.Contains(path, ":") {
		return path
	}
	return colonParam.ReplaceAllStringFunc(path, func(m string) string {
		sub := colonParam.FindStringSubmatch(m)
		if sub[4] != "" {
			return sub[1] + "{" + sub[2] + ":" + sub[4] + "}"
		}
		return sub[1] + "{" + sub[2] + "}"
	})
}
