// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package spark

import (
	"sort"
	"strings"
)

// ShellQuote single-quotes a string for interpolation into a shell
// script, escaping embedded single quotes as '"'"'.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// envPrelude renders an export prelude for the given environment, one
// "export KEY='value'; " entry per key in sorted order so the script is
// deterministic.
func envPrelude(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		b.WriteString("export ")
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(ShellQuote(env[key]))
		b.WriteString("; ")
	}
	return b.String()
}
