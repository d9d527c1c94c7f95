// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package plex

import (
	"strings"

	"golang.org/x/text/cases"
)

// CleanQuery trims the query and collapses internal whitespace.
func CleanQuery(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

// NormalizeQuery returns the cache key for q: cleaned and Unicode case-folded.
// Queries that differ only in case or spacing share a key.
func NormalizeQuery(q string) string {
	// cases.Caser is stateful, so one per call.
	return cases.Fold().String(CleanQuery(q))
}
