// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

package logparser

import "strings"

// PathFilter drops requests with no analytics value: static assets by
// extension, bot and scanner probes by path prefix. An empty filter
// excludes nothing.
type PathFilter struct {
	extensions []string
	prefixes   []string
}

// NewPathFilter builds a filter from configured rule lists. Rules are
// matched case-insensitively; they are lowercased here so Exclude only
// lowercases the path.
func NewPathFilter(extensions, prefixes []string) *PathFilter {
	return &PathFilter{
		extensions: lowerAll(extensions),
		prefixes:   lowerAll(prefixes),
	}
}

// Exclude reports whether path matches any exclusion rule.
func (f *PathFilter) Exclude(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range f.extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	for _, prefix := range f.prefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// DomainFromKey extracts the canonical site domain from an object key of
// the form {domain}/YYYY/MM/DD/{distribution}.{yyyy-mm-dd-hh}.{id}.gz.
// Returns empty when the key has no leading segment.
func DomainFromKey(key string) string {
	domain, _, _ := strings.Cut(key, "/")
	return domain
}
