// Package query answers stats, page and jump-to-time requests against a
// committed cache directory.
package query

import (
	"sort"
	"strings"

	"github.com/mitchellh/hashstructure/v2"

	"milktea/internal/model"
)

// normalizedFilters is the canonical shape fed to the fingerprint hash.
// Cosmetic differences that cannot change the match set (level order and
// case, surrounding whitespace in tag alternatives, an explicit "plain"
// text mode) hash identically.
type normalizedFilters struct {
	TsFrom        string
	TsTo          string
	Levels        []string
	Tag           string
	Pid           int32
	HasPid        bool
	Tid           int32
	HasTid        bool
	Text          string
	NotText       string
	TextMode      string
	CaseSensitive bool
}

// FilterHash computes the stable 64-bit fingerprint that pins cursors to the
// filter set they were issued under.
func FilterHash(f model.LogFilters) uint64 {
	n := normalizedFilters{
		TsFrom:        strings.TrimSpace(f.TsFrom),
		TsTo:          strings.TrimSpace(f.TsTo),
		Tag:           normalizeAlternatives(f.Tag),
		Text:          f.Text,
		NotText:       f.NotText,
		TextMode:      f.TextMode,
		CaseSensitive: f.CaseSensitive,
	}
	if n.TextMode == "" {
		n.TextMode = model.TextModePlain
	}
	for _, l := range f.Levels {
		l = strings.ToUpper(strings.TrimSpace(l))
		if l != "" {
			n.Levels = append(n.Levels, l)
		}
	}
	sort.Strings(n.Levels)
	if f.Pid != nil {
		n.Pid, n.HasPid = *f.Pid, true
	}
	if f.Tid != nil {
		n.Tid, n.HasTid = *f.Tid, true
	}

	h, err := hashstructure.Hash(n, hashstructure.FormatV2, nil)
	if err != nil {
		return 0
	}
	return h
}

// normalizeAlternatives canonicalises an "a|b|c" OR set: parts trimmed,
// empties dropped.
func normalizeAlternatives(s string) string {
	if s == "" {
		return ""
	}
	var parts []string
	for _, p := range strings.Split(s, "|") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "|")
}

// splitAlternatives returns the trimmed, non-empty OR alternatives of s.
func splitAlternatives(s string) []string {
	var parts []string
	for _, p := range strings.Split(s, "|") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
