// Package parser rewrites legacy link markers and extracts {{keyword}} markers
// from note text.
package parser

import (
	"regexp"
	"sort"
	"strings"
)

var (
	// markerRe matches either a legacy [[x]] link or a {{x}} keyword marker in
	// a single pass so one rewrite cannot feed the other.
	markerRe  = regexp.MustCompile(`\[\[([^\[\]]*)\]\]|\{\{([^{}]*)\}\}`)
	keywordRe = regexp.MustCompile(`\{\{([^{}]*)\}\}`)
	schemeRe  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]*://`)
)

// IsURL reports whether s looks like a literal link target rather than a keyword.
func IsURL(s string) bool {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	return schemeRe.MatchString(s) ||
		strings.HasPrefix(lower, "www.") ||
		strings.HasPrefix(lower, "mailto:")
}

// Normalize rewrites [[x]] to {{x}} unless x is a URL, and {{x}} back to [[x]]
// when x is a URL. A body holding the other marker's delimiters is left as is
// so a rewrite never exposes a new marker. Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string) string {
	for range maxNormalizePasses {
		next := normalizeOnce(text)
		if next == text {
			break
		}
		text = next
	}
	return text
}

const maxNormalizePasses = 4

func normalizeOnce(text string) string {
	return markerRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := markerRe.FindStringSubmatch(m)
		if strings.HasPrefix(m, "[[") {
			inner := sub[1]
			if strings.TrimSpace(inner) == "" || IsURL(inner) || strings.ContainsAny(inner, "{}") {
				return m
			}
			return "{{" + inner + "}}"
		}
		inner := sub[2]
		if IsURL(inner) && !strings.ContainsAny(inner, "[]") {
			return "[[" + inner + "]]"
		}
		return m
	})
}

// Extract returns the sorted, de-duplicated keywords marked with {{keyword}}.
// An alias suffix ({{keyword|label}}) is dropped. Text without markers yields
// an empty, non-nil slice.
func Extract(text string) []string {
	matches := keywordRe.FindAllStringSubmatch(text, -1)
	seen := make(map[string]struct{}, len(matches))
	out := []string{}
	for _, m := range matches {
		kw := m[1]
		if i := strings.Index(kw, "|"); i >= 0 {
			kw = kw[:i]
		}
		kw = strings.TrimSpace(kw)
		if kw == "" || IsURL(kw) {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

// Marker renders keyword as a {{keyword}} marker.
func Marker(keyword string) string {
	return "{{" + keyword + "}}"
}

// HasMarker reports whether text already carries a marker for keyword.
func HasMarker(text, keyword string) bool {
	for _, kw := range Extract(text) {
		if kw == keyword {
			return true
		}
	}
	return false
}
