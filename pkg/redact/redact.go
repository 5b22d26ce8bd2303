// Package redact scrubs personal data from transcript text before it reaches
// log lines.
package redact

import (
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/rivo/uniseg"
)

// DefaultClip is the number of user-perceived characters of transcript text
// kept in a log attribute.
const DefaultClip = 120

var enabled atomic.Bool

type rule struct {
	re   *regexp.Regexp
	mask string
}

// Cards run before phones; both allow the spaces and dashes recognizers
// put between digit groups.
var rules = []rule{
	{regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b\d{4}(?:[ \-]?\d{4}){3}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?\b\d[\d\s\-]{7,}\d\b`), "[REDACTED_PHONE]"},
}

func SetEnabled(v bool) { enabled.Store(v) }

func Enabled() bool { return enabled.Load() }

// Text masks emails, card-like digit runs and phone numbers when redaction
// is enabled.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := in
	for _, r := range rules {
		out = r.re.ReplaceAllString(out, r.mask)
	}
	return out
}

// Clip shortens s to at most n grapheme clusters, marking the cut with an
// ellipsis. Combined emoji and Hangul jamo sequences are never split.
func Clip(s string, n int) string {
	if n <= 0 || uniseg.GraphemeClusterCount(s) <= n {
		return s
	}
	g := uniseg.NewGraphemes(s)
	end := 0
	for i := 0; i < n && g.Next(); i++ {
		_, end = g.Positions()
	}
	return s[:end] + "…"
}

// Transcript prepares recognized or translated text for a log attribute.
func Transcript(s string) string {
	return Clip(Text(s), DefaultClip)
}
