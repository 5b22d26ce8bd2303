// Package segment turns a stream of cumulative recognizer hypotheses into
// committed subtitle chunks.
package segment

import (
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
)

// DefaultChunkBudget is the maximum length of one committed chunk, counted
// in user-perceived characters.
const DefaultChunkBudget = 120

// Observe derives the live (not yet committed) text from the recognizer's
// cumulative text and the already-consumed prefix. It returns the live text
// and the boundary to keep; a boundary that no longer prefixes current is
// dropped.
func Observe(current, consumed string) (live, boundary string) {
	if consumed == "" {
		return current, ""
	}
	if strings.HasPrefix(current, consumed) {
		return strings.TrimLeftFunc(current[len(consumed):], unicode.IsSpace), consumed
	}
	return current, ""
}

// Sentences splits text into sentence units using Unicode sentence
// boundaries. Units keep their trailing whitespace so that joining them
// reproduces text.
func Sentences(text string) []string {
	var out []string
	state := -1
	rest := text
	for len(rest) > 0 {
		var sentence string
		sentence, rest, state = uniseg.FirstSentenceInString(rest, state)
		out = append(out, sentence)
	}
	return out
}

// Length counts grapheme clusters, which is what a reader sees as characters.
func Length(s string) int {
	return uniseg.GraphemeClusterCount(s)
}

// Chunk splits text into sentence units and repacks any unit longer than
// budget at word boundaries. A single word longer than budget is kept whole.
// Whitespace-only input yields no chunks.
func Chunk(text string, budget int) []string {
	if budget <= 0 {
		budget = DefaultChunkBudget
	}
	var sentences []string
	for _, s := range Sentences(text) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		if t := strings.TrimSpace(text); t != "" {
			sentences = []string{t}
		}
	}
	var chunks []string
	for _, sentence := range sentences {
		if Length(sentence) <= budget {
			chunks = append(chunks, sentence)
			continue
		}
		current := ""
		for _, word := range strings.Fields(sentence) {
			candidate := word
			if current != "" {
				candidate = current + " " + word
			}
			if Length(candidate) > budget && current != "" {
				chunks = append(chunks, current)
				current = word
				continue
			}
			current = candidate
		}
		if current != "" {
			chunks = append(chunks, current)
		}
	}
	return chunks
}

// splitComplete separates the complete sentences of text from the trailing
// in-progress one. ok is false when text holds fewer than two sentences.
func splitComplete(text string) (complete, remaining string, ok bool) {
	units := Sentences(text)
	if len(units) < 2 {
		return "", text, false
	}
	last := units[len(units)-1]
	complete = text[:len(text)-len(last)]
	return complete, strings.TrimSpace(last), true
}
