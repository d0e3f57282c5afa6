package search

import (
	"strings"
	"unicode"
)

// Highlight delimiters wrapped around every keyword occurrence.
const (
	HighlightOpen  = "<mark>"
	HighlightClose = "</mark>"
)

const (
	snippetLength = 120
	snippetLead   = 30
	ellipsis      = "…"
)

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '\n':
		return true
	}
	return false
}

// sentences splits text after sentence-ending punctuation and newlines,
// dropping blank pieces.
func sentences(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}
	for _, r := range text {
		if r != '\n' {
			b.WriteRune(r)
		}
		if isSentenceEnd(r) {
			flush()
		}
	}
	flush()
	return out
}

// Snippet picks the sentence of text containing the most distinct keywords,
// falling back to the first sentence, and windows it around the first keyword
// when it is longer than the snippet budget.
func Snippet(text string, keywords []string) string {
	ss := sentences(text)
	if len(ss) == 0 {
		return ""
	}

	best, bestCount := ss[0], 0
	for _, s := range ss {
		ls := strings.ToLower(s)
		n := 0
		for _, k := range keywords {
			if strings.Contains(ls, k) {
				n++
			}
		}
		if n > bestCount {
			best, bestCount = s, n
		}
	}

	runes := []rune(best)
	if len(runes) <= snippetLength {
		return best
	}

	pos := -1
	lower := lowerRunes(runes)
	for _, k := range keywords {
		if i := indexRunes(lower, lowerRunes([]rune(k)), 0); i >= 0 && (pos < 0 || i < pos) {
			pos = i
		}
	}

	start := 0
	if pos > snippetLead {
		start = pos - snippetLead
	}
	end := min(start+snippetLength, len(runes))
	if end-start < snippetLength {
		start = max(0, end-snippetLength)
	}

	out := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		out = ellipsis + out
	}
	if end < len(runes) {
		out += ellipsis
	}
	return out
}

// Highlight wraps each case-insensitive keyword occurrence in s with the
// highlight delimiters, preserving the original casing. Overlapping or
// adjacent occurrences share one delimiter pair.
func Highlight(s string, keywords []string) string {
	if s == "" || len(keywords) == 0 {
		return s
	}
	runes := []rune(s)
	lower := lowerRunes(runes)
	marked := make([]bool, len(runes))

	for _, k := range keywords {
		kw := lowerRunes([]rune(k))
		if len(kw) == 0 {
			continue
		}
		for i := indexRunes(lower, kw, 0); i >= 0; i = indexRunes(lower, kw, i+1) {
			for j := i; j < i+len(kw); j++ {
				marked[j] = true
			}
		}
	}

	var b strings.Builder
	open := false
	for i, r := range runes {
		if marked[i] && !open {
			b.WriteString(HighlightOpen)
			open = true
		} else if !marked[i] && open {
			b.WriteString(HighlightClose)
			open = false
		}
		b.WriteRune(r)
	}
	if open {
		b.WriteString(HighlightClose)
	}
	return b.String()
}

// lowerRunes lowercases rune by rune so indices stay aligned with the input.
func lowerRunes(rs []rune) []rune {
	out := make([]rune, len(rs))
	for i, r := range rs {
		out[i] = unicode.ToLower(r)
	}
	return out
}

func indexRunes(haystack, needle []rune, from int) int {
	if len(needle) == 0 {
		return -1
	}
outer:
	for i := from; i+len(needle) <= len(haystack); i++ {
		for j := range needle {
			if haystack[i+j] != needle[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}
