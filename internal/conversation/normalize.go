package conversation

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalizeText folds user input for keyword matching: trimmed, lower case,
// accents removed. "  Menú " becomes "menu".
func normalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	// transformers carry state, build one per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// keywordSet matches normalized text against a fixed set of keywords.
type keywordSet map[string]bool

func newKeywordSet(words ...string) keywordSet {
	set := make(keywordSet, len(words))
	for _, w := range words {
		if w = normalizeText(w); w != "" {
			set[w] = true
		}
	}
	return set
}

func (k keywordSet) match(text string) bool {
	return k[normalizeText(text)]
}
