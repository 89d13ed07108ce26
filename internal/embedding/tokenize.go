package embedding

import (
	"strings"
	"unicode"
)

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "from": true,
	"as": true, "is": true, "was": true, "are": true, "were": true,
	"be": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true,
	"would": true, "could": true, "should": true, "may": true, "might": true,
	"can": true, "this": true, "that": true, "these": true, "those": true,
	"my": true, "your": true, "our": true, "their": true, "it": true,
	"i": true, "me": true, "you": true, "we": true, "they": true,
}

// tokenize lowercases text, splits on whitespace/punctuation, drops stop
// words and single characters, and stems each token.
func tokenize(text string) []string {
	text = strings.ToLower(text)

	words := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})

	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < 2 || stopWords[w] {
			continue
		}
		out = append(out, stem(w))
	}
	return out
}

// stem applies a small suffix stripper so that inflected forms collapse to
// a shared token ("compression"/"compress", "photos"/"photo"). It is far
// from a full Porter stemmer; it only needs to be consistent between index
// and query time.
func stem(w string) string {
	switch {
	case strings.HasSuffix(w, "ing") && len(w) >= 6:
		w = w[:len(w)-3]
	case strings.HasSuffix(w, "ion") && len(w) >= 7:
		w = w[:len(w)-3]
	case strings.HasSuffix(w, "ies") && len(w) >= 6:
		w = w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "es") && len(w) >= 5 && !strings.HasSuffix(w, "sses"):
		w = w[:len(w)-2]
	case strings.HasSuffix(w, "s") && len(w) >= 4 && !strings.HasSuffix(w, "ss"):
		w = w[:len(w)-1]
	}
	// Collapse trailing silent e ("image"/"images" both become "imag").
	if strings.HasSuffix(w, "e") && len(w) >= 5 {
		w = w[:len(w)-1]
	}
	return w
}
