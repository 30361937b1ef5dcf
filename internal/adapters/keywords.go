package adapters

import "strings"

// stopWords is the fixed English stop-word list recovered verbatim from
// original_source/scripts/smaht/adapters/cp_adapter.py::_STOP_WORDS
// (spec §4.3 step 1, SPEC_FULL supplement 2).
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true,
	"would": true, "could": true, "should": true, "can": true,
	"may": true, "might": true, "must": true, "i": true, "you": true,
	"we": true, "they": true, "me": true, "my": true, "your": true,
	"this": true, "that": true, "these": true, "those": true, "what": true,
	"which": true, "who": true, "how": true, "why": true,
	"when": true, "where": true, "and": true, "or": true, "but": true,
	"if": true, "for": true, "of": true, "to": true, "from": true,
	"in": true, "on": true, "at": true, "by": true, "with": true,
	"about": true, "not": true, "so": true, "just": true, "also": true,
	"need": true, "want": true, "let": true, "get": true, "make": true,
	"test": true, "check": true, "fix": true, "work": true,
}

// extractKeywords drops stop words and tokens of length <= 2, keeps the
// first five survivors, and joins them with sep (spec §4.3 step 1: a
// single string for plain search, "|"-separated for OR-matching backends).
func extractKeywords(prompt, sep string) string {
	words := strings.Fields(strings.ToLower(prompt))
	var kept []string
	for _, w := range words {
		if stopWords[w] || len(w) <= 2 {
			continue
		}
		kept = append(kept, w)
		if len(kept) == 5 {
			break
		}
	}
	return strings.Join(kept, sep)
}
