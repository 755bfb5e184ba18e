package search

import (
	"strings"
	"unicode"
)

// SegmentQuery splits a query into search terms for lexical recall.
// Latin and digit runs become lowercased word tokens; CJK runs are split
// into overlapping bigrams, matching the bigram analysis applied at
// index time. A single CJK character yields itself.
func SegmentQuery(query string) []string {
	var terms []string
	var word []rune
	var cjkRun []rune

	flushWord := func() {
		if len(word) > 0 {
			terms = append(terms, strings.ToLower(string(word)))
			word = word[:0]
		}
	}
	flushCJK := func() {
		switch {
		case len(cjkRun) == 1:
			terms = append(terms, string(cjkRun))
		case len(cjkRun) > 1:
			for i := 0; i+1 < len(cjkRun); i++ {
				terms = append(terms, string(cjkRun[i:i+2]))
			}
		}
		cjkRun = cjkRun[:0]
	}

	for _, r := range query {
		switch {
		case isCJK(r):
			flushWord()
			cjkRun = append(cjkRun, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			word = append(word, r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()
	return terms
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}
