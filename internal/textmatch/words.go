// Package textmatch holds the word-level matching rules shared by the
// relevance gate, the purchase history matcher and candidate scoring.
package textmatch

import (
	"strings"
	"unicode/utf8"
)

// MinWordLength is the shortest word considered significant.
const MinWordLength = 3

// SignificantWords lowercases s, splits it on whitespace and keeps the words
// of at least MinWordLength characters, in order.
func SignificantWords(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		// Length is in runes, not UTF-16 code units; they differ only past the BMP.
		if utf8.RuneCountInString(f) >= MinWordLength {
			words = append(words, f)
		}
	}
	return words
}

// ContainsAny reports whether any of words is a substring of the lowercased
// text. Words are expected to be lowercase already.
func ContainsAny(text string, words []string) bool {
	lower := strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// ContainsAll reports whether every one of words is a substring of the
// lowercased text. An empty word list never matches.
func ContainsAll(text string, words []string) bool {
	if len(words) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, w := range words {
		if !strings.Contains(lower, w) {
			return false
		}
	}
	return true
}

// IsRelevant is the relevance gate: productName is relevant to term when any
// significant word of term appears in it.
func IsRelevant(productName, term string) bool {
	return ContainsAny(productName, SignificantWords(term))
}

// OverlapsCategory reports whether any generic-name word (split on
// whitespace, '&' and ',') overlaps a product-name word in either direction.
func OverlapsCategory(productName, genericName string) bool {
	nameWords := strings.Fields(strings.ToLower(productName))
	gnWords := strings.FieldsFunc(strings.ToLower(genericName), func(r rune) bool {
		return r == '&' || r == ',' || r == ' ' || r == '\t' || r == '\n'
	})

	for _, gw := range gnWords {
		if utf8.RuneCountInString(gw) < MinWordLength {
			continue
		}
		for _, nw := range nameWords {
			if strings.Contains(nw, gw) || strings.Contains(gw, nw) {
				return true
			}
		}
	}
	return false
}
