package search

import (
	"strings"
	"unicode"
)

// Tokenize lower-cases text and splits it into word tokens.
//
// A token is a maximal run of letters, digits and combining marks. Every
// other rune separates tokens and is dropped, so apostrophes and hyphens
// split words: "don't" yields "don" and "t", "state-of-the-art" yields four
// tokens. Documents and queries go through the same function.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), isSeparator)
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r)
}
