// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package keyword

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kljensen/snowball/english"
)

// stopWords are dropped at analysis time. Positions are assigned after removal,
// so "terms of service" matches the phrase "terms service".
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "or": true, "were": true, "been": true, "its": true,
}

// Analyzer turns text into index tokens. The same analyzer must be used for
// documents and queries of a collection.
type Analyzer struct {
	stemming bool
}

// NewAnalyzer creates an analyzer. With stemming enabled tokens are reduced with
// the Snowball English stemmer.
func NewAnalyzer(stemming bool) *Analyzer {
	return &Analyzer{stemming: stemming}
}

// Stemming reports whether the analyzer stems tokens.
func (a *Analyzer) Stemming() bool {
	return a.stemming
}

// Analyze lowercases text, splits it on anything that is not a letter or digit,
// drops stop words and single-character tokens, then stems what is left.
func (a *Analyzer) Analyze(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), isSeparator)
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		if token, ok := a.token(word); ok {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

func (a *Analyzer) token(word string) (string, bool) {
	if stopWords[word] || utf8.RuneCountInString(word) < 2 {
		return "", false
	}
	if a.stemming {
		word = english.Stem(word, false)
	}
	return word, word != ""
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
