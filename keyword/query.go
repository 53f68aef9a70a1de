package keyword

import (
	"strings"
	"unicode"
)

type occurrence int

const (
	should occurrence = iota
	must
	mustNot
)

// clause is one term or phrase of a parsed query.
type clause struct {
	terms  []string // analyzed; more than one means a phrase
	occurs occurrence
}

func (c clause) phrase() bool {
	return len(c.terms) > 1
}

// Query is a parsed keyword query.
type Query struct {
	clauses []clause
}

// Empty reports whether the query has nothing that can match.
func (q *Query) Empty() bool {
	for _, c := range q.clauses {
		if c.occurs != mustNot {
			return false
		}
	}
	return true
}

// Terms returns every distinct positive term of the query.
func (q *Query) Terms() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range q.clauses {
		if c.occurs == mustNot {
			continue
		}
		for _, t := range c.terms {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

type rawClause struct {
	text   string
	prefix rune
}

// Parse analyzes a query string with the collection's analyzer.
// Bare terms are OR'ed unless an AND keyword appears; the last AND or OR keyword wins.
// A bare word that analyzes to several tokens, like "sign-up", becomes a phrase.
func Parse(a *Analyzer, text string) *Query {
	raws, conjunctive := lex(text)

	q := &Query{}
	for _, r := range raws {
		terms := a.Analyze(r.text)
		if len(terms) == 0 {
			continue
		}
		occurs := should
		switch {
		case r.prefix == '+':
			occurs = must
		case r.prefix == '-':
			occurs = mustNot
		case conjunctive:
			occurs = must
		}
		q.clauses = append(q.clauses, clause{terms: terms, occurs: occurs})
	}
	return q
}

// lex splits a query into raw clauses and reports the bare-term operator.
func lex(text string) ([]rawClause, bool) {
	var (
		out         []rawClause
		conjunctive bool
	)
	runes := []rune(text)
	for i := 0; i < len(runes); {
		if unicode.IsSpace(runes[i]) {
			i++
			continue
		}

		var prefix rune
		if (runes[i] == '+' || runes[i] == '-') && i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			prefix = runes[i]
			i++
		}

		if runes[i] == '"' {
			end := i + 1
			for end < len(runes) && runes[end] != '"' {
				end++
			}
			out = append(out, rawClause{text: string(runes[i+1 : end]), prefix: prefix})
			i = end + 1
			continue
		}

		end := i
		for end < len(runes) && !unicode.IsSpace(runes[end]) && runes[end] != '"' {
			end++
		}
		word := string(runes[i:end])
		i = end

		if prefix == 0 {
			switch word {
			case "AND":
				conjunctive = true
				continue
			case "OR":
				conjunctive = false
				continue
			}
		}
		out = append(out, rawClause{text: strings.TrimSpace(word), prefix: prefix})
	}
	return out, conjunctive
}
