// Package moderation provides content filtering and moderation capabilities.
// It screens messages, usernames, and room names for prohibited content and
// enforces length and payload limits before anything reaches other users.
package moderation

import "strings"

// defaultTerms is the built-in denylist. Matching is case-insensitive
// substring containment, so a term anywhere inside the text blocks it.
var defaultTerms = []string{
	"zaml", "5tk ana", "mok ana", "9a7ba", "zab",
	"5tk", "5tak", "aliw9", "w9", "9lawi", "t7awa",
}

// FilterResult describes the outcome of a content check.
type FilterResult struct {
	Blocked bool   // true if the text contains a denylisted term
	Reason  string // machine-readable reason, "blocked_keyword" when blocked
	Term    string // the denylisted term that matched
}

// Filter screens text against a denylist. It is stateless after construction
// and safe for concurrent use.
type Filter struct {
	terms []string // lowercase denylist terms
}

// NewFilter creates a Filter with the built-in denylist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultTerms)
}

// NewFilterWithTerms creates a Filter with a custom denylist. Terms are
// matched case-insensitively; they are lowercased once here so Check only
// lowercases the input.
func NewFilterWithTerms(terms []string) *Filter {
	lowered := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			lowered = append(lowered, t)
		}
	}
	return &Filter{terms: lowered}
}

// Check classifies text as clean or blocked. The first denylisted term found
// anywhere in the lowercased text wins.
func (f *Filter) Check(text string) FilterResult {
	lowered := strings.ToLower(text)
	for _, term := range f.terms {
		if strings.Contains(lowered, term) {
			return FilterResult{
				Blocked: true,
				Reason:  "blocked_keyword",
				Term:    term,
			}
		}
	}
	return FilterResult{}
}
