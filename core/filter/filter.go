// Package filter removes forbidden products from ingredient and recipe lists.
package filter

import (
	"strings"

	"github.com/you-humble/snapchef/core/domain"
)

// Apply splits ingredients into the ones allowed and the ones matching a
// forbidden term. A term matches when either string contains the other,
// ignoring case, so "брокколи" also catches "брокколи с сыром". The input
// slice is never modified.
func Apply(ingredients domain.Ingredients, forbidden []string) (kept, removed domain.Ingredients) {
	terms := normalize(forbidden)
	kept = make(domain.Ingredients, 0, len(ingredients))
	removed = make(domain.Ingredients, 0)

	for _, ing := range ingredients {
		if matchesAny(ing.Name, terms) {
			removed = append(removed, ing)
			continue
		}
		kept = append(kept, ing)
	}

	return kept, removed
}

// Recipes drops recipes whose name or ingredient list mentions a forbidden term.
func Recipes(recipes []domain.Recipe, forbidden []string) (kept []domain.Recipe, removed []string) {
	terms := normalize(forbidden)
	if len(terms) == 0 {
		return recipes, nil
	}

	kept = make([]domain.Recipe, 0, len(recipes))
	for _, r := range recipes {
		if mentions(r, terms) {
			removed = append(removed, r.Name)
			continue
		}
		kept = append(kept, r)
	}
	return kept, removed
}

// ParseList splits a comma separated list, trimming blanks.
func ParseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Merge joins term lists, dropping case-insensitive duplicates.
func Merge(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, l := range lists {
		for _, term := range l {
			key := strings.ToLower(strings.TrimSpace(term))
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, strings.TrimSpace(term))
		}
	}
	return out
}

func mentions(r domain.Recipe, terms []string) bool {
	if containsAny(r.Name, terms) {
		return true
	}
	for _, ing := range r.Ingredients {
		if matchesAny(ing, terms) {
			return true
		}
	}
	return false
}

func matchesAny(name string, terms []string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return false
	}
	for _, t := range terms {
		if strings.Contains(n, t) || strings.Contains(t, n) {
			return true
		}
	}
	return false
}

// containsAny is one-directional: a recipe title is long free text.
func containsAny(text string, terms []string) bool {
	s := strings.ToLower(text)
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func normalize(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}
