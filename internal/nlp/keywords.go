package nlp

import (
	"slices"
	"strings"
	"unicode"

	"github.com/elliotchance/pie/v2"
)

// Category is a domain keyword list.
type Category string

const (
	CategoryMedical  Category = "medical"
	CategoryFire     Category = "fire"
	CategoryViolence Category = "violence"
	CategorySelfHarm Category = "self_harm"

	// CategoryGeneral is used when no category list matched.
	CategoryGeneral Category = "general"
)

// DefaultOrder is the tie-break order used when two categories match the
// same number of keywords.
var DefaultOrder = []Category{CategoryMedical, CategoryFire, CategoryViolence, CategorySelfHarm}

// Matcher finds domain keywords in free text by case-insensitive substring
// match. A Matcher is immutable after construction and safe for concurrent use.
type Matcher struct {
	order []Category
	lists map[Category][]string
}

// NewMatcher builds a Matcher from per-category keyword lists. Keywords are
// lowercased and deduplicated; categories not present in order are appended
// in sorted order so matching stays deterministic.
func NewMatcher(order []Category, lists map[Category][]string) *Matcher {
	m := &Matcher{lists: make(map[Category][]string, len(lists))}

	for _, c := range order {
		if _, ok := lists[c]; ok && !pie.Contains(m.order, c) {
			m.order = append(m.order, c)
		}
	}
	extra := make([]Category, 0)
	for c := range lists {
		if !pie.Contains(m.order, c) {
			extra = append(extra, c)
		}
	}
	m.order = append(m.order, pie.Sort(extra)...)

	for c, kws := range lists {
		lowered := make([]string, 0, len(kws))
		for _, kw := range kws {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				lowered = append(lowered, kw)
			}
		}
		m.lists[c] = pie.Unique(lowered)
	}
	return m
}

// Categories returns the categories in tie-break order.
func (m *Matcher) Categories() []Category {
	out := make([]Category, len(m.order))
	copy(out, m.order)
	return out
}

// Match returns every keyword found in text across all lists, deduplicated
// and sorted.
func (m *Matcher) Match(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, c := range m.order {
		for _, kw := range m.lists[c] {
			if strings.Contains(lower, kw) {
				found = append(found, kw)
			}
		}
	}
	if len(found) == 0 {
		return nil
	}
	return pie.Sort(pie.Unique(found))
}

// MatchCategory returns the keywords of a single category found in text.
func (m *Matcher) MatchCategory(c Category, text string) []string {
	lower := strings.ToLower(text)
	return pie.Filter(m.lists[c], func(kw string) bool {
		return strings.Contains(lower, kw)
	})
}

// CategoryOf returns which categories contain the keyword.
func (m *Matcher) CategoryOf(keyword string) []Category {
	keyword = strings.ToLower(keyword)
	var out []Category
	for _, c := range m.order {
		if pie.Contains(m.lists[c], keyword) {
			out = append(out, c)
		}
	}
	return out
}

// Dominant picks the category with the most keywords among the given set.
// Ties resolve by the matcher's order; CategoryGeneral is returned when
// nothing matches. The self-harm list is only chosen when it strictly wins.
func (m *Matcher) Dominant(keywords []string) Category {
	best := CategoryGeneral
	bestN := 0
	for _, c := range m.order {
		n := 0
		for _, kw := range keywords {
			if pie.Contains(m.lists[c], kw) {
				n++
			}
		}
		if n > bestN {
			best, bestN = c, n
		}
	}
	return best
}

// ContainsAny reports whether text contains any of the phrases, ignoring case.
func ContainsAny(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	return pie.Any(phrases, func(p string) bool {
		p = strings.ToLower(p)
		return p != "" && strings.Contains(lower, p)
	})
}

// Tokens splits text into lowercase word tokens. Apostrophes stay inside
// words so contractions like "can't" survive as one token.
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '’'
	})
}

// ContainsToken reports whether any whole-word token of text is in words.
func ContainsToken(text string, words []string) bool {
	toks := Tokens(text)
	for _, w := range words {
		if pie.Contains(toks, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// negators turn a following phrase into its opposite ("I don't want to die").
var negators = []string{"not", "no", "never", "don't", "dont", "doesn't", "didn't", "won't"}

// negationReach is how many tokens before a phrase are checked for a negator.
const negationReach = 2

// Negated reports whether every whole-word occurrence of phrase in text is
// preceded closely by a negator. A phrase found only inside longer words is
// not considered negated.
func Negated(text, phrase string) bool {
	toks, want := Tokens(text), Tokens(phrase)
	if len(want) == 0 {
		return false
	}
	found := false
	for i := 0; i+len(want) <= len(toks); i++ {
		if !slices.Equal(toks[i:i+len(want)], want) {
			continue
		}
		found = true
		before := toks[max(0, i-negationReach):i]
		if !pie.Any(before, func(tok string) bool { return pie.Contains(negators, strings.ReplaceAll(tok, "’", "'")) }) {
			return false
		}
	}
	return found
}
