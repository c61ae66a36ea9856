// Package classify maps vendor appointment-type labels onto Category using
// ordered keyword rules.
package classify

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Rule assigns Category when any keyword is a substring of a folded input.
type Rule struct {
	Category Category
	Keywords []string
}

// Input is what the vendor tells us about an appointment type. Empty
// strings mean the field was absent.
type Input struct {
	TypeLabel     string
	CategoryLabel string
	LinkHint      string
}

// Source names which input a match came from.
type Source string

const (
	FromLinkHint Source = "link_hint"
	FromType     Source = "type_label"
	FromCategory Source = "category_label"
	FromDefault  Source = "default"
)

// Result is the outcome of a classification. Defaulted is true when no rule
// matched and the configured default was used.
type Result struct {
	Category  Category
	Defaulted bool
	Source    Source
	Keyword   string
}

// DefaultRules is the built-in keyword table. Keywords are stored folded.
func DefaultRules() []Rule {
	return []Rule{
		{Category: Measurement, Keywords: []string{"measure", "mesure", "medida", "sizing", "prise de"}},
		{Category: Fitting, Keywords: []string{"fitting", "essayage", "retouche", "alteration", "prueba", "try-on"}},
	}
}

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	rules []Rule
	def   Category
}

// New builds a classifier. Rules with an invalid category or no keywords
// are ignored; keywords are folded once here. An invalid default falls back
// to the first category.
func New(rules []Rule, def Category) *Classifier {
	if !def.Valid() {
		def = Categories()[0]
	}
	c := &Classifier{def: def}
	for _, r := range rules {
		if !r.Category.Valid() {
			continue
		}
		folded := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			if k = Fold(k); k != "" {
				folded = append(folded, k)
			}
		}
		if len(folded) > 0 {
			c.rules = append(c.rules, Rule{Category: r.Category, Keywords: folded})
		}
	}
	return c
}

// Default returns the category used when nothing matches.
func (c *Classifier) Default() Category { return c.def }

// Classify checks the link hint, then the type label, then the category
// label; within each input the rules are tried in order. It never fails.
func (c *Classifier) Classify(in Input) Result {
	inputs := []struct {
		src   Source
		value string
	}{
		{FromLinkHint, in.LinkHint},
		{FromType, in.TypeLabel},
		{FromCategory, in.CategoryLabel},
	}

	for _, input := range inputs {
		if input.value == "" {
			continue
		}
		folded := Fold(input.value)
		for _, r := range c.rules {
			for _, k := range r.Keywords {
				if strings.Contains(folded, k) {
					return Result{Category: r.Category, Source: input.src, Keyword: k}
				}
			}
		}
	}
	return Result{Category: c.def, Defaulted: true, Source: FromDefault}
}

// Fold lower-cases s and strips combining marks so "Prise de Mésure" and
// "prise de mesure" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}
