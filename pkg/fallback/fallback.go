// Package fallback holds the canned answers given when a listing's documents
// have nothing relevant to say about a question.
package fallback

import (
	"fmt"
	"strings"
)

// Category is the coarse topic of a clinical question.
type Category int

const (
	Default Category = iota
	Efficacy
	Safety
	Comparison
	Battery
	MRI
)

var categoryNames = map[Category]string{
	Default:    "default",
	Efficacy:   "efficacy",
	Safety:     "safety",
	Comparison: "comparison",
	Battery:    "battery",
	MRI:        "mri",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// ParseCategory maps a config key such as "safety" to its Category.
func ParseCategory(name string) (Category, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for c, n := range categoryNames {
		if n == name {
			return c, true
		}
	}
	return Default, false
}

// Checked in order; the first category with a matching keyword wins.
var keywords = []struct {
	category Category
	words    []string
}{
	{Efficacy, []string{"efficacy", "effective", "success"}},
	{Safety, []string{"safety", "safe", "side effect", "complication"}},
	{Comparison, []string{"comparison", "compare", "versus", "vs"}},
	{Battery, []string{"battery", "longevity", "life"}},
	{MRI, []string{"mri", "magnetic", "imaging"}},
}

// Classify picks the category of a query by case-insensitive substring match.
func Classify(query string) Category {
	lower := strings.ToLower(query)
	for _, group := range keywords {
		for _, word := range group.words {
			if strings.Contains(lower, word) {
				return group.category
			}
		}
	}
	return Default
}

var defaultResponses = map[Category]string{
	Efficacy:   "Clinical trial data for this product reports its primary efficacy endpoints and success rates. Ask your representative for the full trial publication.",
	Safety:     "Safety data for this product covers adverse events and complications reported in its clinical studies. Refer to the prescribing information for the complete safety profile.",
	Comparison: "Comparative studies evaluate this product against alternative therapies on key clinical endpoints. Ask your representative for the head-to-head data.",
	Battery:    "Device longevity and battery life are documented in the technical specifications supplied with this product.",
	MRI:        "MRI compatibility and imaging conditions are described in this product's labeling. Check the conditions of use before scanning.",
	Default:    "I can help you understand the clinical evidence for this product. Ask me about efficacy, safety data, battery life, MRI compatibility, or comparisons with other treatments.",
}

// Table maps categories to canned answers.
type Table struct {
	responses map[Category]string
}

// NewTable returns the built-in answers with any overrides applied. Override keys
// are category names; unknown keys are an error.
func NewTable(overrides map[string]string) (*Table, error) {
	responses := make(map[Category]string, len(defaultResponses))
	for c, text := range defaultResponses {
		responses[c] = text
	}

	for name, text := range overrides {
		c, ok := ParseCategory(name)
		if !ok {
			return nil, fmt.Errorf("unknown fallback category %q", name)
		}
		if strings.TrimSpace(text) != "" {
			responses[c] = text
		}
	}

	return &Table{responses: responses}, nil
}

// Response returns the canned answer for a category, or the default answer.
func (t *Table) Response(c Category) string {
	if text, ok := t.responses[c]; ok {
		return text
	}
	return t.responses[Default]
}

// Answer classifies the query and returns its canned answer.
func (t *Table) Answer(query string) (Category, string) {
	c := Classify(query)
	return c, t.Response(c)
}
