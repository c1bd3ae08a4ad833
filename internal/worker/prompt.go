package worker

import (
	"fmt"
	"strings"

	"github.com/zulandar/quotescout/internal/config"
	"github.com/zulandar/quotescout/internal/models"
	"github.com/zulandar/quotescout/internal/session"
)

// maxQueryWords bounds a query derived from the free-text problem summary.
const maxQueryWords = 6

// SearchQueries returns the graduated query list: a specific query for the
// problem, a broader one for the category and subcategory, and the bare
// category term. Duplicates are removed, order is preserved.
func SearchQueries(c models.Classification) []string {
	specific := strings.TrimSpace(c.Subcategory)
	if specific == "" {
		specific = firstWords(c.ProblemSummary, maxQueryWords)
	}
	broader := strings.TrimSpace(strings.TrimSpace(c.Category) + " " + strings.TrimSpace(c.Subcategory))
	if strings.TrimSpace(c.Subcategory) == "" && c.Category != "" {
		broader = strings.TrimSpace(c.Category) + " repair"
	}
	generic := strings.TrimSpace(c.Category)

	var out []string
	seen := make(map[string]bool)
	for _, q := range []string{specific, broader, generic} {
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}
	return out
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.TrimRight(strings.Join(words, " "), ".,;:")
}

// BuildInstruction assembles the natural-language task for one platform.
func BuildInstruction(p config.PlatformConfig, params session.Params, maxResults int) string {
	c := params.Classification
	var b strings.Builder

	fmt.Fprintf(&b, "You are searching %s for home-repair contractors.\n", p.Name)
	fmt.Fprintf(&b, "Stay on %s. Do not open or navigate to any other website.\n\n", strings.Join(p.AllowedDomains, ", "))

	b.WriteString("Homeowner problem:\n")
	fmt.Fprintf(&b, "- Category: %s\n", c.Category)
	if c.Subcategory != "" {
		fmt.Fprintf(&b, "- Subcategory: %s\n", c.Subcategory)
	}
	if c.ProblemSummary != "" {
		fmt.Fprintf(&b, "- Problem: %s\n", c.ProblemSummary)
	}
	if c.ScopeOfWork != "" {
		fmt.Fprintf(&b, "- Scope of work: %s\n", c.ScopeOfWork)
	}
	fmt.Fprintf(&b, "- Location: %s %s\n\n", strings.TrimSpace(params.City), params.ZipCode)

	b.WriteString("Search strategy, in order. Move to the next query only if the previous one returns no relevant results:\n")
	for i, q := range SearchQueries(c) {
		fmt.Fprintf(&b, "%d. %q\n", i+1, q)
	}
	fmt.Fprintf(&b, "\nEnter zip code %s when the site asks for a location.\n", params.ZipCode)
	fmt.Fprintf(&b, "Collect up to %d contractors from the results.\n\n", maxResults)

	b.WriteString("Finish with a JSON array only. Each element has the fields: ")
	b.WriteString(`name, rating, reviewCount, description, profileUrl, imageUrl, pricing, specialties, `)
	b.WriteString(`yearsExperience, topRated, positiveReviews, negativeReviews, availability, phone, email, website. `)
	b.WriteString(`Reviews are objects with text, rating, author, date. Leave out fields you cannot find.`)
	return b.String()
}
