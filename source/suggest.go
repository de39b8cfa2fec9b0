package source

import (
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
)

// SuggestLayerName returns the name out of candidates
// with the smallest edit distance to name, ignoring case.
// Returns an empty string if there are no candidates.
func SuggestLayerName(name string, candidates []string) string {
	var (
		best     string
		bestDist = -1
		lower    = strings.ToLower(name)
	)
	for _, candidate := range candidates {
		dist := levenshtein.ComputeDistance(lower, strings.ToLower(candidate))
		if bestDist < 0 || dist < bestDist {
			best = candidate
			bestDist = dist
		}
	}
	return best
}

// LayerNotFoundMessage describes a missing layer with the
// closest existing layer name and the number of unreadable layers.
func LayerNotFoundMessage(name string, readable, unreadable []string) string {
	var b strings.Builder
	b.WriteString(`Layer "`)
	b.WriteString(name)
	b.WriteString(`" not found in source`)
	if suggestion := SuggestLayerName(name, readable); suggestion != "" {
		b.WriteString(`, did you mean "`)
		b.WriteString(suggestion)
		b.WriteString(`"?`)
	}
	if n := len(unreadable); n > 0 {
		b.WriteString(" (")
		b.WriteString(pluralize(n, "layer", "layers"))
		b.WriteString(" of the source could not be read)")
	}
	return b.String()
}

func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return "1 " + singular
	}
	return strconv.Itoa(n) + " " + plural
}
