// Package episode derives a sortable episode number from a media filename.
//
// Filenames from different release sources use inconsistent notations, so the
// key is found by an ordered cascade of patterns. The most specific pattern
// that matches wins; a blind digit grab is only the last resort, which keeps
// resolution tags such as "1080p" from becoming the key when a clearer "E12"
// marker exists.
package episode

import (
	"cmp"
	"math"
	"regexp"
	"slices"
	"strconv"
)

// Unbounded is the key of a filename with no usable number. It sorts after
// every real key.
const Unbounded = math.MaxInt

// Rule names reported by Explain.
const (
	RuleMarkerBounded   = "marker-bounded"
	RuleMarkerUnbounded = "marker-unbounded"
	RuleSeasonEpisode   = "season-episode"
	RuleSeasonSeparated = "season-separated"
	RuleBracketed       = "bracketed"
	RuleLooseNumber     = "loose-number"
	RuleSeasonFallback  = "season-fallback"
	RuleFirstNumber     = "first-number"
)

type rule struct {
	name  string
	re    *regexp.Regexp
	group int
}

// cascade is tried in order; the first rule whose group parses wins.
var cascade = []rule{
	{RuleMarkerBounded, regexp.MustCompile(`(?i)\b(?:episode|ep|e)[\s._-]*(\d{1,3})\b`), 1},
	{RuleMarkerUnbounded, regexp.MustCompile(`(?i)(?:episode|ep|e)(\d+)`), 1},
	{RuleSeasonEpisode, regexp.MustCompile(`(?i)s(\d+)ep?(\d+)`), 2},
	{RuleSeasonSeparated, regexp.MustCompile(`(?i)s(\d+)\s*[-\s]\s*(?:ep?)?\s*(\d+)`), 2},
	{RuleBracketed, regexp.MustCompile(`[\[\(\{<]\s*(\d{1,3})\s*[\]\)\}>]`), 1},
	{RuleLooseNumber, regexp.MustCompile(`(?i)\b(?:ep|e|#)?[\s._-]*(\d{1,3})\b`), 1},
	{RuleSeasonFallback, regexp.MustCompile(`(?i)s(\d+)\D+(\d+)`), 2},
	{RuleFirstNumber, regexp.MustCompile(`(\d+)`), 1},
}

// Extract returns the episode key of name. It never fails: a name without
// any usable number yields Unbounded.
func Extract(name string) int {
	key, _ := Explain(name)
	return key
}

// Explain is Extract plus the name of the rule that produced the key. The
// rule is empty when the key is Unbounded.
func Explain(name string) (int, string) {
	for _, r := range cascade {
		m := r.re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[r.group])
		if err != nil {
			// overflowing digit runs count as no match
			continue
		}
		return n, r.name
	}
	return Unbounded, ""
}

// Ordered returns a copy of items sorted by the episode key of nameOf(item),
// ascending. Items with equal keys, Unbounded included, keep their relative
// input order.
func Ordered[T any](items []T, nameOf func(T) string) []T {
	type keyed struct {
		key  int
		item T
	}

	ks := make([]keyed, len(items))
	for i, item := range items {
		ks[i] = keyed{key: Extract(nameOf(item)), item: item}
	}

	slices.SortStableFunc(ks, func(a, b keyed) int {
		return cmp.Compare(a.key, b.key)
	})

	out := make([]T, len(ks))
	for i, k := range ks {
		out[i] = k.item
	}
	return out
}
