package detection

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/CodeMonkeyCybersecurity/spotter/pkg/types"
)

// DefaultMinNameLength keeps very short aliases ("APT", "BE") from matching
// ordinary words.
const DefaultMinNameLength = 4

// NamePattern matches a literal entity name case-insensitively on word
// boundaries. Boundaries are checked on Unicode letters and digits, so names
// that start or end with punctuation ("C++", ".NET") still work.
type NamePattern struct {
	name string
	re   *regexp.Regexp
}

// CreateNamePattern escapes name and builds its matcher.
func CreateNamePattern(name string) *NamePattern {
	return &NamePattern{
		name: name,
		re:   regexp.MustCompile(`(?i)` + regexp.QuoteMeta(name)),
	}
}

func (p *NamePattern) Name() string { return p.name }

// FindAllIndex returns the [start, end) byte spans of every bounded match.
func (p *NamePattern) FindAllIndex(text string) [][2]int {
	var out [][2]int
	for _, loc := range p.re.FindAllStringIndex(text, -1) {
		if bounded(text, loc[0], loc[1]) {
			out = append(out, [2]int{loc[0], loc[1]})
		}
	}
	return out
}

// MatchString reports whether text contains a bounded match.
func (p *NamePattern) MatchString(text string) bool {
	return len(p.FindAllIndex(text)) > 0
}

func bounded(text string, start, end int) bool {
	first, _ := utf8.DecodeRuneInString(text[start:end])
	last, _ := utf8.DecodeLastRuneInString(text[start:end])

	if start > 0 && isNameRune(first) {
		prev, _ := utf8.DecodeLastRuneInString(text[:start])
		if isNameRune(prev) {
			return false
		}
	}
	if end < len(text) && isNameRune(last) {
		next, _ := utf8.DecodeRuneInString(text[end:])
		if isNameRune(next) {
			return false
		}
	}
	return true
}

func isNameRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// NamedEntity is a platform entity that can be recognised by name.
type NamedEntity struct {
	Type    string
	Name    string
	Aliases []string
	Matches []types.PlatformMatch
}

type nameSpan struct {
	entity int
	value  string
	start  int
	end    int
}

// FindEntities reports every entity whose name or alias occurs in text.
// Longer names are matched first and claim their span, so "APT28 Group" is
// not also reported as "APT28". Names shorter than minLen runes are skipped.
func FindEntities(text string, entities []NamedEntity, minLen int) []types.DetectedEntity {
	if text == "" || len(entities) == 0 {
		return []types.DetectedEntity{}
	}
	if minLen <= 0 {
		minLen = DefaultMinNameLength
	}

	type candidate struct {
		entity int
		name   string
	}
	var candidates []candidate
	for i, e := range entities {
		seen := map[string]bool{}
		for _, n := range append([]string{e.Name}, e.Aliases...) {
			n = strings.TrimSpace(n)
			key := strings.ToLower(n)
			if utf8.RuneCountInString(n) < minLen || seen[key] {
				continue
			}
			seen[key] = true
			candidates = append(candidates, candidate{entity: i, name: n})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i].name) > len(candidates[j].name)
	})

	var claimed []nameSpan
	for _, p := range candidates {
		for _, loc := range CreateNamePattern(p.name).FindAllIndex(text) {
			span := nameSpan{entity: p.entity, value: text[loc[0]:loc[1]], start: loc[0], end: loc[1]}
			if !overlapsAny(claimed, span) {
				claimed = append(claimed, span)
			}
		}
	}
	sort.Slice(claimed, func(i, j int) bool { return claimed[i].start < claimed[j].start })

	out := make([]types.DetectedEntity, 0, len(claimed))
	for _, c := range claimed {
		e := entities[c.entity]
		de := types.DetectedEntity{
			Type:            e.Type,
			Name:            e.Name,
			MatchedValue:    c.value,
			Aliases:         e.Aliases,
			StartIndex:      c.start,
			EndIndex:        c.end,
			PlatformMatches: []types.PlatformMatch{},
		}
		for _, m := range e.Matches {
			de.AddMatch(m)
		}
		out = append(out, de)
	}
	return out
}

func overlapsAny(spans []nameSpan, s nameSpan) bool {
	for _, o := range spans {
		if s.start < o.end && o.start < s.end {
			return true
		}
	}
	return false
}
