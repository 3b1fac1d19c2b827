// Package detection finds observables and known entity names in free text.
package detection

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/CodeMonkeyCybersecurity/spotter/pkg/defang"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/patterns"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/types"
)

// Scanner runs a pattern registry over text. It holds no mutable state and
// is safe for concurrent use.
type Scanner struct {
	registry      *patterns.Registry
	contextWindow int
}

type Option func(*Scanner)

// WithContextWindow attaches up to n bytes of surrounding text on each side
// of every detection.
func WithContextWindow(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.contextWindow = n
		}
	}
}

// NewScanner returns a scanner over reg, or over the built-in registry when
// reg is nil.
func NewScanner(reg *patterns.Registry, opts ...Option) *Scanner {
	if reg == nil {
		reg = patterns.Default()
	}
	s := &Scanner{registry: reg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type candidate struct {
	def   patterns.Definition
	start int
	end   int
}

func (c candidate) overlaps(o candidate) bool {
	return c.start < o.end && o.start < c.end
}

// Scan returns the accepted observables in text ordered by start offset.
// Offsets are byte offsets into text.
func (s *Scanner) Scan(text string) []types.DetectedObservable {
	if text == "" {
		return []types.DetectedObservable{}
	}

	var competing, disjoint []candidate
	for i := 0; i < s.registry.Len(); i++ {
		def := s.registry.At(i)
		for _, loc := range def.Regex.FindAllStringIndex(text, -1) {
			start, end := loc[0], loc[1]
			if def.Trim != nil {
				end = start + len(def.Trim(text[start:end]))
			}
			if end <= start || !def.Accepts(text, start, end) {
				continue
			}

			c := candidate{def: def, start: start, end: end}
			if def.Disjoint {
				disjoint = append(disjoint, c)
			} else {
				competing = append(competing, c)
			}
		}
	}

	accepted := resolveOverlaps(competing)
	accepted = append(accepted, dedupeSpans(disjoint)...)
	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].start < accepted[j].start
	})

	out := make([]types.DetectedObservable, 0, len(accepted))
	for _, c := range accepted {
		out = append(out, s.observable(text, c))
	}
	return out
}

// resolveOverlaps sweeps candidates ordered by start, then priority. A
// candidate is kept when it overlaps nothing kept so far, or when every kept
// candidate it overlaps has strictly lower priority; those are dropped.
func resolveOverlaps(cands []candidate) []candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.start != b.start {
			return a.start < b.start
		}
		if a.def.Priority != b.def.Priority {
			return a.def.Priority > b.def.Priority
		}
		return a.end-a.start > b.end-b.start
	})

	accepted := make([]candidate, 0, len(cands))
	for _, c := range cands {
		// accepted never overlaps itself and is ordered by start, so every
		// overlapping entry sits at the tail.
		i := len(accepted)
		for i > 0 && accepted[i-1].overlaps(c) {
			i--
		}

		wins := true
		for _, a := range accepted[i:] {
			if a.def.Priority >= c.def.Priority {
				wins = false
				break
			}
		}
		if wins {
			accepted = append(accepted[:i], c)
		}
	}
	return accepted
}

func dedupeSpans(cands []candidate) []candidate {
	seen := make(map[[2]int]bool, len(cands))
	out := cands[:0]
	for _, c := range cands {
		key := [2]int{c.start, c.end}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func (s *Scanner) observable(text string, c candidate) types.DetectedObservable {
	value := text[c.start:c.end]
	obs := types.DetectedObservable{
		Type:            c.def.Type,
		Value:           value,
		RefangedValue:   c.def.Canonical(value),
		IsDefanged:      defang.IsDefanged(value),
		HashKind:        c.def.HashKind,
		StartIndex:      c.start,
		EndIndex:        c.end,
		PlatformMatches: []types.PlatformMatch{},
	}
	if s.contextWindow > 0 {
		obs.Context = contextAround(text, c.start, c.end, s.contextWindow)
	}
	return obs
}

// contextAround returns text around [start, end) widened by n bytes on each
// side and snapped inward to rune boundaries.
func contextAround(text string, start, end, n int) string {
	from := start - n
	if from < 0 {
		from = 0
	}
	for from < start && !utf8.RuneStart(text[from]) {
		from++
	}

	to := end + n
	if to > len(text) {
		to = len(text)
	}
	for to > end && to < len(text) && !utf8.RuneStart(text[to]) {
		to--
	}

	return strings.Join(strings.Fields(text[from:to]), " ")
}
