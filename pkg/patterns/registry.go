// Package patterns holds the immutable set of observable pattern definitions
// and their validators.
package patterns

import (
	"regexp"
	"sort"
	"sync"

	"github.com/CodeMonkeyCybersecurity/spotter/pkg/defang"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/types"
)

// Definition describes one observable pattern.
type Definition struct {
	Name     string
	Type     types.ObservableType
	HashKind types.HashKind
	Regex    *regexp.Regexp
	// Priority decides overlaps: a higher priority candidate displaces
	// overlapping lower priority ones.
	Priority int
	// Disjoint patterns never overlap with others and skip overlap resolution.
	Disjoint bool

	// Validate receives the matched text after Trim.
	Validate func(candidate string) bool
	// Guard inspects the characters surrounding text[start:end].
	Guard func(text string, start, end int) bool
	// Trim drops trailing characters that are not part of the value.
	Trim func(match string) string
	// Normalize produces the canonical value; Refang when nil.
	Normalize func(match string) string
}

// Canonical returns the canonical form of a matched value.
func (d Definition) Canonical(match string) string {
	if d.Normalize != nil {
		return d.Normalize(match)
	}
	return defang.Refang(match)
}

// Accepts runs Guard and Validate against text[start:end].
func (d Definition) Accepts(text string, start, end int) bool {
	if d.Guard != nil && !d.Guard(text, start, end) {
		return false
	}
	return d.Validate == nil || d.Validate(text[start:end])
}

// Registry is an immutable, priority-ordered set of definitions.
type Registry struct {
	defs  []Definition
	exact []*regexp.Regexp
}

// NewRegistry copies defs and orders them by descending priority. Ties keep
// their given order.
func NewRegistry(defs ...Definition) *Registry {
	sorted := make([]Definition, len(defs))
	copy(sorted, defs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	exact := make([]*regexp.Regexp, len(sorted))
	for i, d := range sorted {
		exact[i] = regexp.MustCompile(`^(?:` + d.Regex.String() + `)$`)
	}

	return &Registry{defs: sorted, exact: exact}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the built-in registry. It is built on first use.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(builtinDefinitions()...)
	})
	return defaultRegistry
}

// Definitions returns the definitions in priority order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Len returns the number of definitions.
func (r *Registry) Len() int { return len(r.defs) }

// At returns the i-th definition in priority order.
func (r *Registry) At(i int) Definition { return r.defs[i] }

// MatchExact returns the highest priority definition whose pattern matches
// the whole token and whose validator accepts it.
func (r *Registry) MatchExact(token string) (Definition, bool) {
	for i, re := range r.exact {
		if !re.MatchString(token) {
			continue
		}
		if d := r.defs[i]; d.Accepts(token, 0, len(token)) {
			return d, true
		}
	}
	return Definition{}, false
}
