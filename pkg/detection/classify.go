package detection

import (
	"strings"

	"github.com/CodeMonkeyCybersecurity/spotter/pkg/patterns"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/types"
)

// Classification is the result of classifying a single token.
type Classification struct {
	Type          types.ObservableType `json:"type"`
	HashKind      types.HashKind       `json:"hash_kind,omitempty"`
	RefangedValue string               `json:"refanged_value"`
}

// DetectObservableType returns the type of an isolated token, or the empty
// type when no pattern accepts it.
func DetectObservableType(token string) types.ObservableType {
	c, _ := Classify(nil, token)
	return c.Type
}

// Classify applies reg (the built-in registry when nil) to an isolated
// token using the same priority order as Scan.
func Classify(reg *patterns.Registry, token string) (Classification, bool) {
	if reg == nil {
		reg = patterns.Default()
	}

	token = strings.TrimSpace(token)
	def, ok := reg.MatchExact(token)
	if !ok {
		return Classification{}, false
	}
	return Classification{
		Type:          def.Type,
		HashKind:      def.HashKind,
		RefangedValue: def.Canonical(token),
	}, true
}
