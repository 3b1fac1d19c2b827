package patterns

import (
	"regexp"
	"testing"

	"github.com/CodeMonkeyCybersecurity/spotter/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryOrdering(t *testing.T) {
	reg := Default()
	require.Same(t, reg, Default())
	require.Greater(t, reg.Len(), 10)

	for i := 1; i < reg.Len(); i++ {
		assert.GreaterOrEqual(t, reg.At(i-1).Priority, reg.At(i).Priority,
			"%s should not come before %s", reg.At(i-1).Name, reg.At(i).Name)
	}

	defs := reg.Definitions()
	defs[0].Priority = -1
	assert.NotEqual(t, -1, reg.At(0).Priority, "Definitions must return a copy")
}

func TestNewRegistryStableTies(t *testing.T) {
	re := regexp.MustCompile(`x`)
	reg := NewRegistry(
		Definition{Name: "low", Regex: re, Priority: 1},
		Definition{Name: "first", Regex: re, Priority: 5},
		Definition{Name: "second", Regex: re, Priority: 5},
	)

	assert.Equal(t, "first", reg.At(0).Name)
	assert.Equal(t, "second", reg.At(1).Name)
	assert.Equal(t, "low", reg.At(2).Name)
}

func TestMatchExact(t *testing.T) {
	tests := []struct {
		token    string
		wantType types.ObservableType
		wantHash types.HashKind
	}{
		{"example.com", types.ObservableDomain, types.HashNone},
		{"evil[.]example[.]com", types.ObservableDomain, types.HashNone},
		{"1.2.3.4", types.ObservableIPv4, types.HashNone},
		{"2001:db8::1", types.ObservableIPv6, types.HashNone},
		{"https://example.com/a", types.ObservableURL, types.HashNone},
		{"hxxps://evil[.]com/a", types.ObservableURL, types.HashNone},
		{"user@example.com", types.ObservableEmail, types.HashNone},
		{"d41d8cd98f00b204e9800998ecf8427e", types.ObservableFile, types.HashMD5},
		{"da39a3ee5e6b4b0d3255bfef95601890afd80709", types.ObservableFile, types.HashSHA1},
		{"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", types.ObservableFile, types.HashSHA256},
		{"payload.exe", types.ObservableFile, types.HashNone},
		{"00:1A:2B:3C:4D:5E", types.ObservableMAC, types.HashNone},
		{"CVE-2021-44228", types.ObservableVulnerability, types.HashNone},
		{"T1059.001", types.ObservableAttackPattern, types.HashNone},
		{"AS13335", types.ObservableASN, types.HashNone},
		{"DE89370400440532013000", types.ObservableBankAccount, types.HashNone},
		{"4111111111111111", types.ObservablePaymentCard, types.HashNone},
		{"+14155552671", types.ObservablePhone, types.HashNone},
	}

	reg := Default()
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			def, ok := reg.MatchExact(tt.token)
			require.True(t, ok)
			assert.Equal(t, tt.wantType, def.Type)
			assert.Equal(t, tt.wantHash, def.HashKind)
		})
	}
}

func TestMatchExactRejects(t *testing.T) {
	reg := Default()
	for _, token := range []string{"", "hello", "0.0.0.0", "1.2.3.exe", "styles.css", "logo@2x.png"} {
		_, ok := reg.MatchExact(token)
		assert.False(t, ok, token)
	}
}

func TestCanonical(t *testing.T) {
	reg := Default()

	tests := []struct {
		token string
		want  string
	}{
		{"EVIL[.]Example[.]COM", "evil.example.com"},
		{"cve–2021–44228", "CVE-2021-44228"},
		{"ASN 13335", "AS13335"},
		{"DE89 3704 0044 0532 0130 00", "DE89370400440532013000"},
		{"00-1A-2B-3C-4D-5E", "00:1a:2b:3c:4d:5e"},
		{"+1 415-555-2671", "+14155552671"},
		{"D41D8CD98F00B204E9800998ECF8427E", "d41d8cd98f00b204e9800998ecf8427e"},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			def, ok := reg.MatchExact(tt.token)
			require.True(t, ok)
			assert.Equal(t, tt.want, def.Canonical(tt.token))
		})
	}
}

func TestTrimURL(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"https://example.com/a,", "https://example.com/a"},
		{"https://example.com/a).", "https://example.com/a"},
		{"https://en.wikipedia.org/wiki/Foo_(bar)", "https://en.wikipedia.org/wiki/Foo_(bar)"},
		{"https://example.com/a]", "https://example.com/a"},
		{"hxxps://evil[.]com/x", "hxxps://evil[.]com/x"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, trimURL(tt.input))
		})
	}
}
