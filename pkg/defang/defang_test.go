package defang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDefanged(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"evil[.]com", true},
		{"evil(.)com", true},
		{"evil{.}com", true},
		{"user[@]evil.com", true},
		{"user(@)evil.com", true},
		{"user{@}evil.com", true},
		{"hxxp://evil.com", true},
		{"HXXPS://evil.com", true},
		{"h[xx]ps://evil.com", true},
		{"http[://]evil.com", true},
		{"http[:]//evil.com", true},
		{"http(:/)/evil.com", true},
		{"meow://evil.com", true},
		{"https://example.com", false},
		{"plain text", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDefanged(tt.input))
		})
	}
}

func TestRefang(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"evil[.]example[.]com", "evil.example.com"},
		{"evil(.)com", "evil.com"},
		{"evil{.}com", "evil.com"},
		{"user[@]evil[.]com", "user@evil.com"},
		{"user(@)evil.com", "user@evil.com"},
		{"hxxps://evil[.]com/payload", "https://evil.com/payload"},
		{"hXXp://evil.com", "http://evil.com"},
		{"h[xx]ps://evil.com", "https://evil.com"},
		{"meow://evil.com", "http://evil.com"},
		{"https[://]evil.com", "https://evil.com"},
		{"http[:]//evil.com", "http://evil.com"},
		{"http(:/)/evil.com", "http://evil.com"},
		{"hxxp[://]evil[.]com", "http://evil.com"},
		{"1.2.3[.]4", "1.2.3.4"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Refang(tt.input))
		})
	}
}

func TestRefangIsIdentityOnCleanText(t *testing.T) {
	for _, s := range []string{
		"https://example.com/a.b?c=d",
		"user@example.com",
		"d41d8cd98f00b204e9800998ecf8427e",
		"10.0.0.1",
		"",
	} {
		assert.Equal(t, s, Refang(s))
		assert.Equal(t, Refang(s), Refang(Refang(s)))
	}
}

func TestGenerateDefangedVariants(t *testing.T) {
	inputs := []string{
		"evil.example.com",
		"1.2.3.4",
		"user@evil.example.com",
		"https://evil.example.com/payload.exe",
		"http://evil.com",
	}

	for _, x := range inputs {
		t.Run(x, func(t *testing.T) {
			variants := GenerateDefangedVariants(x)
			require.NotEmpty(t, variants)

			seen := map[string]bool{}
			for _, v := range variants {
				assert.NotEqual(t, x, v)
				assert.False(t, seen[v], "duplicate variant %q", v)
				seen[v] = true

				assert.True(t, IsDefanged(v), "variant %q should look defanged", v)
				assert.Equal(t, x, Refang(v), "variant %q should refang to %q", v, x)
			}
		})
	}
}

func TestGenerateDefangedVariantsContents(t *testing.T) {
	domain := GenerateDefangedVariants("evil.example.com")
	assert.Contains(t, domain, "evil[.]example[.]com")
	assert.Contains(t, domain, "evil.example[.]com")
	assert.Contains(t, domain, "evil(.)example(.)com")
	assert.Contains(t, domain, "evil.example{.}com")

	email := GenerateDefangedVariants("user@evil.com")
	assert.Contains(t, email, "user[@]evil.com")
	assert.Contains(t, email, "user(@)evil.com")
	assert.Contains(t, email, "user[@]evil[.]com")

	url := GenerateDefangedVariants("https://evil.com/x")
	assert.Contains(t, url, "hxxps://evil.com/x")
	assert.Contains(t, url, "hXXps://evil.com/x")
	assert.Contains(t, url, "hxxps://evil[.]com/x")
	assert.Contains(t, url, "hxxps[://]evil[.]com/x")
}

func TestGenerateDefangedVariantsNothingToDefang(t *testing.T) {
	assert.Empty(t, GenerateDefangedVariants(""))
	assert.Empty(t, GenerateDefangedVariants("d41d8cd98f00b204e9800998ecf8427e"))
}
