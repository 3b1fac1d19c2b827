package detection

import (
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/CodeMonkeyCybersecurity/spotter/pkg/patterns"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanDefangedSample(t *testing.T) {
	text := "Contact user[@]evil[.]example[.]com via hxxps://evil[.]example[.]com/payload, hash d41d8cd98f00b204e9800998ecf8427e"

	got := NewScanner(nil).Scan(text)
	require.Len(t, got, 3)

	email, url, hash := got[0], got[1], got[2]

	assert.Equal(t, types.ObservableEmail, email.Type)
	assert.Equal(t, "user[@]evil[.]example[.]com", email.Value)
	assert.Equal(t, "user@evil.example.com", email.RefangedValue)
	assert.True(t, email.IsDefanged)

	assert.Equal(t, types.ObservableURL, url.Type)
	assert.Equal(t, "hxxps://evil[.]example[.]com/payload", url.Value)
	assert.Equal(t, "https://evil.example.com/payload", url.RefangedValue)
	assert.True(t, url.IsDefanged)

	assert.Equal(t, types.ObservableFile, hash.Type)
	assert.Equal(t, types.HashMD5, hash.HashKind)
	assert.False(t, hash.IsDefanged)

	for _, obs := range got {
		assert.Equal(t, obs.Value, text[obs.StartIndex:obs.EndIndex])
		assert.False(t, obs.Found)
		assert.NotNil(t, obs.PlatformMatches)
		assert.Empty(t, obs.PlatformMatches)
	}
}

func TestScanURLSwallowsNestedDomain(t *testing.T) {
	text := "see https://example.org/redirect/evil.com/x for details"

	got := NewScanner(nil).Scan(text)
	require.Len(t, got, 1)
	assert.Equal(t, types.ObservableURL, got[0].Type)
	assert.Equal(t, "https://example.org/redirect/evil.com/x", got[0].Value)
}

func TestScanHashLengths(t *testing.T) {
	tests := []struct {
		value string
		kind  types.HashKind
	}{
		{"d41d8cd98f00b204e9800998ecf8427e", types.HashMD5},
		{"da39a3ee5e6b4b0d3255bfef95601890afd80709", types.HashSHA1},
		{"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", types.HashSHA256},
		{strings.Repeat("cf83e1357eefb8bd", 8), types.HashSHA512},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got := NewScanner(nil).Scan("hash: " + tt.value + " seen")
			require.Len(t, got, 1)
			assert.Equal(t, types.ObservableFile, got[0].Type)
			assert.Equal(t, tt.kind, got[0].HashKind)
			assert.Equal(t, tt.value, got[0].Value)
		})
	}
}

func TestScanIPv4Validation(t *testing.T) {
	got := NewScanner(nil).Scan("bind 0.0.0.0 and 255.255.255.255 but beacon to 8.8.4.4")
	require.Len(t, got, 1)
	assert.Equal(t, types.ObservableIPv4, got[0].Type)
	assert.Equal(t, "8.8.4.4", got[0].Value)
}

func TestScanRejectsVersionsAndLongDottedNumbers(t *testing.T) {
	got := NewScanner(nil).Scan("upgrade to 1.2.3.4.5 or v10.0.0.1 now")
	assert.Empty(t, got)
}

func TestScanDefangedIPv4(t *testing.T) {
	got := NewScanner(nil).Scan("C2 at 185[.]220[.]101[.]4 today")
	require.Len(t, got, 1)
	assert.Equal(t, "185.220.101.4", got[0].RefangedValue)
	assert.True(t, got[0].IsDefanged)
}

func TestScanPaymentCards(t *testing.T) {
	got := NewScanner(nil).Scan("cards 4111 1111 1111 1111 and 4111 1111 1111 1112")
	require.Len(t, got, 1)
	assert.Equal(t, types.ObservablePaymentCard, got[0].Type)
	assert.Equal(t, "4111111111111111", got[0].RefangedValue)
}

func TestScanFileNamesAndCodeReferences(t *testing.T) {
	got := NewScanner(nil).Scan("dropped invoice.pdf.exe and loaded jquery.min.js from example.com")

	var values []string
	for _, o := range got {
		values = append(values, string(o.Type)+"="+o.Value)
	}
	assert.ElementsMatch(t, []string{
		"StixFile=invoice.pdf.exe",
		"Domain-Name=example.com",
	}, values)
}

func TestScanEmailBeatsDomain(t *testing.T) {
	got := NewScanner(nil).Scan("mail first.last@example.org now")
	require.Len(t, got, 1)
	assert.Equal(t, types.ObservableEmail, got[0].Type)
	assert.Equal(t, "first.last@example.org", got[0].RefangedValue)
}

func TestScanRejectsImageAtNotation(t *testing.T) {
	got := NewScanner(nil).Scan("use logo@2x.png for retina")
	for _, o := range got {
		assert.NotEqual(t, types.ObservableEmail, o.Type)
	}
}

func TestScanDisjointPatterns(t *testing.T) {
	text := "Log4Shell (CVE\u20112021\u201144228) is exploited via T1190 and T1059.001."
	got := NewScanner(nil).Scan(text)
	require.Len(t, got, 3)

	assert.Equal(t, types.ObservableVulnerability, got[0].Type)
	assert.Equal(t, "CVE-2021-44228", got[0].RefangedValue)
	assert.Equal(t, got[0].Value, text[got[0].StartIndex:got[0].EndIndex])

	assert.Equal(t, types.ObservableAttackPattern, got[1].Type)
	assert.Equal(t, "T1190", got[1].Value)
	assert.Equal(t, "T1059.001", got[2].Value)
}

func TestScanMixedTypes(t *testing.T) {
	text := "Host 2001:db8::1 (00:1A:2B:3C:4D:5E) AS13335 wallet 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa call +44 20 7946 0958"
	got := NewScanner(nil).Scan(text)

	var gotTypes []types.ObservableType
	for _, o := range got {
		gotTypes = append(gotTypes, o.Type)
	}
	assert.Equal(t, []types.ObservableType{
		types.ObservableIPv6,
		types.ObservableMAC,
		types.ObservableASN,
		types.ObservableCryptoWallet,
		types.ObservablePhone,
	}, gotTypes)
}

func TestScanContextWindow(t *testing.T) {
	text := "prefix   text before 8.8.8.8 after      suffix"
	got := NewScanner(nil, WithContextWindow(12)).Scan(text)
	require.Len(t, got, 1)
	assert.Equal(t, "text before 8.8.8.8 after", got[0].Context)

	noCtx := NewScanner(nil).Scan(text)
	assert.Empty(t, noCtx[0].Context)
}

func TestScanContextWindowRespectsRunes(t *testing.T) {
	text := "ééééé 8.8.8.8 ééééé"
	got := NewScanner(nil, WithContextWindow(3)).Scan(text)
	require.Len(t, got, 1)
	assert.True(t, strings.Contains(got[0].Context, "8.8.8.8"))
	assert.True(t, utf8.ValidString(got[0].Context))
}

func TestScanEmptyAndClean(t *testing.T) {
	s := NewScanner(nil)
	assert.Empty(t, s.Scan(""))
	assert.NotNil(t, s.Scan(""))
	assert.Empty(t, s.Scan("nothing to see here"))
}

func TestScanIsDeterministic(t *testing.T) {
	text := "a.example.com b.example.net 1.1.1.1 https://x.example.org/y d41d8cd98f00b204e9800998ecf8427e"
	s := NewScanner(nil)
	assert.Equal(t, s.Scan(text), s.Scan(text))
}

func TestResolveOverlaps(t *testing.T) {
	re := regexp.MustCompile(`x`)
	def := func(name string, prio int) patterns.Definition {
		return patterns.Definition{Name: name, Regex: re, Priority: prio}
	}

	tests := []struct {
		name  string
		cands []candidate
		want  []string
	}{
		{
			name: "non overlapping kept",
			cands: []candidate{
				{def: def("a", 10), start: 0, end: 5},
				{def: def("b", 10), start: 5, end: 9},
			},
			want: []string{"a", "b"},
		},
		{
			name: "higher priority later start displaces",
			cands: []candidate{
				{def: def("low", 10), start: 0, end: 10},
				{def: def("high", 50), start: 4, end: 12},
			},
			want: []string{"high"},
		},
		{
			name: "equal priority keeps first",
			cands: []candidate{
				{def: def("first", 10), start: 0, end: 10},
				{def: def("second", 10), start: 4, end: 12},
			},
			want: []string{"first"},
		},
		{
			name: "same start highest priority wins",
			cands: []candidate{
				{def: def("domain", 80), start: 0, end: 8},
				{def: def("url", 100), start: 0, end: 20},
			},
			want: []string{"url"},
		},
		{
			name: "displaced candidate does not return",
			cands: []candidate{
				{def: def("a", 10), start: 0, end: 3},
				{def: def("b", 10), start: 4, end: 7},
				{def: def("big", 20), start: 2, end: 6},
			},
			want: []string{"big"},
		},
		{
			name: "lower priority overlap dropped",
			cands: []candidate{
				{def: def("a", 30), start: 0, end: 3},
				{def: def("b", 10), start: 4, end: 7},
				{def: def("mid", 20), start: 2, end: 6},
			},
			want: []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var names []string
			for _, c := range resolveOverlaps(tt.cands) {
				names = append(names, c.def.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestScanCustomRegistry(t *testing.T) {
	reg := patterns.NewRegistry(patterns.Definition{
		Name:     "ticket",
		Type:     types.ObservableType("Ticket"),
		Regex:    regexp.MustCompile(`\bINC-[0-9]+\b`),
		Priority: 10,
	})

	got := NewScanner(reg).Scan("see INC-42 and example.com")
	require.Len(t, got, 1)
	assert.Equal(t, "INC-42", got[0].Value)
}
