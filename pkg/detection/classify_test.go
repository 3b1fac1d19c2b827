package detection

import (
	"testing"

	"github.com/CodeMonkeyCybersecurity/spotter/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		token    string
		want     types.ObservableType
		hash     types.HashKind
		refanged string
	}{
		{"8.8.8.8", types.ObservableIPv4, types.HashNone, "8.8.8.8"},
		{"  8.8.8.8  ", types.ObservableIPv4, types.HashNone, "8.8.8.8"},
		{"8[.]8[.]8[.]8", types.ObservableIPv4, types.HashNone, "8.8.8.8"},
		{"hxxp://evil[.]com/x", types.ObservableURL, types.HashNone, "http://evil.com/x"},
		{"evil[.]com", types.ObservableDomain, types.HashNone, "evil.com"},
		{"USER@Example.com", types.ObservableEmail, types.HashNone, "user@example.com"},
		{"2001:DB8::1", types.ObservableIPv6, types.HashNone, "2001:db8::1"},
		{"D41D8CD98F00B204E9800998ECF8427E", types.ObservableFile, types.HashMD5, "d41d8cd98f00b204e9800998ecf8427e"},
		{"invoice.exe", types.ObservableFile, types.HashNone, "invoice.exe"},
		{"CVE-2021-44228", types.ObservableVulnerability, types.HashNone, "CVE-2021-44228"},
		{"cve-2021-44228", types.ObservableVulnerability, types.HashNone, "CVE-2021-44228"},
		{"T1059.001", types.ObservableAttackPattern, types.HashNone, "T1059.001"},
		{"AS13335", types.ObservableASN, types.HashNone, "AS13335"},
		{"00-1A-2B-3C-4D-5E", types.ObservableMAC, types.HashNone, "00:1a:2b:3c:4d:5e"},
		{"4111111111111111", types.ObservablePaymentCard, types.HashNone, "4111111111111111"},
		{"+44 20 7946 0958", types.ObservablePhone, types.HashNone, "+442079460958"},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, ok := Classify(nil, tt.token)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got.Type)
			assert.Equal(t, tt.hash, got.HashKind)
			assert.Equal(t, tt.refanged, got.RefangedValue)
			assert.Equal(t, tt.want, DetectObservableType(tt.token))
		})
	}
}

func TestClassifyRejects(t *testing.T) {
	for _, token := range []string{
		"",
		"not an observable",
		"0.0.0.0",
		"jquery.min.js",
		"1.2.3",
		"evil.com and more",
	} {
		t.Run(token, func(t *testing.T) {
			_, ok := Classify(nil, token)
			assert.False(t, ok)
			assert.Empty(t, DetectObservableType(token))
		})
	}
}
