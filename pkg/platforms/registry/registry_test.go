package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/spotter/internal/config"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/platforms"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.PlatformConfig
		wantType string
		wantErr  string
	}{
		{"opencti", config.PlatformConfig{ID: "a", Type: "opencti", URL: "https://a", APIToken: "t"}, "opencti", ""},
		{"default type", config.PlatformConfig{ID: "a", URL: "https://a", APIToken: "t"}, "opencti", ""},
		{"openaev", config.PlatformConfig{ID: "b", Type: "openaev", URL: "https://b", APIToken: "t"}, "openaev", ""},
		{"unknown", config.PlatformConfig{ID: "c", Type: "misp", URL: "https://c", APIToken: "t"}, "", "unsupported platform type"},
		{"missing token", config.PlatformConfig{ID: "d", Type: "opencti", URL: "https://d"}, "", "api_token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.cfg)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, c.Type())
		})
	}
}

func TestBuildClientMap(t *testing.T) {
	clients, err := BuildClientMap([]config.PlatformConfig{
		{ID: "aev", Type: "openaev", URL: "https://b", APIToken: "t", Enabled: true},
		{ID: "off", Type: "opencti", Enabled: false},
		{ID: "octi", Type: "opencti", URL: "https://a", APIToken: "t", Enabled: true},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"aev", "octi"}, clients.IDs())

	c, _ := clients.Get("aev")
	_, lister := c.(platforms.EntityLister)
	assert.True(t, lister)

	_, err = BuildClientMap([]config.PlatformConfig{{ID: "bad", Type: "nope", URL: "u", APIToken: "t", Enabled: true}})
	assert.Error(t, err)
}
