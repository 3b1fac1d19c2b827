// Package registry builds platform clients from configuration.
package registry

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/spotter/internal/config"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/platforms"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/platforms/openaev"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/platforms/opencti"
)

// NewClient returns the client for cfg.Type. It satisfies
// platforms.ClientFactory.
func NewClient(cfg config.PlatformConfig) (platforms.Client, error) {
	if cfg.URL == "" || cfg.APIToken == "" {
		return nil, fmt.Errorf("platform %q: url and api_token are required", cfg.ID)
	}

	switch cfg.Type {
	case config.PlatformTypeOpenCTI, "":
		return opencti.NewClient(cfg), nil
	case config.PlatformTypeOpenAEV:
		return openaev.NewClient(cfg), nil
	default:
		return nil, fmt.Errorf("platform %q: unsupported platform type %q", cfg.ID, cfg.Type)
	}
}

// BuildClientMap registers a client for every enabled platform, in
// configuration order.
func BuildClientMap(cfgs []config.PlatformConfig) (*platforms.ClientMap, error) {
	clients := platforms.NewClientMap()
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		c, err := NewClient(cfg)
		if err != nil {
			return nil, err
		}
		clients.Register(cfg.ID, c)
	}
	return clients, nil
}
