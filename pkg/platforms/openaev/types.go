package openaev

import (
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/platforms"
)

var errNotFound = platforms.ErrEntityNotFound

type page[T any] struct {
	Content       []T `json:"content"`
	TotalElements int `json:"totalElements"`
}

type endpoint struct {
	ID          string   `json:"asset_id"`
	Name        string   `json:"asset_name"`
	Hostname    string   `json:"endpoint_hostname"`
	IPs         []string `json:"endpoint_ips"`
	MACs        []string `json:"endpoint_mac_addresses"`
	Platform    string   `json:"endpoint_platform"`
	Description string   `json:"asset_description"`
}

func (e endpoint) entity() *platforms.Entity {
	aliases := make([]string, 0, len(e.IPs)+len(e.MACs)+1)
	if e.Hostname != "" && e.Hostname != e.Name {
		aliases = append(aliases, e.Hostname)
	}
	aliases = append(aliases, e.IPs...)
	aliases = append(aliases, e.MACs...)

	data := map[string]interface{}{}
	if e.Platform != "" {
		data["os"] = e.Platform
	}
	if e.Description != "" {
		data["description"] = e.Description
	}

	return &platforms.Entity{
		ID:         e.ID,
		EntityType: TypeEndpoint,
		Name:       e.Name,
		Aliases:    aliases,
		Data:       data,
	}
}

type attackPattern struct {
	ID         string `json:"attack_pattern_id"`
	Name       string `json:"attack_pattern_name"`
	ExternalID string `json:"attack_pattern_external_id"`
}

func (p attackPattern) entity() *platforms.Entity {
	e := &platforms.Entity{
		ID:         p.ID,
		EntityType: TypeAttackPattern,
		Name:       p.Name,
		Data:       map[string]interface{}{},
	}
	if p.ExternalID != "" {
		e.Aliases = []string{p.ExternalID}
		e.Data["x_mitre_id"] = p.ExternalID
	}
	return e
}
