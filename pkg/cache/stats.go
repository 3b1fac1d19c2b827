package cache

import (
	"sort"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/spotter/pkg/detection"
)

// EntryStats describes one (platform, entity type) snapshot.
type EntryStats struct {
	PlatformID      string    `json:"platform_id" yaml:"platform_id"`
	EntityType      string    `json:"entity_type" yaml:"entity_type"`
	Entities        int       `json:"entities" yaml:"entities"`
	LastRefreshedAt time.Time `json:"last_refreshed_at,omitempty" yaml:"last_refreshed_at,omitempty"`
	IsRefreshing    bool      `json:"is_refreshing" yaml:"is_refreshing"`
	LastError       string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	Stale           bool      `json:"stale" yaml:"stale"`
}

// Stats summarizes the whole cache.
type Stats struct {
	Entries       []EntryStats `json:"entries" yaml:"entries"`
	TotalEntities int          `json:"total_entities" yaml:"total_entities"`
	Refreshing    bool         `json:"refreshing" yaml:"refreshing"`
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	s := Stats{Entries: make([]EntryStats, 0, len(c.entries))}
	for _, k := range c.orderedEntries() {
		e := c.entries[k]
		stale := e.lastRefreshedAt.IsZero() ||
			(c.opts.MaxAge > 0 && now.Sub(e.lastRefreshedAt) > c.opts.MaxAge)

		s.Entries = append(s.Entries, EntryStats{
			PlatformID:      k.platformID,
			EntityType:      k.entityType,
			Entities:        len(e.entities),
			LastRefreshedAt: e.lastRefreshedAt,
			IsRefreshing:    e.isRefreshing,
			LastError:       e.lastError,
			Stale:           stale,
		})
		s.TotalEntities += len(e.entities)
		s.Refreshing = s.Refreshing || e.isRefreshing
	}
	return s
}

// NamedEntities returns the cached domain objects (threat actors, malware,
// ...) that can be recognised by name. Entities with the same type and name
// on several platforms are merged into one with a match per platform.
func (c *Cache) NamedEntities() []detection.NamedEntity {
	c.mu.RLock()
	defer c.mu.RUnlock()

	index := make(map[string]int)
	var out []detection.NamedEntity
	for _, k := range c.orderedEntries() {
		for _, ent := range c.entries[k].entities {
			if ent.Name == "" {
				continue
			}

			key := strings.ToLower(ent.EntityType + "\x00" + ent.Name)
			i, ok := index[key]
			if !ok {
				i = len(out)
				index[key] = i
				out = append(out, detection.NamedEntity{Type: ent.EntityType, Name: ent.Name})
			}

			out[i].Aliases = mergeAliases(out[i].Aliases, ent.Aliases)
			out[i].Matches = append(out[i].Matches, ent.Match())
		}
	}
	return out
}

func mergeAliases(have, add []string) []string {
	seen := make(map[string]bool, len(have))
	for _, a := range have {
		seen[strings.ToLower(a)] = true
	}
	for _, a := range add {
		if !seen[strings.ToLower(a)] {
			seen[strings.ToLower(a)] = true
			have = append(have, a)
		}
	}
	sort.Strings(have)
	return have
}
