// Package platforms defines the contract every connected threat-intelligence
// platform implements and fans calls out across several of them.
package platforms

import (
	"context"
	"sync"

	"github.com/CodeMonkeyCybersecurity/spotter/pkg/types"
)

// Client is a connection to one platform instance. Implementations are
// black boxes to the resolver and must be safe for concurrent use.
type Client interface {
	// Type returns the platform kind, e.g. "opencti".
	Type() string

	// SearchEntities returns entities whose value, name or alias matches query.
	SearchEntities(ctx context.Context, query string) ([]*Entity, error)

	// GetEntityByID fetches a single entity. entityType may be empty when
	// the platform can resolve ids without it. A missing entity is reported
	// as ErrEntityNotFound.
	GetEntityByID(ctx context.Context, id, entityType string) (*Entity, error)

	// TestConnection checks credentials and reports the remote version.
	TestConnection(ctx context.Context) (*PlatformInfo, error)
}

// EntityLister is implemented by clients that can enumerate all entities of
// a type. The entity cache only refreshes platforms that implement it.
type EntityLister interface {
	ListEntities(ctx context.Context, entityType string) ([]*Entity, error)
}

// PlatformInfo describes a successfully reached platform.
type PlatformInfo struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Version string `json:"version,omitempty"`
	URL     string `json:"url"`
	User    string `json:"user,omitempty"`
}

// Entity is the lightweight summary every client returns.
type Entity struct {
	ID         string                 `json:"id"`
	PlatformID string                 `json:"platform_id"`
	EntityType string                 `json:"entity_type"`
	Name       string                 `json:"name,omitempty"`
	Value      string                 `json:"value,omitempty"`
	Aliases    []string               `json:"aliases,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// DedupKey identifies an entity across platforms. Two platforms returning
// the same id are treated as one result.
func (e *Entity) DedupKey() string { return e.ID }

func (e *Entity) StampPlatform(platformID string) { e.PlatformID = platformID }

// Label is the display value: the name for domain objects, the observable
// value otherwise.
func (e *Entity) Label() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Value
}

// Match converts the entity into a detection match.
func (e *Entity) Match() types.PlatformMatch {
	data := map[string]interface{}{}
	for k, v := range e.Data {
		data[k] = v
	}
	if label := e.Label(); label != "" {
		data["name"] = label
	}
	return types.PlatformMatch{
		PlatformID: e.PlatformID,
		EntityID:   e.ID,
		EntityType: e.EntityType,
		EntityData: data,
	}
}

// ClientMap holds clients keyed by platform id and remembers registration
// order. That order is the fan-out merge order and decides the default
// target.
type ClientMap struct {
	mu      sync.RWMutex
	order   []string
	clients map[string]Client
}

func NewClientMap() *ClientMap {
	return &ClientMap{clients: make(map[string]Client)}
}

// Register adds or replaces the client for id. A replaced client keeps its
// original position.
func (m *ClientMap) Register(id string, client Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.clients[id]; !exists {
		m.order = append(m.order, id)
	}
	m.clients[id] = client
}

func (m *ClientMap) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.clients[id]; !exists {
		return
	}
	delete(m.clients, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
}

// Get, IDs, First and Len treat a nil map as empty.
func (m *ClientMap) Get(id string) (Client, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.clients[id]
	return c, ok
}

// IDs returns the platform ids in registration order.
func (m *ClientMap) IDs() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// First returns the earliest registered client.
func (m *ClientMap) First() (string, Client, bool) {
	if m == nil {
		return "", nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.order) == 0 {
		return "", nil, false
	}
	id := m.order[0]
	return id, m.clients[id], true
}

func (m *ClientMap) Len() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}
