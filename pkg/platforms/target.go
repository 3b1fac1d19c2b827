package platforms

import (
	"errors"
	"fmt"
)

var (
	ErrNoPlatforms      = errors.New("no platform configured")
	ErrPlatformNotFound = errors.New("platform not found")

	// ErrEntityNotFound is returned by Client.GetEntityByID when the
	// platform holds no entity with that id.
	ErrEntityNotFound = errors.New("entity not found")
)

// GetTargetClient resolves platformID, or the first registered platform when
// platformID is empty. Registration order is the only default policy; there
// is no ranking.
func GetTargetClient(clients *ClientMap, platformID string) (string, Client, bool) {
	if platformID == "" {
		return clients.First()
	}
	c, ok := clients.Get(platformID)
	if !ok {
		return "", nil, false
	}
	return platformID, c, true
}

// GetTargetClientOrError is GetTargetClient with the failure spelled out.
func GetTargetClientOrError(clients *ClientMap, platformID string) (string, Client, error) {
	if clients == nil || clients.Len() == 0 {
		return "", nil, ErrNoPlatforms
	}
	id, c, ok := GetTargetClient(clients, platformID)
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrPlatformNotFound, platformID)
	}
	return id, c, nil
}
