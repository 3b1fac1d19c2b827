package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CodeMonkeyCybersecurity/spotter/internal/config"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/platforms"
)

// Snapshot is the persisted form of one (platform, entity type) entry.
type Snapshot struct {
	PlatformID  string              `json:"platform_id"`
	EntityType  string              `json:"entity_type"`
	Entities    []*platforms.Entity `json:"entities"`
	RefreshedAt time.Time           `json:"refreshed_at"`
}

// SnapshotStore persists snapshots so a restarted process starts warm.
// Load returns nil without error when nothing is stored. Close releases
// the underlying connection.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, platformID, entityType string) (*Snapshot, error)
	Delete(ctx context.Context, platformID, entityType string) error
	Close() error
}

type redisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg config.RedisConfig) (SnapshotStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.KeyPrefix, cfg.SnapshotTTL), nil
}

// NewRedisStoreFromClient wraps an existing client. A zero ttl keeps
// snapshots until they are overwritten. The store owns the client and
// closes it on Close.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) SnapshotStore {
	if prefix == "" {
		prefix = "spotter:cache"
	}
	return &redisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *redisStore) key(platformID, entityType string) string {
	return s.prefix + ":" + platformID + ":" + entityType
}

func (s *redisStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return s.client.Set(ctx, s.key(snap.PlatformID, snap.EntityType), data, s.ttl).Err()
}

func (s *redisStore) Load(ctx context.Context, platformID, entityType string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, s.key(platformID, entityType)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *redisStore) Delete(ctx context.Context, platformID, entityType string) error {
	return s.client.Del(ctx, s.key(platformID, entityType)).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
