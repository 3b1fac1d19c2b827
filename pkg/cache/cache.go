// Package cache keeps per-platform snapshots of platform entities so scans can
// be resolved without a live search for every detection.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/CodeMonkeyCybersecurity/spotter/internal/logger"
	"github.com/CodeMonkeyCybersecurity/spotter/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/defang"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/platforms"
)

var ErrSafetyTimeout = errors.New("cache refresh did not finish before the safety timeout")

const (
	defaultSafetyTimeout  = 5 * time.Minute
	defaultRefreshTimeout = 2 * time.Minute
	awaitPollInterval     = 50 * time.Millisecond
)

type entryKey struct {
	platformID string
	entityType string
}

// entry is the state of one (platform, entity type) pair. The index maps are
// replaced wholesale on a successful refresh and never mutated afterwards.
type entry struct {
	entities        []*platforms.Entity
	byKey           map[string][]*platforms.Entity
	byID            map[string]*platforms.Entity
	lastRefreshedAt time.Time
	isRefreshing    bool
	lastError       string
}

// Options configures a Cache. Zero values fall back to defaults.
type Options struct {
	EntityTypes    []string
	MaxAge         time.Duration
	RefreshTimeout time.Duration
	SafetyTimeout  time.Duration
	Store          SnapshotStore
	Logger         *logger.Logger
	Recorder       telemetry.Recorder
}

// Cache holds entity snapshots for every platform in a ClientMap. It is
// safe for concurrent use; readers always see a complete snapshot.
type Cache struct {
	clients *platforms.ClientMap
	opts    Options
	log     *logger.Logger

	mu      sync.RWMutex
	entries map[entryKey]*entry

	group singleflight.Group
	now   func() time.Time
}

func New(clients *platforms.ClientMap, opts Options) *Cache {
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = defaultRefreshTimeout
	}
	if opts.SafetyTimeout <= 0 {
		opts.SafetyTimeout = defaultSafetyTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = telemetry.NewNoop()
	}

	return &Cache{
		clients: clients,
		opts:    opts,
		log:     opts.Logger.WithComponent("entity-cache"),
		entries: make(map[entryKey]*entry),
		now:     time.Now,
	}
}

// Refresh reloads the given pair. An empty platformID or entityType means
// all of them. Concurrent refreshes of one pair share a single fetch, and a
// failed fetch keeps the previous snapshot.
func (c *Cache) Refresh(ctx context.Context, platformID, entityType string) error {
	targets, err := c.targets(platformID, entityType)
	if err != nil {
		return err
	}
	return c.refreshTargets(ctx, targets)
}

// RefreshAsync starts the same refresh as Refresh in the background and
// returns as soon as the affected pairs report IsRefreshing. The refresh is
// detached from ctx's cancellation; failures end up in each entry's
// LastError. Use AwaitIdle to wait for it.
func (c *Cache) RefreshAsync(ctx context.Context, platformID, entityType string) error {
	targets, err := c.targets(platformID, entityType)
	if err != nil {
		return err
	}
	for _, t := range targets {
		c.setRefreshing(entryKey{t.platformID, t.entityType}, true)
	}

	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := c.refreshTargets(ctx, targets); err != nil {
			c.log.Warnw("Background cache refresh failed", "error", err)
		}
	}()
	return nil
}

type refreshTarget struct {
	platformID string
	entityType string
	lister     platforms.EntityLister
}

// targets expands a refresh request into listable pairs.
func (c *Cache) targets(platformID, entityType string) ([]refreshTarget, error) {
	ids := c.clients.IDs()
	if platformID != "" {
		if _, ok := c.clients.Get(platformID); !ok {
			return nil, fmt.Errorf("%w: %s", platforms.ErrPlatformNotFound, platformID)
		}
		ids = []string{platformID}
	}
	types := c.opts.EntityTypes
	if entityType != "" {
		types = []string{entityType}
	}

	var out []refreshTarget
	for _, id := range ids {
		client, ok := c.clients.Get(id)
		if !ok {
			continue
		}
		lister, ok := client.(platforms.EntityLister)
		if !ok {
			c.log.Debugw("Platform cannot list entities, skipping refresh", "platform_id", id)
			continue
		}
		for _, t := range types {
			out = append(out, refreshTarget{platformID: id, entityType: t, lister: lister})
		}
	}
	return out, nil
}

func (c *Cache) refreshTargets(ctx context.Context, targets []refreshTarget) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	for _, t := range targets {
		g.Go(func() error {
			if err := c.refreshOne(ctx, t.platformID, t.entityType, t.lister); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func (c *Cache) refreshOne(ctx context.Context, platformID, entityType string, lister platforms.EntityLister) error {
	key := entryKey{platformID, entityType}

	_, err, shared := c.group.Do(platformID+"\x00"+entityType, func() (interface{}, error) {
		c.setRefreshing(key, true)

		// The refresh outlives a caller that gives up; joined callers still
		// need the result.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.RefreshTimeout)
		defer cancel()

		log := c.log.WithPlatform(platformID)
		fetchCtx, span := log.StartOperation(fetchCtx, "cache.refresh", "entity_type", entityType)
		start := time.Now()

		entities, err := lister.ListEntities(fetchCtx, entityType)
		if err != nil {
			c.fail(key, err)
			c.opts.Recorder.RecordCacheRefresh(ctx, platformID, entityType, false, 0)
			log.FinishOperation(fetchCtx, span, "cache.refresh", start, err, "entity_type", entityType)
			return nil, fmt.Errorf("refresh %s/%s: %w", platformID, entityType, err)
		}

		for _, e := range entities {
			e.StampPlatform(platformID)
		}
		refreshedAt := c.now()
		c.swap(key, entities, refreshedAt)
		c.opts.Recorder.RecordCacheRefresh(ctx, platformID, entityType, true, len(entities))
		log.FinishOperation(fetchCtx, span, "cache.refresh", start, nil,
			"entity_type", entityType,
			"entities", len(entities),
		)

		if c.opts.Store != nil {
			snap := Snapshot{PlatformID: platformID, EntityType: entityType, Entities: entities, RefreshedAt: refreshedAt}
			if err := c.opts.Store.Save(fetchCtx, snap); err != nil {
				c.log.Warnw("Failed to persist cache snapshot",
					"platform_id", platformID,
					"entity_type", entityType,
					"error", err,
				)
			}
		}
		return nil, nil
	})

	if shared {
		c.log.Debugw("Joined in-flight refresh", "platform_id", platformID, "entity_type", entityType)
	}
	return err
}

func (c *Cache) setRefreshing(key entryKey, refreshing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	e.isRefreshing = refreshing
}

func (c *Cache) fail(key entryKey, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	e.isRefreshing = false
	e.lastError = err.Error()
}

func (c *Cache) swap(key entryKey, entities []*platforms.Entity, refreshedAt time.Time) {
	next := buildEntry(entities, refreshedAt)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = next
}

func buildEntry(entities []*platforms.Entity, refreshedAt time.Time) *entry {
	e := &entry{
		entities:        entities,
		byKey:           make(map[string][]*platforms.Entity, len(entities)),
		byID:            make(map[string]*platforms.Entity, len(entities)),
		lastRefreshedAt: refreshedAt,
	}
	for _, ent := range entities {
		e.byID[ent.ID] = ent
		for _, k := range lookupKeys(ent) {
			e.byKey[k] = append(e.byKey[k], ent)
		}
	}
	return e
}

// lookupKeys are the lower-cased value, name and aliases of an entity.
func lookupKeys(e *platforms.Entity) []string {
	seen := make(map[string]bool, len(e.Aliases)+2)
	var keys []string
	for _, raw := range append([]string{e.Value, e.Name}, e.Aliases...) {
		k := strings.ToLower(strings.TrimSpace(raw))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}

// queryKeys normalizes a lookup: the refanged, lower-cased query first, then
// its defanged spellings. Cached values are never variant-expanded.
func queryKeys(value string) []string {
	q := strings.ToLower(defang.Refang(strings.TrimSpace(value)))
	if q == "" {
		return nil
	}
	return append([]string{q}, defang.GenerateDefangedVariants(q)...)
}

// orderedEntries returns entries in platform registration order, then by
// entity type, so lookups are deterministic.
func (c *Cache) orderedEntries() []entryKey {
	rank := make(map[string]int)
	for i, id := range c.clients.IDs() {
		rank[id] = i
	}

	keys := make([]entryKey, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, iok := rank[keys[i].platformID]
		rj, jok := rank[keys[j].platformID]
		if iok != jok {
			return iok
		}
		if ri != rj {
			return ri < rj
		}
		if keys[i].platformID != keys[j].platformID {
			return keys[i].platformID < keys[j].platformID
		}
		return keys[i].entityType < keys[j].entityType
	})
	return keys
}

// Lookup returns cached entities whose value, name or alias equals value.
// The query may be defanged or use a different case.
func (c *Cache) Lookup(value string) []*platforms.Entity {
	keys := queryKeys(value)
	if len(keys) == 0 {
		return []*platforms.Entity{}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := []*platforms.Entity{}
	seen := make(map[string]bool)
	for _, ek := range c.orderedEntries() {
		e := c.entries[ek]
		for _, k := range keys {
			for _, ent := range e.byKey[k] {
				id := ent.PlatformID + "\x00" + ent.ID
				if seen[id] {
					continue
				}
				seen[id] = true
				out = append(out, ent)
			}
		}
	}
	return out
}

// LookupID returns every cached entity with the given id.
func (c *Cache) LookupID(id string) []*platforms.Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := []*platforms.Entity{}
	for _, ek := range c.orderedEntries() {
		if ent, ok := c.entries[ek].byID[id]; ok {
			out = append(out, ent)
		}
	}
	return out
}

// Invalidate drops the snapshots of a platform, optionally for one entity
// type only.
func (c *Cache) Invalidate(ctx context.Context, platformID, entityType string) {
	c.mu.Lock()
	var dropped []entryKey
	for k := range c.entries {
		if k.platformID == platformID && (entityType == "" || k.entityType == entityType) {
			delete(c.entries, k)
			dropped = append(dropped, k)
		}
	}
	c.mu.Unlock()

	if c.opts.Store == nil {
		return
	}
	for _, k := range dropped {
		if err := c.opts.Store.Delete(ctx, k.platformID, k.entityType); err != nil {
			c.log.Warnw("Failed to delete cache snapshot", "platform_id", k.platformID, "entity_type", k.entityType, "error", err)
		}
	}
}

// Clear drops everything held in memory. Persisted snapshots are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[entryKey]*entry)
}

// IsStale reports whether the pair was never refreshed or is older than
// MaxAge. A zero MaxAge never goes stale once loaded.
func (c *Cache) IsStale(platformID, entityType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[entryKey{platformID, entityType}]
	if !ok || e.lastRefreshedAt.IsZero() {
		return true
	}
	return c.opts.MaxAge > 0 && c.now().Sub(e.lastRefreshedAt) > c.opts.MaxAge
}

// IsRefreshing reports whether any pair, or the given pair, is being
// refreshed.
func (c *Cache) IsRefreshing(platformID, entityType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for k, e := range c.entries {
		if (platformID == "" || k.platformID == platformID) &&
			(entityType == "" || k.entityType == entityType) && e.isRefreshing {
			return true
		}
	}
	return false
}

// AwaitIdle polls until no refresh is running. It gives up after the safety
// timeout even if ctx has no deadline.
func (c *Cache) AwaitIdle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.SafetyTimeout)
	defer cancel()

	ticker := time.NewTicker(awaitPollInterval)
	defer ticker.Stop()

	for c.IsRefreshing("", "") {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrSafetyTimeout
			}
			return ctx.Err()
		}
	}
	return nil
}

// StartAutoRefresh refreshes stale pairs immediately and then every
// interval until ctx is cancelled.
func (c *Cache) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			c.refreshStale(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// RefreshStale refreshes every stale (platform, entity type) pair
// concurrently and returns the joined failures.
func (c *Cache) RefreshStale(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	for _, id := range c.clients.IDs() {
		for _, t := range c.opts.EntityTypes {
			if !c.IsStale(id, t) {
				continue
			}
			g.Go(func() error {
				if err := c.Refresh(ctx, id, t); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (c *Cache) refreshStale(ctx context.Context) {
	if err := c.RefreshStale(ctx); err != nil {
		c.log.Warnw("Scheduled cache refresh failed", "error", err)
	}
}

// LoadSnapshots warms the cache from the snapshot store. Pairs already in
// memory are left alone.
func (c *Cache) LoadSnapshots(ctx context.Context) (int, error) {
	if c.opts.Store == nil {
		return 0, nil
	}

	loaded := 0
	for _, id := range c.clients.IDs() {
		for _, t := range c.opts.EntityTypes {
			snap, err := c.opts.Store.Load(ctx, id, t)
			if err != nil {
				return loaded, fmt.Errorf("failed to load snapshot %s/%s: %w", id, t, err)
			}
			if snap == nil {
				continue
			}

			key := entryKey{id, t}
			c.mu.Lock()
			if _, exists := c.entries[key]; !exists {
				c.entries[key] = buildEntry(snap.Entities, snap.RefreshedAt)
				loaded++
			}
			c.mu.Unlock()
		}
	}
	c.log.Infow("Loaded cache snapshots", "snapshots", loaded)
	return loaded, nil
}
