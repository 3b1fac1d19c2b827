// Package enrichment resolves scanned detections against connected platforms,
// consulting the entity cache first and falling back to live searches.
package enrichment

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CodeMonkeyCybersecurity/spotter/internal/logger"
	"github.com/CodeMonkeyCybersecurity/spotter/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/cache"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/defang"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/detection"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/platforms"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/types"
)

const (
	defaultConcurrency   = 8
	defaultSearchTimeout = 5 * time.Second
	defaultMemoTTL       = 5 * time.Minute
	defaultMemoSize      = 1000
)

// Options configures an Enricher. Zero values fall back to defaults; a
// negative MemoTTL disables memoization of live searches.
type Options struct {
	Concurrency         int
	SearchTimeout       time.Duration
	LiveSearch          bool
	MinEntityNameLength int
	MemoTTL             time.Duration
	MemoSize            int
}

// Result is the outcome of one scan. Text is only set for HTML input, where
// the offsets refer to the extracted text rather than the document.
type Result struct {
	Text        string                     `json:"text,omitempty" yaml:"text,omitempty"`
	Observables []types.DetectedObservable `json:"observables" yaml:"observables"`
	Entities    []types.DetectedEntity     `json:"entities" yaml:"entities"`
}

// Found counts detections with at least one platform match.
func (r *Result) Found() int {
	n := 0
	for _, o := range r.Observables {
		if o.Found {
			n++
		}
	}
	for _, e := range r.Entities {
		if e.Found {
			n++
		}
	}
	return n
}

// Enricher runs the scanner and attaches platform matches to what it finds.
// The cache and the client map are both optional.
type Enricher struct {
	scanner *detection.Scanner
	cache   *cache.Cache
	clients *platforms.ClientMap
	opts    Options
	memo    *searchMemo
}

func New(scanner *detection.Scanner, c *cache.Cache, clients *platforms.ClientMap, opts Options) *Enricher {
	if scanner == nil {
		scanner = detection.NewScanner(nil)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = defaultSearchTimeout
	}
	if opts.MemoTTL == 0 {
		opts.MemoTTL = defaultMemoTTL
	}
	if opts.MemoSize <= 0 {
		opts.MemoSize = defaultMemoSize
	}

	return &Enricher{
		scanner: scanner,
		cache:   c,
		clients: clients,
		opts:    opts,
		memo:    newSearchMemo(opts.MemoSize, opts.MemoTTL),
	}
}

// Process scans text and resolves every detection.
func (e *Enricher) Process(ctx context.Context, text string) (*Result, error) {
	return e.process(ctx, "", text, e.scanner.Scan(text))
}

// ProcessHTML extracts the visible text of document before processing it.
func (e *Enricher) ProcessHTML(ctx context.Context, document string) (*Result, error) {
	text, observables, err := e.scanner.ScanHTML(document)
	if err != nil {
		return nil, err
	}
	return e.process(ctx, text, text, observables)
}

func (e *Enricher) process(ctx context.Context, shownText, text string, observables []types.DetectedObservable) (result *Result, err error) {
	start := time.Now()
	log := logger.FromContext(ctx).WithComponent("enrichment")
	ctx, span := log.StartOperation(ctx, "enrichment.process", "observables", len(observables))
	defer func() {
		log.FinishOperation(ctx, span, "enrichment.process", start, err)
	}()

	if err = e.Resolve(ctx, observables); err != nil {
		return nil, err
	}

	var named []detection.NamedEntity
	if e.cache != nil {
		named = e.cache.NamedEntities()
	}
	entities := detection.FindEntities(text, named, e.opts.MinEntityNameLength)

	for _, o := range observables {
		log.LogDetection(ctx, string(o.Type), o.Value, o.IsDefanged, len(o.PlatformMatches))
	}

	result = &Result{Text: shownText, Observables: observables, Entities: entities}
	telemetry.FromContext(ctx).RecordScan(ctx, len(observables)+len(entities), time.Since(start))
	log.Debugw("Scan resolved",
		"observables", len(observables),
		"entities", len(entities),
		"found", result.Found(),
		"duration", time.Since(start).String(),
	)
	return result, nil
}

// Resolve attaches platform matches to observables in place. Observables
// sharing a refanged value are resolved once. Platform failures only leave
// detections unmatched; the returned error is the context's.
func (e *Enricher) Resolve(ctx context.Context, observables []types.DetectedObservable) error {
	groups := make(map[string][]int)
	var order []string
	for i, o := range observables {
		key := strings.ToLower(o.RefangedValue)
		if key == "" {
			continue
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	found := make([][]*platforms.Entity, len(order))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, key := range order {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			found[i] = e.lookup(gctx, key)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, key := range order {
		for _, ent := range found[i] {
			for _, idx := range groups[key] {
				observables[idx].AddMatch(ent.Match())
			}
		}
	}
	return ctx.Err()
}

func (e *Enricher) lookup(ctx context.Context, value string) []*platforms.Entity {
	if e.cache != nil {
		if hits := e.cache.Lookup(value); len(hits) > 0 {
			return hits
		}
	}
	if !e.opts.LiveSearch || e.clients == nil || e.clients.Len() == 0 {
		return nil
	}

	if hits, ok := e.memo.Get(value); ok {
		return hits
	}

	keys := queryKeys(value)
	var hits []*platforms.Entity
	for _, ent := range e.search(ctx, "", value) {
		if matchesAny(ent, keys) {
			hits = append(hits, ent)
		}
	}
	if ctx.Err() == nil {
		e.memo.Set(value, hits)
	}
	return hits
}

func (e *Enricher) search(ctx context.Context, platformID, query string) []*platforms.Entity {
	return platforms.SearchAcrossPlatforms(ctx, e.clients, platformID,
		func(ctx context.Context, c platforms.Client) ([]*platforms.Entity, error) {
			return c.SearchEntities(ctx, query)
		}, e.opts.SearchTimeout, "search")
}

// Search returns entities matching query: exact cache hits first, then the
// live search results of the selected platform (all when platformID is
// empty). Live results are not filtered.
func (e *Enricher) Search(ctx context.Context, query, platformID string) []*platforms.Entity {
	query = strings.TrimSpace(query)
	out := []*platforms.Entity{}
	if query == "" {
		return out
	}

	seen := make(map[string]bool)
	add := func(ent *platforms.Entity) {
		if platformID != "" && ent.PlatformID != platformID {
			return
		}
		k := ent.PlatformID + "\x00" + ent.ID
		if seen[k] {
			return
		}
		seen[k] = true
		out = append(out, ent)
	}

	if e.cache != nil {
		for _, ent := range e.cache.Lookup(query) {
			add(ent)
		}
	}
	if e.clients != nil && e.clients.Len() > 0 {
		for _, ent := range e.search(ctx, platformID, defang.Refang(query)) {
			add(ent)
		}
	}
	return out
}

// ErrEmptyID is returned by ResolveID when no id is given.
var ErrEmptyID = errors.New("entity id is required")

// IDResult is the outcome of resolving an entity id. Cached is set when the
// entities came from the entity cache and no platform was called.
type IDResult struct {
	Entities []*platforms.Entity       `json:"entities" yaml:"entities"`
	Errors   []platforms.PlatformError `json:"errors" yaml:"errors"`
	Cached   bool                      `json:"cached" yaml:"cached"`
}

// ResolveID finds the entity with the given id, optionally restricted to an
// entity type and a platform. Cached entities win; otherwise every selected
// platform is asked concurrently, a platform without the id contributes
// nothing and a failing one is listed in Errors.
func (e *Enricher) ResolveID(ctx context.Context, id, entityType, platformID string) (*IDResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrEmptyID
	}

	if e.cache != nil {
		var hits []*platforms.Entity
		for _, ent := range e.cache.LookupID(id) {
			if platformID != "" && ent.PlatformID != platformID {
				continue
			}
			if entityType != "" && !strings.EqualFold(ent.EntityType, entityType) {
				continue
			}
			hits = append(hits, ent)
		}
		if len(hits) > 0 {
			return &IDResult{Entities: hits, Errors: []platforms.PlatformError{}, Cached: true}, nil
		}
	}

	clients := e.clients
	if platformID != "" {
		_, client, err := platforms.GetTargetClientOrError(e.clients, platformID)
		if err != nil {
			return nil, err
		}
		clients = platforms.NewClientMap()
		clients.Register(platformID, client)
	} else if clients.Len() == 0 {
		return nil, platforms.ErrNoPlatforms
	}

	fetch := func(ctx context.Context, c platforms.Client) ([]*platforms.Entity, error) {
		ent, err := c.GetEntityByID(ctx, id, entityType)
		if errors.Is(err, platforms.ErrEntityNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if ent == nil {
			return nil, nil
		}
		return []*platforms.Entity{ent}, nil
	}

	r := platforms.FetchFromAllPlatforms(ctx, clients, fetch, e.opts.SearchTimeout, "get_entity")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &IDResult{Entities: r.Results, Errors: r.Errors}, nil
}

// ClearMemo forgets remembered live search outcomes. Call it after the
// platform set changes.
func (e *Enricher) ClearMemo() {
	e.memo.Clear()
}

func queryKeys(value string) map[string]bool {
	q := strings.ToLower(defang.Refang(strings.TrimSpace(value)))
	keys := map[string]bool{q: true}
	for _, v := range defang.GenerateDefangedVariants(q) {
		keys[v] = true
	}
	return keys
}

func matchesAny(ent *platforms.Entity, keys map[string]bool) bool {
	if keys[strings.ToLower(ent.Name)] || keys[strings.ToLower(ent.Value)] {
		return true
	}
	for _, a := range ent.Aliases {
		if keys[strings.ToLower(a)] {
			return true
		}
	}
	return false
}
