package enrichment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/spotter/pkg/cache"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/platforms"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/types"
)

type stubClient struct {
	mu       sync.Mutex
	listed   map[string][]*platforms.Entity
	searched []*platforms.Entity
	byID     map[string]*platforms.Entity
	err      error
	searches atomic.Int32
	queries  []string
}

func (s *stubClient) Type() string { return "stub" }

func (s *stubClient) SearchEntities(_ context.Context, query string) ([]*platforms.Entity, error) {
	s.searches.Add(1)
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return copyEntities(s.searched), nil
}

func (s *stubClient) GetEntityByID(_ context.Context, id, _ string) (*platforms.Entity, error) {
	if s.err != nil {
		return nil, s.err
	}
	ent, ok := s.byID[id]
	if !ok {
		return nil, platforms.ErrEntityNotFound
	}
	c := *ent
	return &c, nil
}

func (s *stubClient) TestConnection(context.Context) (*platforms.PlatformInfo, error) {
	return &platforms.PlatformInfo{Name: "stub"}, nil
}

func (s *stubClient) ListEntities(_ context.Context, entityType string) ([]*platforms.Entity, error) {
	return copyEntities(s.listed[entityType]), nil
}

func copyEntities(in []*platforms.Entity) []*platforms.Entity {
	out := make([]*platforms.Entity, 0, len(in))
	for _, e := range in {
		c := *e
		out = append(out, &c)
	}
	return out
}

func cachedClient() *stubClient {
	return &stubClient{listed: map[string][]*platforms.Entity{
		"Domain-Name": {{ID: "d1", EntityType: "Domain-Name", Value: "evil.example.com"}},
		"Malware":     {{ID: "m1", EntityType: "Malware", Name: "Emotet", Aliases: []string{"Heodo"}}},
	}}
}

func setup(t *testing.T, client *stubClient, opts Options) *Enricher {
	t.Helper()
	clients := platforms.NewClientMap()
	clients.Register("octi", client)
	c := cache.New(clients, cache.Options{EntityTypes: []string{"Domain-Name", "Malware"}})
	require.NoError(t, c.Refresh(context.Background(), "", ""))
	return New(nil, c, clients, opts)
}

func TestProcessResolvesFromCache(t *testing.T) {
	client := cachedClient()
	e := setup(t, client, Options{LiveSearch: true})

	res, err := e.Process(context.Background(), "beacon to evil[.]example[.]com and 8.8.8.8")
	require.NoError(t, err)
	require.Len(t, res.Observables, 2)

	domain := res.Observables[0]
	assert.Equal(t, types.ObservableDomain, domain.Type)
	assert.True(t, domain.Found)
	require.Len(t, domain.PlatformMatches, 1)
	assert.Equal(t, "octi", domain.PlatformMatches[0].PlatformID)
	assert.Equal(t, "d1", domain.PlatformMatches[0].EntityID)

	// The IP is not cached, so it went to a live search that found nothing.
	assert.False(t, res.Observables[1].Found)
	assert.Equal(t, int32(1), client.searches.Load())
	assert.Equal(t, []string{"8.8.8.8"}, client.queries)
	assert.Empty(t, res.Text)
}

func TestProcessLiveSearchFallback(t *testing.T) {
	client := &stubClient{searched: []*platforms.Entity{
		{ID: "ip1", EntityType: "IPv4-Addr", Value: "8.8.8.8"},
		{ID: "ip2", EntityType: "IPv4-Addr", Value: "8.8.8.88"},
	}}
	e := setup(t, client, Options{LiveSearch: true})

	res, err := e.Process(context.Background(), "8.8.8.8 then 8[.]8[.]8[.]8 again")
	require.NoError(t, err)
	require.Len(t, res.Observables, 2)
	for _, o := range res.Observables {
		assert.True(t, o.Found)
		require.Len(t, o.PlatformMatches, 1)
		assert.Equal(t, "ip1", o.PlatformMatches[0].EntityID)
	}
	assert.Equal(t, int32(1), client.searches.Load(), "same refanged value is searched once")

	_, err = e.Process(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, int32(1), client.searches.Load(), "second scan served from memo")

	e.ClearMemo()
	_, err = e.Process(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, int32(2), client.searches.Load())
}

func TestProcessWithoutLiveSearch(t *testing.T) {
	client := &stubClient{searched: []*platforms.Entity{{ID: "ip1", Value: "8.8.8.8"}}}
	e := setup(t, client, Options{})

	res, err := e.Process(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	require.Len(t, res.Observables, 1)
	assert.False(t, res.Observables[0].Found)
	assert.NotNil(t, res.Observables[0].PlatformMatches)
	assert.Zero(t, client.searches.Load())
}

func TestProcessPlatformFailureLeavesUnmatched(t *testing.T) {
	client := &stubClient{err: errors.New("503 service unavailable")}
	e := setup(t, client, Options{LiveSearch: true})

	res, err := e.Process(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	require.Len(t, res.Observables, 1)
	assert.False(t, res.Observables[0].Found)
}

func TestProcessFindsNamedEntities(t *testing.T) {
	e := setup(t, cachedClient(), Options{})

	res, err := e.Process(context.Background(), "The heodo loader, better known as Emotet, returned.")
	require.NoError(t, err)
	require.Len(t, res.Entities, 2)

	assert.Equal(t, "heodo", res.Entities[0].MatchedValue)
	assert.Equal(t, "Emotet", res.Entities[1].MatchedValue)
	for _, ent := range res.Entities {
		assert.Equal(t, "Emotet", ent.Name)
		assert.True(t, ent.Found)
		require.Len(t, ent.PlatformMatches, 1)
		assert.Equal(t, "m1", ent.PlatformMatches[0].EntityID)
	}
	assert.Equal(t, 2, res.Found())
}

func TestProcessHTML(t *testing.T) {
	e := setup(t, cachedClient(), Options{})

	doc := `<html><head><title>evil.example.com</title></head>
<body><table><tr><td>evil.example.com</td><td>Emotet</td></tr></table></body></html>`
	res, err := e.ProcessHTML(context.Background(), doc)
	require.NoError(t, err)

	require.Len(t, res.Observables, 1)
	assert.True(t, res.Observables[0].Found)
	require.Len(t, res.Entities, 1)

	o := res.Observables[0]
	assert.Equal(t, "evil.example.com", res.Text[o.StartIndex:o.EndIndex])
	assert.True(t, strings.Contains(res.Text, "Emotet"))
}

func TestProcessCancelledContext(t *testing.T) {
	client := &stubClient{}
	e := setup(t, client, Options{LiveSearch: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Process(ctx, "8.8.8.8")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, client.searches.Load())
}

func TestProcessWithoutCacheOrPlatforms(t *testing.T) {
	e := New(nil, nil, nil, Options{LiveSearch: true})

	res, err := e.Process(context.Background(), "evil[.]example[.]com")
	require.NoError(t, err)
	require.Len(t, res.Observables, 1)
	assert.False(t, res.Observables[0].Found)
	assert.Empty(t, res.Entities)
}

func TestSearch(t *testing.T) {
	client := cachedClient()
	client.searched = []*platforms.Entity{
		{ID: "d1", EntityType: "Domain-Name", Value: "evil.example.com"},
		{ID: "d2", EntityType: "Domain-Name", Value: "evil.example.com.au"},
	}
	e := setup(t, client, Options{})

	t.Run("cache then live", func(t *testing.T) {
		got := e.Search(context.Background(), "evil[.]example[.]com", "")
		require.Len(t, got, 2)
		assert.Equal(t, "d1", got[0].ID)
		assert.Equal(t, "d2", got[1].ID)
		assert.Equal(t, "evil.example.com", client.queries[len(client.queries)-1])
	})

	t.Run("unknown platform", func(t *testing.T) {
		assert.Empty(t, e.Search(context.Background(), "evil.example.com", "missing"))
	})

	t.Run("blank query", func(t *testing.T) {
		before := client.searches.Load()
		assert.Empty(t, e.Search(context.Background(), "   ", ""))
		assert.Equal(t, before, client.searches.Load())
	})
}

func TestSearchMemo(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m := newSearchMemo(2, time.Minute)
	m.now = func() time.Time { return now }

	m.Set("a", nil)
	got, ok := m.Get("a")
	assert.True(t, ok)
	assert.Nil(t, got)

	now = now.Add(2 * time.Minute)
	_, ok = m.Get("a")
	assert.False(t, ok)

	m.Set("b", nil)
	m.Set("c", nil)
	assert.Len(t, m.entries, 2, "expired entry evicted first")

	m.Set("d", nil)
	assert.Len(t, m.entries, 2)

	disabled := newSearchMemo(10, -1)
	disabled.Set("a", nil)
	_, ok = disabled.Get("a")
	assert.False(t, ok)
}

func TestResolveID(t *testing.T) {
	ctx := context.Background()

	t.Run("cache hit", func(t *testing.T) {
		e := setup(t, cachedClient(), Options{})

		res, err := e.ResolveID(ctx, "m1", "", "")
		require.NoError(t, err)
		assert.True(t, res.Cached)
		require.Len(t, res.Entities, 1)
		assert.Equal(t, "Emotet", res.Entities[0].Name)
		assert.Equal(t, "octi", res.Entities[0].PlatformID)
	})

	t.Run("type filter skips cache", func(t *testing.T) {
		e := setup(t, cachedClient(), Options{})

		res, err := e.ResolveID(ctx, "m1", "Domain-Name", "")
		require.NoError(t, err)
		assert.False(t, res.Cached)
		assert.Empty(t, res.Entities)
		assert.Empty(t, res.Errors)
	})

	clients := platforms.NewClientMap()
	clients.Register("a", &stubClient{byID: map[string]*platforms.Entity{
		"x1": {ID: "x1", EntityType: "Intrusion-Set", Name: "APT28"},
	}})
	clients.Register("b", &stubClient{err: errors.New("503 service unavailable")})
	clients.Register("c", &stubClient{})
	live := New(nil, nil, clients, Options{SearchTimeout: time.Second})

	t.Run("live fan-out with partial failure", func(t *testing.T) {
		res, err := live.ResolveID(ctx, " x1 ", "", "")
		require.NoError(t, err)
		assert.False(t, res.Cached)
		require.Len(t, res.Entities, 1)
		assert.Equal(t, "a", res.Entities[0].PlatformID)
		assert.Equal(t, "APT28", res.Entities[0].Name)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, "b", res.Errors[0].PlatformID)
		assert.Equal(t, "503 service unavailable", res.Errors[0].Message)
	})

	t.Run("single platform", func(t *testing.T) {
		res, err := live.ResolveID(ctx, "x1", "", "c")
		require.NoError(t, err)
		assert.Empty(t, res.Entities)
		assert.Empty(t, res.Errors)

		_, err = live.ResolveID(ctx, "x1", "", "missing")
		assert.ErrorIs(t, err, platforms.ErrPlatformNotFound)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := live.ResolveID(ctx, "  ", "", "")
		assert.ErrorIs(t, err, ErrEmptyID)

		_, err = New(nil, nil, nil, Options{}).ResolveID(ctx, "x1", "", "")
		assert.ErrorIs(t, err, platforms.ErrNoPlatforms)
	})
}
