// Package openaev talks to an OpenAEV (adversarial exposure validation)
// instance over its REST API.
package openaev

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/CodeMonkeyCybersecurity/spotter/internal/config"
	"github.com/CodeMonkeyCybersecurity/spotter/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/spotter/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/platforms"
)

// Entity types exposed by OpenAEV.
const (
	TypeEndpoint      = "Endpoint"
	TypeAttackPattern = "Attack-Pattern"
)

const searchPageSize = 25

// Client implements platforms.Client and platforms.EntityLister
type Client struct {
	config     config.PlatformConfig
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
}

// NewClient creates a new OpenAEV client
func NewClient(cfg config.PlatformConfig) *Client {
	httpCfg := httpclient.DefaultConfig()
	if cfg.Timeout > 0 {
		httpCfg.Timeout = cfg.Timeout
	}
	httpCfg.InsecureSkipVerify = cfg.InsecureSkipVerify

	return &Client{
		config:     cfg,
		baseURL:    strings.TrimRight(cfg.URL, "/") + "/api",
		httpClient: httpclient.New(httpCfg),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerSecond: float64(cfg.RateLimit.RequestsPerSecond),
			BurstSize:         cfg.RateLimit.BurstSize,
		}),
	}
}

func (c *Client) Type() string {
	return config.PlatformTypeOpenAEV
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	if err := c.limiter.Wait(ctx, c.config.ID); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openaev request failed: %w", err)
	}
	defer httpclient.CloseBody(resp)

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("openaev %s: %w", path, errNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("openaev returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// TestConnection validates the token and reads the platform version
func (c *Client) TestConnection(ctx context.Context) (*platforms.PlatformInfo, error) {
	var me struct {
		UserEmail string `json:"user_email"`
	}
	if err := c.do(ctx, http.MethodGet, "/me", nil, &me); err != nil {
		return nil, err
	}

	var settings struct {
		PlatformName    string `json:"platform_name"`
		PlatformVersion string `json:"platform_version"`
	}
	if err := c.do(ctx, http.MethodGet, "/settings", nil, &settings); err != nil {
		return nil, err
	}

	name := c.config.Name
	if name == "" {
		name = settings.PlatformName
	}
	return &platforms.PlatformInfo{
		Name:    name,
		Type:    config.PlatformTypeOpenAEV,
		Version: settings.PlatformVersion,
		URL:     c.config.URL,
		User:    me.UserEmail,
	}, nil
}

type searchInput struct {
	TextSearch string `json:"textSearch"`
	Page       int    `json:"page"`
	Size       int    `json:"size"`
}

// SearchEntities searches endpoints, then attack patterns.
func (c *Client) SearchEntities(ctx context.Context, query string) ([]*platforms.Entity, error) {
	input := searchInput{TextSearch: query, Size: searchPageSize}

	var endpoints page[endpoint]
	if err := c.do(ctx, http.MethodPost, "/endpoints/search", input, &endpoints); err != nil {
		return nil, fmt.Errorf("failed to search endpoints: %w", err)
	}

	var patterns page[attackPattern]
	if err := c.do(ctx, http.MethodPost, "/attack_patterns/search", input, &patterns); err != nil {
		return nil, fmt.Errorf("failed to search attack patterns: %w", err)
	}

	out := make([]*platforms.Entity, 0, len(endpoints.Content)+len(patterns.Content))
	for _, e := range endpoints.Content {
		out = append(out, e.entity())
	}
	for _, p := range patterns.Content {
		out = append(out, p.entity())
	}
	return out, nil
}

// GetEntityByID needs entityType because OpenAEV ids are per collection.
func (c *Client) GetEntityByID(ctx context.Context, id, entityType string) (*platforms.Entity, error) {
	escaped := url.PathEscape(id)
	switch entityType {
	case "":
		for _, t := range []string{TypeEndpoint, TypeAttackPattern} {
			e, err := c.GetEntityByID(ctx, id, t)
			if !errors.Is(err, errNotFound) {
				return e, err
			}
		}
		return nil, fmt.Errorf("openaev %s: %w", id, errNotFound)
	case TypeEndpoint:
		var e endpoint
		if err := c.do(ctx, http.MethodGet, "/endpoints/"+escaped, nil, &e); err != nil {
			return nil, err
		}
		return e.entity(), nil
	case TypeAttackPattern:
		var p attackPattern
		if err := c.do(ctx, http.MethodGet, "/attack_patterns/"+escaped, nil, &p); err != nil {
			return nil, err
		}
		return p.entity(), nil
	default:
		return nil, fmt.Errorf("openaev holds no %s entities: %w", entityType, errNotFound)
	}
}

// ListEntities returns every endpoint or attack pattern. Other types are
// not held by OpenAEV and yield nothing.
func (c *Client) ListEntities(ctx context.Context, entityType string) ([]*platforms.Entity, error) {
	switch entityType {
	case TypeEndpoint:
		var list []endpoint
		if err := c.do(ctx, http.MethodGet, "/endpoints", nil, &list); err != nil {
			return nil, err
		}
		out := make([]*platforms.Entity, 0, len(list))
		for _, e := range list {
			out = append(out, e.entity())
		}
		return out, nil
	case TypeAttackPattern:
		var list []attackPattern
		if err := c.do(ctx, http.MethodGet, "/attack_patterns", nil, &list); err != nil {
			return nil, err
		}
		out := make([]*platforms.Entity, 0, len(list))
		for _, p := range list {
			out = append(out, p.entity())
		}
		return out, nil
	default:
		return []*platforms.Entity{}, nil
	}
}
