// Package opencti talks to an OpenCTI instance over its GraphQL API.
package opencti

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/CodeMonkeyCybersecurity/spotter/internal/config"
	"github.com/CodeMonkeyCybersecurity/spotter/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/spotter/internal/logger"
	"github.com/CodeMonkeyCybersecurity/spotter/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/platforms"
)

const (
	searchPageSize = 25
	listPageSize   = 500
	maxListPages   = 20
)

// Client implements platforms.Client and platforms.EntityLister
type Client struct {
	config     config.PlatformConfig
	endpoint   string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	maxPages   int
}

// NewClient creates a new OpenCTI client
func NewClient(cfg config.PlatformConfig) *Client {
	httpCfg := httpclient.DefaultConfig()
	if cfg.Timeout > 0 {
		httpCfg.Timeout = cfg.Timeout
	}
	httpCfg.InsecureSkipVerify = cfg.InsecureSkipVerify

	return &Client{
		config:     cfg,
		endpoint:   strings.TrimRight(cfg.URL, "/") + "/graphql",
		httpClient: httpclient.New(httpCfg),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerSecond: float64(cfg.RateLimit.RequestsPerSecond),
			BurstSize:         cfg.RateLimit.BurstSize,
		}),
		maxPages: maxListPages,
	}
}

func (c *Client) Type() string {
	return config.PlatformTypeOpenCTI
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// query posts a GraphQL document and decodes its data member into out.
func (c *Client) query(ctx context.Context, document string, variables map[string]interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx, c.config.ID); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(graphQLRequest{Query: document, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("opencti request failed: %w", err)
	}
	defer httpclient.CloseBody(resp)

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opencti returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var envelope graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("opencti: %s", envelope.Errors[0].Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}
	return nil
}

// TestConnection validates the token and reads the platform version
func (c *Client) TestConnection(ctx context.Context) (*platforms.PlatformInfo, error) {
	var data struct {
		About struct {
			Version string `json:"version"`
		} `json:"about"`
		Me struct {
			Name      string `json:"name"`
			UserEmail string `json:"user_email"`
		} `json:"me"`
	}
	if err := c.query(ctx, aboutQuery, nil, &data); err != nil {
		return nil, err
	}

	user := data.Me.Name
	if user == "" {
		user = data.Me.UserEmail
	}
	return &platforms.PlatformInfo{
		Name:    c.config.Name,
		Type:    config.PlatformTypeOpenCTI,
		Version: data.About.Version,
		URL:     c.config.URL,
		User:    user,
	}, nil
}

// SearchEntities runs a full-text search over STIX core objects
func (c *Client) SearchEntities(ctx context.Context, query string) ([]*platforms.Entity, error) {
	var data struct {
		StixCoreObjects connection `json:"stixCoreObjects"`
	}
	vars := map[string]interface{}{"search": query, "first": searchPageSize}
	if err := c.query(ctx, searchQuery, vars, &data); err != nil {
		return nil, err
	}
	return data.StixCoreObjects.entities(), nil
}

// GetEntityByID fetches one STIX core object. OpenCTI resolves ids without
// the entity type.
func (c *Client) GetEntityByID(ctx context.Context, id, entityType string) (*platforms.Entity, error) {
	var data struct {
		StixCoreObject *node `json:"stixCoreObject"`
	}
	if err := c.query(ctx, entityQuery, map[string]interface{}{"id": id}, &data); err != nil {
		return nil, err
	}
	if data.StixCoreObject == nil {
		return nil, fmt.Errorf("%w: %s", platforms.ErrEntityNotFound, id)
	}
	return data.StixCoreObject.entity(), nil
}

// ListEntities pages through every object of entityType. Listing stops
// after maxPages pages; a catalog larger than that is returned truncated
// with a warning.
func (c *Client) ListEntities(ctx context.Context, entityType string) ([]*platforms.Entity, error) {
	var (
		out   []*platforms.Entity
		after interface{}
	)
	for page := 0; ; page++ {
		if page == c.maxPages {
			logger.FromContext(ctx).WithPlatform(c.config.ID).Warnw("Entity listing truncated",
				"entity_type", entityType,
				"pages", page,
				"entities", len(out),
			)
			break
		}

		var data struct {
			StixCoreObjects connection `json:"stixCoreObjects"`
		}
		vars := map[string]interface{}{
			"types": []string{entityType},
			"first": listPageSize,
			"after": after,
		}
		if err := c.query(ctx, listQuery, vars, &data); err != nil {
			return nil, fmt.Errorf("failed to list %s (page %d): %w", entityType, page, err)
		}

		out = append(out, data.StixCoreObjects.entities()...)
		info := data.StixCoreObjects.PageInfo
		if !info.HasNextPage || info.EndCursor == "" {
			break
		}
		after = info.EndCursor
	}
	return out, nil
}
