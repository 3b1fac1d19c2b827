package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CodeMonkeyCybersecurity/spotter/pkg/cache"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/detection"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/enrichment"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/platforms"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/types"
)

// statusClientClosedRequest is the nginx convention for a caller that went
// away before the response was ready.
const statusClientClosedRequest = 499

const (
	refreshStatusRunning   = "refreshing"
	refreshStatusCompleted = "completed"
)

// refreshWaitTimeout bounds how long a waiting refresh request is held. It
// stays below the server's write timeout.
var refreshWaitTimeout = 45 * time.Second

type ScanRequest struct {
	Text string `json:"text"`
	HTML bool   `json:"html"`
	// Resolve defaults to true.
	Resolve *bool `json:"resolve"`
}

type ClassifyRequest struct {
	Value string `json:"value" binding:"required"`
}

type ClassifyResponse struct {
	Value    string `json:"value"`
	Detected bool   `json:"detected"`
	detection.Classification
}

type SearchRequest struct {
	Query      string `json:"query" binding:"required"`
	PlatformID string `json:"platform_id"`
}

type SearchResponse struct {
	Results []*platforms.Entity `json:"results"`
}

type RefreshRequest struct {
	PlatformID string `json:"platform_id"`
	EntityType string `json:"entity_type"`
	// Wait holds the response until the refresh is done or
	// refreshWaitTimeout passes.
	Wait bool `json:"wait"`
}

type RefreshResponse struct {
	Status string      `json:"status"`
	Stats  cache.Stats `json:"stats"`
}

type ResolveRequest struct {
	ID         string `json:"id" binding:"required"`
	EntityType string `json:"entity_type"`
	PlatformID string `json:"platform_id"`
}

type PlatformSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) health(c *gin.Context) {
	stats := s.engine.Cache.Stats()
	c.JSON(http.StatusOK, gin.H{
		"healthy":          true,
		"platforms":        s.engine.Clients.Len(),
		"cached_entities":  stats.TotalEntities,
		"cache_refreshing": stats.Refreshing,
		"timestamp":        time.Now().Unix(),
	})
}

func (s *Server) scan(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.log.Warnw("Invalid request body", "error", err, "ip", c.ClientIP())
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx := s.engine.Context(c.Request.Context())
	resolve := req.Resolve == nil || *req.Resolve

	var (
		result *enrichment.Result
		err    error
	)
	switch {
	case !resolve && req.HTML:
		text, observables, scanErr := s.engine.Scanner.ScanHTML(req.Text)
		result, err = &enrichment.Result{Text: text, Observables: observables}, scanErr
	case !resolve:
		result = &enrichment.Result{Observables: s.engine.Scanner.Scan(req.Text)}
	case req.HTML:
		result, err = s.engine.Enricher.ProcessHTML(ctx, req.Text)
	default:
		result, err = s.engine.Enricher.Process(ctx, req.Text)
	}
	if err != nil {
		s.log.LogError(ctx, err, "api.scan")
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if result.Entities == nil {
		result.Entities = []types.DetectedEntity{}
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) classify(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	cl, ok := detection.Classify(s.engine.Registry, req.Value)
	c.JSON(http.StatusOK, ClassifyResponse{Value: req.Value, Detected: ok, Classification: cl})
}

func (s *Server) search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if _, _, err := platforms.GetTargetClientOrError(s.engine.Clients, req.PlatformID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	ctx := s.engine.Context(c.Request.Context())
	c.JSON(http.StatusOK, SearchResponse{Results: s.engine.Enricher.Search(ctx, req.Query, req.PlatformID)})
}

func (s *Server) testPlatform(c *gin.Context) {
	var req platforms.ConnectionTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	c.JSON(http.StatusOK, s.engine.TestConnection(c.Request.Context(), req))
}

func (s *Server) listPlatforms(c *gin.Context) {
	out := make([]PlatformSummary, 0, len(s.engine.Config.Platforms))
	for _, p := range s.engine.Config.Platforms {
		out = append(out, PlatformSummary{ID: p.ID, Name: p.Name, Type: p.Type, Enabled: p.Enabled})
	}
	c.JSON(http.StatusOK, gin.H{"platforms": out})
}

// refreshCache starts a background refresh and answers 202 right away,
// or 200 once it is done when the caller asked to wait.
func (s *Server) refreshCache(c *gin.Context) {
	var req RefreshRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}

	ctx := s.engine.Context(c.Request.Context())
	if err := s.engine.Cache.RefreshAsync(ctx, req.PlatformID, req.EntityType); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if !req.Wait {
		c.JSON(http.StatusAccepted, RefreshResponse{Status: refreshStatusRunning, Stats: s.engine.Cache.Stats()})
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, refreshWaitTimeout)
	defer cancel()

	err := s.engine.Cache.AwaitIdle(waitCtx)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, RefreshResponse{Status: refreshStatusCompleted, Stats: s.engine.Cache.Stats()})
	case errors.Is(err, cache.ErrSafetyTimeout):
		c.JSON(http.StatusAccepted, RefreshResponse{Status: refreshStatusRunning, Stats: s.engine.Cache.Stats()})
	default:
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
	}
}

func (s *Server) resolveEntity(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx := s.engine.Context(c.Request.Context())
	res, err := s.engine.Enricher.ResolveID(ctx, req.ID, req.EntityType, req.PlatformID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) cacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Cache.Stats())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, enrichment.ErrEmptyID):
		return http.StatusBadRequest
	case errors.Is(err, platforms.ErrPlatformNotFound):
		return http.StatusNotFound
	case errors.Is(err, platforms.ErrNoPlatforms):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	default:
		return http.StatusBadGateway
	}
}
