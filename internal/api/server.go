// Package api exposes the engine over HTTP for the browser extension and
// other local callers.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CodeMonkeyCybersecurity/spotter/internal/engine"
	"github.com/CodeMonkeyCybersecurity/spotter/internal/logger"
)

const maxBodyBytes = 8 << 20

type Server struct {
	engine *engine.Engine
	log    *logger.Logger
}

// NewRouter builds the gin router with middleware and all routes.
func NewRouter(e *engine.Engine) *gin.Engine {
	log := e.Logger.WithComponent("api")
	s := &Server{engine: e, log: log}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware(log))
	router.Use(LoggingMiddleware(log))
	router.Use(CORSMiddleware())

	router.GET("/health", s.health)

	v1 := router.Group("/api/v1")
	v1.Use(AuthMiddleware(e.Config.Server.APIKey, log))
	v1.Use(RateLimitMiddleware(e.Config.Server.RateLimit))
	{
		v1.POST("/scan", s.scan)
		v1.POST("/classify", s.classify)
		v1.POST("/search", s.search)
		v1.POST("/entities/resolve", s.resolveEntity)
		v1.POST("/platforms/test", s.testPlatform)
		v1.GET("/platforms", s.listPlatforms)
		v1.POST("/cache/refresh", s.refreshCache)
		v1.GET("/cache/stats", s.cacheStats)
	}

	return router
}

// ListenAndServe runs the API until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, e *engine.Engine) error {
	cfg := e.Config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:           addr,
		Handler:        NewRouter(e),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	if cfg.APIKey == "" {
		e.Logger.Warnw("API authentication disabled", "address", addr)
	}

	serverErrors := make(chan error, 1)
	go func() {
		e.Logger.Infow("HTTP server listening", "address", addr)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		e.Logger.Infow("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		e.Logger.Infow("Server shutdown complete")
		return nil
	}
}
