package api

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/CodeMonkeyCybersecurity/spotter/internal/config"
	"github.com/CodeMonkeyCybersecurity/spotter/internal/logger"
	"github.com/CodeMonkeyCybersecurity/spotter/internal/ratelimit"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"

	limiterPruneEvery = 5 * time.Minute
	limiterIdle       = 10 * time.Minute
)

// RequestIDMiddleware propagates the caller's X-Request-ID or assigns one,
// and stores a request-scoped logger in the request context.
func RequestIDMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)

		ctx := logger.WithLogger(c.Request.Context(), log.WithRequestID(id))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// LoggingMiddleware logs all HTTP requests
func LoggingMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		log.Infow("HTTP request",
			"method", method,
			"path", path,
			"status", statusCode,
			"duration_ms", duration.Milliseconds(),
			"ip", c.ClientIP(),
			"request_id", c.GetString(requestIDKey),
		)
	}
}

func allowedOrigin(origin string) bool {
	for _, prefix := range []string{
		"chrome-extension://",
		"moz-extension://",
		"safari-web-extension://",
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// CORSMiddleware enables CORS for browser extensions and local pages.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if allowedOrigin(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID")
			c.Header("Access-Control-Max-Age", "86400")
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// AuthMiddleware validates the bearer token. An empty key disables
// authentication, which is only sensible on a loopback listener.
func AuthMiddleware(expectedAPIKey string, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expectedAPIKey == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Warnw("Missing Authorization header",
				"path", c.Request.URL.Path,
				"ip", c.ClientIP(),
			)
			abortWithError(c, http.StatusUnauthorized, "Missing Authorization header")
			return
		}

		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			log.Warnw("Invalid Authorization format", "ip", c.ClientIP())
			abortWithError(c, http.StatusUnauthorized, "Invalid Authorization format. Expected: Bearer <token>")
			return
		}

		if token != expectedAPIKey {
			log.Warnw("Invalid API key",
				"ip", c.ClientIP(),
				"path", c.Request.URL.Path,
			)
			abortWithError(c, http.StatusUnauthorized, "Invalid API key")
			return
		}

		c.Next()
	}
}

// RateLimitMiddleware applies a token bucket per client IP.
func RateLimitMiddleware(cfg config.RateLimitConfig) gin.HandlerFunc {
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerSecond: float64(cfg.RequestsPerSecond),
		BurstSize:         cfg.BurstSize,
	})

	var lastPrune atomic.Int64
	lastPrune.Store(time.Now().UnixNano())

	return func(c *gin.Context) {
		now := time.Now().UnixNano()
		if last := lastPrune.Load(); now-last > int64(limiterPruneEvery) && lastPrune.CompareAndSwap(last, now) {
			limiter.Prune(limiterIdle)
		}

		if !limiter.Allow(c.ClientIP()) {
			abortWithError(c, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		c.Next()
	}
}

func abortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
