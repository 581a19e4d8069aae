// Package httpapi wires the HTTP transport (Gin) to the submission service,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, rate limiting and the static site.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-venue-backend/docs" // swagger spec registration
	"github.com/tbourn/go-venue-backend/internal/config"
	"github.com/tbourn/go-venue-backend/internal/http/handlers"
	"github.com/tbourn/go-venue-backend/internal/http/middleware"
	"github.com/tbourn/go-venue-backend/internal/repo"
)

// idemRepoShim adapts the repository free functions to the handler's
// IdempotencyStore and the middleware's lookup.
type idemRepoShim struct{ db *gorm.DB }

// Reserve proxies repo.ReserveIdempotency.
func (s idemRepoShim) Reserve(ctx context.Context, key string, ttl time.Duration) error {
	err := repo.ReserveIdempotency(ctx, s.db, key, ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return handlers.ErrKeyInUse
	}
	return err
}

// Remember proxies repo.CompleteIdempotency. A duplicate means the
// reservation was lost and another request now owns the key.
func (s idemRepoShim) Remember(ctx context.Context, key string, status int, success bool, message string, ttl time.Duration) error {
	if err := repo.CompleteIdempotency(ctx, s.db, key, status, success, message, ttl); err != nil && !errors.Is(err, repo.ErrDuplicate) {
		return err
	}
	return nil
}

// Release proxies repo.ReleaseIdempotency.
func (s idemRepoShim) Release(ctx context.Context, key string) error {
	return repo.ReleaseIdempotency(ctx, s.db, key)
}

// Lookup proxies repo.GetIdempotency. Pending reservations have nothing to
// replay yet.
func (s idemRepoShim) Lookup(ctx context.Context, key string, now time.Time) (*middleware.StoredResponse, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, key, now)
	if err != nil {
		return nil, err
	}
	if rec.Pending() {
		return nil, nil
	}
	return &middleware.StoredResponse{Status: rec.Status, Success: rec.Success, Message: rec.Message}, nil
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. db may be nil, which disables idempotent replay.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger (or Logger when LOG_REDACT=false)
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and security headers
//  8. gzip, then the static site (if STATIC_DIR is set)
//
// The API group additionally runs the idempotency validator and the per-IP
// rate limiter, in that order so replays bypass limiting.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, svc handlers.SubmissionService, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging, with PII redaction unless disabled
	if cfg.LogRedact {
		r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	} else {
		r.Use(middleware.Logger())
	}

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	r.Use(limitBody(cfg.MaxBodyBytes))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture and security headers
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:            cfg.Security.EnableHSTS,
		HSTSMaxAge:            cfg.Security.HSTSMaxAge,
		EnablePolicy:          true,
		ContentSecurityPolicy: cfg.Security.CSP,
		SkipCSPPrefix:         cfg.APIBasePath,
	}))

	// 8) Compression and the marketing site
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	if cfg.StaticDir != "" {
		r.Use(static.Serve("/", static.LocalFile(cfg.StaticDir, false)))
	}

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.MsgNotFound)
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.MsgMethodNotAllowed)
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: handler ← service, idempotency ← db
	var (
		store  handlers.IdempotencyStore
		lookup middleware.IdempotencyLookup
	)
	if db != nil {
		shim := idemRepoShim{db: db}
		store, lookup = shim, shim.Lookup
	}
	contact := handlers.NewContactHandler(svc, store, cfg.IdempotencyTTL)

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, lookup))
	api.Use(middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP()).ForMethods(http.MethodPost).Handler())
	{
		// Every verb reaches the handler so non-POST gets the form's 405 body.
		api.Any("/contact", contact.Submit)
	}
}

// corsMiddleware returns the CORS chain: allow all origins when none are
// configured, otherwise echo allowlisted origins.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", middleware.HeaderIdempotencyKey},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length", middleware.HeaderIdempotencyReplayed},
		MaxAge:        12 * time.Hour,
	}

	if len(origins) == 0 {
		base.AllowAllOrigins = true // AllowCredentials must remain false
		return []gin.HandlerFunc{
			// Force ACAO: * even for requests without an Origin header (helps simple health checks).
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	base.AllowOrigins = origins
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(base),
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
