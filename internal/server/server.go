// Package server exposes the dispatcher and conversation store over HTTP.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zulandar/switchyard/internal/config"
	"github.com/zulandar/switchyard/internal/dispatch"
	"github.com/zulandar/switchyard/internal/memory"
	"github.com/zulandar/switchyard/internal/metrics"
	"github.com/zulandar/switchyard/internal/registry"
	"go.uber.org/zap"
)

// Opts holds the dependencies of the HTTP API.
type Opts struct {
	Dispatcher *dispatch.Dispatcher
	Store      *memory.Store
	Registry   *registry.Registry
	Config     config.ServerConfig

	Metrics  *metrics.Metrics    // optional
	Gatherer prometheus.Gatherer // serves /metrics; nil uses the default registry
	Logger   *zap.Logger         // optional
}

// StartOpts holds configuration for Start.
type StartOpts struct {
	Opts
	Out io.Writer
}

// NewRouter builds the gin engine with every route and middleware.
func NewRouter(opts Opts) (*gin.Engine, error) {
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("server: dispatcher is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("server: registry is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	cfg := opts.Config
	if cfg.UserIDHeader == "" {
		cfg.UserIDHeader = "X-User-Id"
	}
	if cfg.UserNameHeader == "" {
		cfg.UserNameHeader = "X-User-Name"
	}
	if cfg.UserRoleHeader == "" {
		cfg.UserRoleHeader = "X-User-Role"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(recovery(opts.Logger), requestID(), accessLog(opts.Logger, opts.Metrics))
	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.New(corsConfig(cfg)))
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	h := &handlers{
		dispatcher: opts.Dispatcher,
		store:      opts.Store,
		registry:   opts.Registry,
	}
	agents := router.Group("/agents",
		identity(cfg),
		rateLimit(newRateLimiter(cfg.RateLimitPerMin, cfg.RateBurst), opts.Metrics),
	)
	h.register(agents)
	return router, nil
}

func corsConfig(cfg config.ServerConfig) cors.Config {
	c := cors.DefaultConfig()
	c.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	c.AllowHeaders = []string{"Origin", "Content-Type", "Authorization",
		cfg.UserIDHeader, cfg.UserNameHeader, cfg.UserRoleHeader}
	c.ExposeHeaders = []string{requestIDHeader}
	for _, o := range cfg.CORSOrigins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = cfg.CORSOrigins
	return c
}

// Start serves the API on opts.Config.Port. It blocks until ctx is
// cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts.Opts)
	if err != nil {
		return err
	}
	port := opts.Config.Port
	if port <= 0 {
		port = 3000
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Switchyard API listening on http://localhost:%d\n", port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
