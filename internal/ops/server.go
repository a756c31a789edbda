// Package ops serves the operational HTTP endpoints of a running bot: health,
// live sessions and the link registry.
package ops

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/fieldaudit/internal/links"
	"github.com/zulandar/fieldaudit/internal/supervision"
	"go.uber.org/zap"
)

// SessionSource exposes the live supervision sessions.
type SessionSource interface {
	Len() int
	List() []supervision.SessionInfo
}

// LinkSource exposes the current link registry.
type LinkSource interface {
	Snapshot() links.Snapshot
}

// StartOpts holds configuration for the ops server.
type StartOpts struct {
	Sessions SessionSource
	Links    LinkSource
	Port     int
	Logger   *zap.Logger
	// Poll is the session stream poll interval (default 3s).
	Poll time.Duration
}

// NewRouter builds the gin engine with every ops route registered.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("ops: sessions is required")
	}
	if opts.Links == nil {
		return nil, fmt.Errorf("ops: links is required")
	}
	if opts.Poll <= 0 {
		opts.Poll = 3 * time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router, nil
}

// Start launches the ops HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("ops server listening", zap.Int("port", opts.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops: %w", err)
	}
	return nil
}
