// Package app wires the cockpit's long-running pieces together: the
// scheduled reconciliation loop and the HTTP API server, with coordinated
// startup and graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"fxcockpit/internal/ports"
	"fxcockpit/internal/reconcile"
	"fxcockpit/internal/terminal"
)

// Service runs the cockpit until its context is cancelled.
type Service struct {
	manager      *terminal.Manager
	engine       *reconcile.Engine
	handler      http.Handler
	logger       ports.Logger
	clk          clock.Clock
	httpAddr     string
	syncInterval time.Duration

	wg sync.WaitGroup
}

// Config holds the service's dependencies.
type Config struct {
	Manager      *terminal.Manager
	Engine       *reconcile.Engine
	Handler      http.Handler
	Logger       ports.Logger
	Clock        clock.Clock // Defaults to the real clock
	HTTPAddr     string
	SyncInterval time.Duration
}

// NewService validates dependencies and creates the service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Manager == nil || cfg.Engine == nil || cfg.Handler == nil || cfg.Logger == nil {
		return nil, errors.New("missing required dependencies for service")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	syncInterval := cfg.SyncInterval
	if syncInterval <= 0 {
		syncInterval = 5 * time.Minute
	}
	httpAddr := cfg.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8000"
	}
	return &Service{
		manager:      cfg.Manager,
		engine:       cfg.Engine,
		handler:      cfg.Handler,
		logger:       cfg.Logger,
		clk:          clk,
		httpAddr:     httpAddr,
		syncInterval: syncInterval,
	}, nil
}

// Run starts the HTTP server and the sync loop and blocks until ctx is
// cancelled or the server fails. Shutdown is graceful: in-flight requests
// get a drain window and the terminal connection is released.
func (s *Service) Run(ctx context.Context) error {
	// Best effort: the loop and every API call re-attempt on demand, so a
	// terminal that is down at boot does not prevent startup.
	if s.manager.Initialize(ctx) {
		s.logger.Info(ctx, "Terminal connection established at startup")
	} else {
		s.logger.Warn(ctx, "Terminal not reachable at startup, will keep retrying")
	}

	srv := &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info(ctx, "HTTP API listening", map[string]interface{}{"addr": s.httpAddr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.syncLoop(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info(context.Background(), "Shutdown requested")
	case err := <-errCh:
		runErr = fmt.Errorf("http server failed: %w", err)
		s.logger.Error(context.Background(), runErr, "HTTP server stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error(shutdownCtx, err, "HTTP server shutdown failed")
	}

	s.manager.Shutdown(shutdownCtx)
	s.manager.Close()

	s.wg.Wait()
	s.logger.Info(context.Background(), "Service stopped")
	return runErr
}

// syncLoop reconciles on a fixed period. An immediate pass runs at startup
// so the journal is fresh without waiting a full interval.
func (s *Service) syncLoop(ctx context.Context) {
	s.runSync(ctx)

	ticker := s.clk.Ticker(s.syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runSync(ctx)
		}
	}
}

func (s *Service) runSync(ctx context.Context) {
	res, err := s.engine.Sync(ctx)
	if err != nil {
		s.logger.Warn(ctx, "Scheduled sync pass failed", map[string]interface{}{"error": err.Error()})
		return
	}
	s.logger.Debug(ctx, "Scheduled sync pass done", map[string]interface{}{
		"updated": res.Updated, "skipped": res.Skipped,
	})
}
