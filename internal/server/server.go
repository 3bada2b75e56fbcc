// Package server wires the services together and runs the process until
// its context is cancelled.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"triton/internal/clockcheck"
	"triton/internal/config"
	"triton/internal/httpapi"
	"triton/internal/ingest"
	"triton/internal/mission"
	"triton/internal/store"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
)

const shutdownGrace = 10 * time.Second

// Server holds everything Run needs.
type Server struct {
	cfg     config.Config
	store   *store.Store
	handler *httpapi.Handler
	sweeper *mission.Sweeper
	clock   *clockcheck.Checker
}

// Wire opens the store and assembles the services.
func Wire(cfg config.Config) (*Server, error) {
	path, err := config.SQLitePath(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(path, cfg.DBPoolSize)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var checker *clockcheck.Checker
	if cfg.NTPPool != "" {
		checker = clockcheck.NewChecker(cfg.NTPPool, time.Now)
	}

	h := &httpapi.Handler{
		Store:          st,
		Ingest:         &ingest.Service{Store: st},
		Gate:           &mission.Gate{Store: st, Freshness: cfg.DescentFreshness},
		Reconciler:     &mission.Reconciler{Store: st},
		ClockCheck:     checker,
		VehicleTimeout: cfg.VehicleTimeout,
		AdminReset:     cfg.AdminReset,
	}

	return &Server{
		cfg:     cfg,
		store:   st,
		handler: h,
		sweeper: &mission.Sweeper{Store: st, TTL: cfg.CommandTTL, Period: cfg.ExpireSweep},
		clock:   checker,
	}, nil
}

// Run blocks until ctx is cancelled, then shuts the listener down
// gracefully and closes the store.
func (s *Server) Run(ctx context.Context) error {
	defer s.store.Close()

	otel.SetTracerProvider(sdktrace.NewTracerProvider())

	httpSrv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s.handler.Router(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("listening", "addr", s.cfg.Listen)
		err := httpSrv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := s.sweeper.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if s.clock != nil {
		g.Go(func() error {
			s.clock.Run(ctx)
			return nil
		})
	}

	return g.Wait()
}

// Run wires and runs a server from cfg.
func Run(ctx context.Context, cfg config.Config) error {
	srv, err := Wire(cfg)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
