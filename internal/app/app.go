package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"airlock/server/buildinfo"
	servernet "airlock/server/internal/net"
	"airlock/server/internal/replay"
	"airlock/server/internal/room"
	"airlock/server/internal/sim"
	"airlock/server/internal/telemetry"
	"airlock/server/logging"
	loggingSinks "airlock/server/logging/sinks"
)

// Run wires the server together and blocks until ctx is cancelled or the
// listener fails.
func Run(ctx context.Context) error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	telemetryLogger := telemetry.WrapLogger(log.Default())

	logConfig := logging.DefaultConfig()
	logConfig.BufferSize = cfg.LogBufferSize
	if cfg.LogDebug {
		logConfig.MinimumSeverity = logging.SeverityDebug
	}
	router, err := logging.NewRouter(nil, logConfig, []logging.NamedSink{
		{Name: "console", Sink: loggingSinks.NewConsoleSink(os.Stdout, logConfig.Console)},
	})
	if err != nil {
		return fmt.Errorf("construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	metrics := logging.NewMetrics()

	store, err := replay.OpenStore(cfg.ReplayDBPath)
	if err != nil {
		return fmt.Errorf("open replay store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			telemetryLogger.Printf("failed to close replay store: %v", cerr)
		}
	}()

	hub := room.NewHub(room.Config{
		TickRate:     cfg.TickRate,
		FrameHorizon: cfg.FrameHorizon,
		FlushEvery:   cfg.ReplayFlushEvery,
		Settings:     sim.DefaultSettings(),
	}, room.Deps{
		Logger:    telemetryLogger,
		Metrics:   telemetry.WrapMetrics(metrics),
		Publisher: router,
		Store:     store,
	})
	defer hub.Close()

	handler := servernet.NewHTTPHandler(hub, store, servernet.HTTPHandlerConfig{
		ClientDir: cfg.ClientDir,
		TickRate:  cfg.TickRate,
		Logger:    telemetryLogger,
		Metrics:   metrics,
		Publisher: router,
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: handler}
	telemetryLogger.Printf("airlock server %s listening on %s", buildinfo.Version(), cfg.Addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutMS)*time.Millisecond)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	}
}
