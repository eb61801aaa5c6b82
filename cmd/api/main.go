package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"analyzer-backend/internal/bootstrap"
	"analyzer-backend/internal/shared/config"
	"analyzer-backend/internal/shared/server"
	"analyzer-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.Setup(telemetry.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "api"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.RoleAPI)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	srv := &http.Server{
		Addr:    server.Addr(cfg.Port),
		Handler: app.Router,
	}

	errCh := make(chan error, 1)
	go func() {
		telemetry.Info("api.started", map[string]any{"addr": srv.Addr, "env": cfg.Env})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
		return
	case <-ctx.Done():
	}

	telemetry.Info("api.shutdown", map[string]any{"timeout": cfg.ShutdownTimeout.String()})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		telemetry.Error("api.shutdown_failed", map[string]any{"error": err})
	}
}
