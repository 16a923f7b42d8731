package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"qms/walkin-queue/internal/config"
	"qms/walkin-queue/internal/httpapi"
	"qms/walkin-queue/internal/hub"
	"qms/walkin-queue/internal/queue"
	"qms/walkin-queue/internal/store"
	"qms/walkin-queue/internal/telemetry"
)

const serviceName = "walkin-queue"

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, live monitor feed and background reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return ctx.withStore(runCtx, func(cfg config.Config, st store.QueueStore) error {
				return serve(runCtx, cfg, st)
			})
		},
	}
}

func serve(ctx context.Context, cfg config.Config, st store.QueueStore) error {
	shutdownTelemetry := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: serviceName,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	svc, err := newService(cfg, st)
	if err != nil {
		return err
	}

	monitors := hub.New()
	relay := hub.NewRelay(st, monitors, hub.RelayOptions{
		PollInterval: cfg.MonitorPollInterval(),
		BatchSize:    cfg.MonitorBatchSize,
		Retention:    cfg.OutboxRetention(),
	})
	handler := httpapi.NewHandler(svc, st, httpapi.Options{Monitor: monitors.Handler("/monitor")})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:      cfg.RateLimitPerMinute,
		IPBurst:          cfg.RateLimitBurst,
		SessionPerMinute: cfg.RateLimitPerMinute,
		SessionBurst:     cfg.RateLimitBurst,
	})

	// No WriteTimeout: SockJS streaming transports hold the response open.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(handler.Routes())), serviceName),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go relay.Run(ctx)
	go runReconciler(ctx, svc, cfg.ReconcileInterval())

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("%s listening on %s driver=%s", serviceName, server.Addr, cfg.DBDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	return nil
}

// runReconciler closes stale NOW_SERVING entries on a timer in addition to the
// read-path hook. A non-positive interval disables it.
func runReconciler(ctx context.Context, svc *queue.Service, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if _, err := svc.ReconcileStaleServing(runCtx); err != nil {
				log.Printf("reconcile error: %v", err)
			}
			cancel()
		}
	}
}
