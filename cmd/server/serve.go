package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"intake/internal/platform/httpserver"
	"intake/internal/submission/handler"
	"intake/internal/webhook"
)

func serveCmd() *cobra.Command {
	var bootstrap bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and webhook receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, bootstrap)
		},
	}
	cmd.Flags().BoolVar(&bootstrap, "bootstrap", true, "create index collections and reseed reference data on start")
	return cmd
}

func runServe(ctx context.Context, bootstrap bool) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if bootstrap {
		if err := a.store.Bootstrap(ctx); err != nil {
			return err
		}
	}
	if a.cfg.GitHub.WebhookSecret == "" {
		a.log.Warn("GITHUB_WEBHOOK_SECRET not set, every webhook delivery will be rejected")
	}

	hook := webhook.New(a.cfg.GitHub.WebhookSecret, a.orchestrator,
		webhook.WithDeduper(a.deduper),
		webhook.WithLogger(a.log),
		webhook.WithMetrics(a.metrics),
	)
	h := handler.New(a.orchestrator, a.store, a.emitter, a.log, a.metrics,
		handler.WithWebhook(hook),
		handler.WithHealth(a.health),
		handler.WithMetricsHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})),
		handler.WithSubmissionLimiter(a.limiter),
		handler.WithRequestTimeout(a.cfg.Server.RequestTimeout),
	)

	srv := httpserver.New(a.cfg.Server.Addr, h.Routes(), a.cfg.Server.RequestTimeout)
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("starting intake",
			"addr", a.cfg.Server.Addr,
			"env", a.cfg.Server.Environment,
			"channels", a.emitter.Channels(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
