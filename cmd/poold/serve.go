package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shieldedpool/internal/api"
)

var version = "dev"

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	health := api.NewHealthChecker(version)
	health.Register("store", func(context.Context) error {
		_, err := a.store.SpentCount()
		return err
	})
	if a.relay != nil {
		health.Register("relay", func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := a.relay.Ping(ctx); err != nil {
				return api.DegradedError{Reason: err.Error()}
			}
			return nil
		})
	}

	srv := api.NewServer(a.engine, api.Options{
		Logger:         a.log.Named("api"),
		Metrics:        a.metrics,
		Health:         health,
		Limiter:        api.NewClientLimiter(a.cfg.HTTP.RateLimit, a.cfg.HTTP.RateBurst),
		RequestTimeout: time.Duration(a.cfg.HTTP.RequestTimeout) * time.Second,
	})
	httpSrv := &http.Server{
		Addr:              a.cfg.HTTP.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Info("http listening", zap.String("addr", httpSrv.Addr))
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
