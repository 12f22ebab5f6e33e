package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/magi-ai/magi/internal/telemetry"
	"github.com/magi-ai/magi/pkg/magi"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose metrics and spend endpoints over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			ledgerPath, _ := cmd.Flags().GetString("ledger")
			otlp, _ := cmd.Flags().GetString("otlp-endpoint")

			logger := newLogger(cmd)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := telemetry.Init(ctx, "magi", otlp)
			if err != nil {
				return err
			}
			defer func() { _ = shutdown(context.Background()) }()

			client, err := magi.New(magi.Options{
				Logger:     logger,
				LedgerPath: ledgerPath,
				Metrics:    prometheus.DefaultRegisterer,
			})
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			r := chi.NewRouter()
			r.Use(middleware.RequestID, middleware.Recoverer)
			r.Handle("/metrics", promhttp.Handler())
			r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			})
			r.Get("/v1/cost", func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(client.Cost())
			})
			r.Get("/v1/models", func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(client.Registry().Entries())
			})

			srv := &http.Server{
				Addr:              addr,
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", "addr", addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().String("ledger", "", "SQLite usage ledger path")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP trace collector (host:port)")
	return cmd
}
