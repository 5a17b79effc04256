package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aretw0/callpath/internal/cli"
	httpAdapter "github.com/aretw0/callpath/pkg/adapters/http"
	"github.com/aretw0/callpath/pkg/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts the callpath engine behind a JSON API over HTTP.
Runs can be followed live on /runs/{id}/events and metrics are exposed on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		streams := httpAdapter.NewStreamManager(httpAdapter.WithStreamLogger(logger))
		app, err := cli.Open(cmd.Context(), cfg, logger, cli.Options{
			Async: true,
			Hooks: []domain.LifecycleHooks{streams.Hooks()},
		})
		if err != nil {
			return err
		}
		defer app.Close()

		addr := app.Config.HTTP.Addr
		if cmd.Flags().Changed("addr") {
			addr, _ = cmd.Flags().GetString("addr")
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(app.Metrics, promhttp.HandlerOpts{}))
		mux.Handle("/", httpAdapter.NewHandler(app.Engine,
			httpAdapter.WithLogger(app.Logger),
			httpAdapter.WithStreams(streams),
		))

		srv := &http.Server{
			Addr:    addr,
			Handler: mux,
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)

		go func() {
			app.Logger.Info("starting callpath server", "addr", srv.Addr, "pipelines", len(app.Engine.Pipelines()))
			serverErrors <- srv.ListenAndServe()
		}()

		// Blocking main and waiting for shutdown.
		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server error: %w", err)

		case <-cmd.Context().Done():
			app.Logger.Info("shutdown requested")

			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			// Asking listener to shut down and shed load.
			if err := srv.Shutdown(ctx); err != nil {
				app.Logger.Warn("graceful shutdown did not complete", "timeout", 5*time.Second, "error", err)
				if err := srv.Close(); err != nil {
					return fmt.Errorf("error killing server: %w", err)
				}
			}
			app.Logger.Info("callpath server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", ":8080", "Address to listen on (overrides http.addr)")
}
