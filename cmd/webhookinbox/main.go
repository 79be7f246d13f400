package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Priya8975/webhook-inbox/internal/api"
	"github.com/Priya8975/webhook-inbox/internal/config"
	"github.com/Priya8975/webhook-inbox/internal/delivery"
	"github.com/Priya8975/webhook-inbox/internal/logging"
	"github.com/Priya8975/webhook-inbox/internal/websocket"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "webhookinbox",
		Short:         "Webhook ingestion and delivery gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(workerCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	var noWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the delivery scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			hub := websocket.NewHub(a.logger)
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				hub.Run(ctx)
			}()

			if !noWorker {
				scheduler := delivery.NewScheduler(a.Engine(hub), a.cfg.Delivery.PollInterval(), a.logger)
				wg.Add(1)
				go func() {
					defer wg.Done()
					scheduler.Run(ctx)
				}()
			}

			server := &http.Server{
				Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
				Handler:      api.NewRouter(a.RouterDeps(hub)),
				ReadTimeout:  a.cfg.Server.ReadTimeout,
				WriteTimeout: a.cfg.Server.WriteTimeout,
				IdleTimeout:  a.cfg.Server.IdleTimeout,
			}

			serverErr := make(chan error, 1)
			go func() {
				a.logger.Info("server starting",
					"version", version,
					"port", a.cfg.Server.Port,
					"storage", a.cfg.Storage.Driver,
					"redis", a.redis != nil,
					"worker", !noWorker,
				)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
				close(serverErr)
			}()

			select {
			case <-ctx.Done():
			case err := <-serverErr:
				if err != nil {
					stop()
					wg.Wait()
					return fmt.Errorf("server error: %w", err)
				}
			}

			a.logger.Info("shutting down...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("server forced to shutdown", "error", err)
			}

			wg.Wait()
			a.logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "serve the API without running deliveries")
	return cmd
}

func workerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the delivery scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			scheduler := delivery.NewScheduler(a.Engine(nil), a.cfg.Delivery.PollInterval(), a.logger)
			scheduler.Run(ctx)
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			logger.Info("database migrations applied", "driver", cfg.Storage.Driver)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "webhookinbox %s\n", version)
		},
	}
}
