package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/y0ug/detreg/internal/database"
	"github.com/y0ug/detreg/internal/metrics"
	"github.com/y0ug/detreg/internal/notifications"
	"github.com/y0ug/detreg/internal/registry"
	"github.com/y0ug/detreg/internal/webserver"
	"github.com/y0ug/detreg/pkg/auth"
	"github.com/y0ug/detreg/pkg/auth/providers"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the registry HTTP server",
		Long: `Serve opens the configured database and exposes the registry over HTTP.

Configuration is read from the environment (and a .env file if present):
  REGISTRY_OWNER            owner identity, required. With AUTH_TYPE oauth2
                            it is "<provider>:<subject>", e.g. github:12345
  DATABASE_TYPE             sqlite, bolt, redis or memory
  AUTH_TYPE                 none, jwt or oauth2
  SHOUTRRR_URLS             notification targets
  PORT, RATE_LIMIT, METRICS_ENABLED`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func runServe(ctx context.Context, opts *globalOptions) error {
	logger := opts.logger

	registryCfg, err := registry.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load registry configuration: %w", err)
	}

	dbConfig, err := database.LoadDatabaseConfig()
	if err != nil {
		return fmt.Errorf("failed to load database configuration: %w", err)
	}
	db, err := database.Open(dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize %s database: %w", dbConfig.Type, err)
	}
	defer db.Close(context.Background())
	logger.WithField("type", dbConfig.Type).Info("Database initialized successfully")

	var sinks []registry.EventSink

	notificationCfg, err := notifications.LoadNotificationConfig()
	if err != nil {
		return fmt.Errorf("failed to load notification configuration: %w", err)
	}
	if notificationCfg.Enabled() {
		notifier, err := notifications.NewNotifier(notificationCfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize notifier: %w", err)
		}
		sinks = append(sinks, notifier)
		logger.Info("Notifier initialized successfully")
	} else {
		logger.Info("No SHOUTRRR_URLS configured. Notifications disabled.")
	}

	webServerConfig, err := webserver.NewWebserverConfig()
	if err != nil {
		return fmt.Errorf("failed to load webserver configuration: %w", err)
	}

	var collector *metrics.Collector
	if webServerConfig.MetricsEnabled {
		collector = metrics.NewCollector()
		sinks = append(sinks, collector)
	}

	reg, err := registry.New(ctx, *registryCfg, db, logger, sinks...)
	if err != nil {
		return fmt.Errorf("failed to open registry: %w", err)
	}

	authConfig, err := auth.NewConfig()
	if err != nil {
		return fmt.Errorf("failed to initialize auth config: %w", err)
	}
	logger.Infof("Auth type: %v", authConfig.AuthType)
	for _, provider := range authConfig.Providers {
		logger.Infof("Auth provider: %s", provider.Name())
	}
	if authConfig.AuthType == auth.AuthTypeOAuth2 {
		if name, _, ok := providers.SplitCaller(registryCfg.Owner); !ok || authConfig.Providers[name] == nil {
			logger.WithField("owner", registryCfg.Owner).
				Warn("REGISTRY_OWNER does not name a configured provider, oauth2 callers are <provider>:<subject>")
		}
	}
	authHandler := auth.NewHandler(authConfig, db, logger)

	webServer := webserver.NewWebServer(reg, webServerConfig, authConfig, authHandler, collector, logger)
	server, serveErr, err := webserver.StartWebServer(ctx, webServer)
	if err != nil {
		return fmt.Errorf("failed to start web server: %w", err)
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("web server stopped: %w", err)
	case <-ctx.Done():
	}
	logger.Info("Shutdown signal received. Initiating shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to gracefully shutdown the server: %w", err)
	}

	logger.Info("Shutdown complete. Exiting.")
	return nil
}
