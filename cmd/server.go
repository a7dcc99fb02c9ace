package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"site-decisions/internal/access"
	"site-decisions/internal/config"
	"site-decisions/internal/idempotency"
	"site-decisions/internal/notify"
	"site-decisions/internal/routes"
	"site-decisions/internal/service"
	"site-decisions/internal/storage"
	"site-decisions/internal/workflow"
)

const (
	shutdownTimeout = 15 * time.Second
	janitorInterval = 10 * time.Minute
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the decision workflow server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return ServerMain(ctx, cfg)
	},
}

// Initialize logger
func initLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
		println("Invalid log level in config, defaulting to INFO")
	}
	handlerOpts := &slog.HandlerOptions{
		Level: level,
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	slog.SetDefault(logger)

	slog.Debug("Logger initialized", "level", level.String())
	return logger
}

// LoadRBAC reads the policy file, or the built-in policy when none is
// configured.
func LoadRBAC(cfg *config.Config) (*access.RBAC, error) {
	rbac := access.NewRBAC()
	if err := rbac.LoadPolicy(cfg.RBAC.PolicyFile); err != nil {
		return nil, fmt.Errorf("failed to load RBAC policy %q: %w", cfg.RBAC.PolicyFile, err)
	}
	return rbac, nil
}

func ServerMain(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		panic("Config not initialized.")
	}

	provider, err := storage.NewProvider(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer provider.Close()

	rbac, err := LoadRBAC(cfg)
	if err != nil {
		return err
	}

	idem, err := idempotency.NewStore(cfg, provider)
	if err != nil {
		return err
	}

	notifier, err := notify.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize notifications: %w", err)
	}
	defer notifier.Wait()

	svc := service.New(service.Config{
		Storage:        provider,
		Engine:         workflow.NewEngine(workflow.WithAuthorizer(access.NewAuthorizer(rbac))),
		Idempotency:    idem,
		IdempotencyTTL: time.Duration(cfg.IdempotencyTTL) * time.Second,
		Notifier:       notifier,
		Chains:         cfg.Workflow.Chains,
	})

	httpServer := &http.Server{
		Addr: cfg.Listen,
		Handler: routes.NewServer(routes.ServerConfig{
			Service:         svc,
			RBAC:            rbac,
			Store:           provider,
			Secret:          cfg.Secret,
			BaseURL:         cfg.BaseURL,
			AllowedNetworks: cfg.AllowedNetworks,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting server", "listen", cfg.Listen, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return idempotency.Janitor(gctx, idem, janitorInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
