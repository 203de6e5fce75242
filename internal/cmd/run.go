package cmd

import (
	"context"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ratewatch/ratewatch/internal/config"
	"github.com/ratewatch/ratewatch/internal/core"
	"github.com/ratewatch/ratewatch/internal/core/engine"
	"github.com/ratewatch/ratewatch/internal/core/registry"
	apperrors "github.com/ratewatch/ratewatch/internal/errors"
	"github.com/ratewatch/ratewatch/internal/metrics"
	"github.com/ratewatch/ratewatch/internal/notify"
	"github.com/ratewatch/ratewatch/internal/observability"
	"github.com/ratewatch/ratewatch/internal/server"
	"github.com/ratewatch/ratewatch/internal/server/handlers"
)

// adminTokenEnv enables the status server's admin signal endpoint.
const adminTokenEnv = config.EnvPrefix + "_ADMIN_TOKEN"

// runLoop starts the continuous poll loop.
//
// Signal handling:
//   - Ctrl+C (SIGINT) or SIGTERM: finish the current cycle and exit
//   - Ctrl+C twice within 2s: force quit
//   - SIGHUP: re-read the registry file
func runLoop(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateNotify(); err != nil {
		return err
	}
	notifier, err := notify.New(cfg.NotifySettings())
	if err != nil {
		return &config.ConfigError{Field: "notify", Err: err}
	}

	observability.InitDaemonLogger(config.AppName, cfg.Logging.Level, map[string]any{
		"component": "poller",
		"notifier":  notifier.Name(),
	})
	logger := observability.DaemonLogger

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	reg, err := registry.Open(cfg.Registry.Path, logger)
	if err != nil {
		return err
	}
	st := openStore(ctx, cfg.Store, logger)
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("Failed to close state store", zap.Error(err))
		}
	}()

	collector := metrics.New()
	collector.ObserveRegistry(reg.Len(), false)
	tracker := newRegistryTracker(reg.List(), collector)

	poller := newPoller(cfg, reg, st, notifier, collector, logger)
	scheduler := &engine.Scheduler{
		Runner:   poller,
		Interval: cfg.Poll.Interval,
		Logger:   logger,
	}

	if cfg.Registry.Watch {
		go watchRegistry(ctx, reg, collector, tracker, logger)
	}

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = newStatusServer(cfg, reg, st, collector, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("Status server stopped", zap.Error(err))
			}
		}()
	}

	// Shutdown handlers run LIFO: stop the loop and server first, flush logs last.
	signals.OnShutdown(func(context.Context) error {
		_ = logger.Sync()
		return nil
	})
	signals.OnShutdown(func(sctx context.Context) error {
		logger.Info("Shutdown requested, finishing current cycle")
		cancel()
		return shutdownServer(sctx, srv, cfg.Server.ShutdownTimeout)
	})
	signals.OnReload(func(rctx context.Context) error {
		logger.Info("Received SIGHUP: reloading registry", zap.String("path", reg.Path()))
		if err := reg.Reload(); err != nil {
			return apperrors.WrapInternal(rctx, err, "registry reload failed")
		}
		registryReloaded(reg, collector, tracker, logger)
		return nil
	})
	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}
	go func() {
		if err := signals.Listen(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Signal handler error", zap.Error(err))
		}
	}()

	logger.Info("Starting poll loop",
		zap.Int("apis", reg.Len()),
		zap.Duration("interval", cfg.Poll.Interval),
		zap.String("registry", reg.Path()),
		zap.Bool("status_server", cfg.Server.Enabled))

	err = scheduler.Run(ctx)

	if shutdownErr := shutdownServer(context.Background(), srv, cfg.Server.ShutdownTimeout); shutdownErr != nil {
		logger.Warn("Status server shutdown failed", zap.Error(shutdownErr))
	}
	logger.Info("Poll loop stopped")
	return err
}

func watchRegistry(ctx context.Context, reg *registry.Registry, collector *metrics.Collector, tracker *registryTracker, logger core.Logger) {
	err := reg.Watch(ctx, func() {
		registryReloaded(reg, collector, tracker, logger)
	})
	if err != nil && ctx.Err() == nil {
		logger.Warn("Registry watch stopped; restart to pick up file edits", zap.Error(err))
	}
}

func registryReloaded(reg *registry.Registry, collector *metrics.Collector, tracker *registryTracker, logger core.Logger) {
	removed := tracker.Sync(reg.List())
	collector.ObserveRegistry(reg.Len(), true)
	logger.Info("Registry reloaded", zap.Int("apis", reg.Len()), zap.Strings("removed", removed))
}

func newStatusServer(cfg *config.Config, reg *registry.Registry, st engine.Store, collector *metrics.Collector, logger core.Logger) *server.Server {
	health := handlers.NewHealthManager(versionInfo.Version)
	if checker, ok := st.(handlers.HealthChecker); ok {
		health.RegisterChecker("store", checker)
	}
	health.RegisterChecker("registry", handlers.CheckerFunc(func(context.Context) error {
		_, err := os.Stat(reg.Path())
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}))

	return server.New(server.Options{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		AdminToken:   os.Getenv(adminTokenEnv),
		Registry:     reg,
		Store:        st,
		Metrics:      collector,
		Health:       health,
		Logger:       logger,
	})
}

func shutdownServer(ctx context.Context, srv *server.Server, timeout time.Duration) error {
	if srv == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
