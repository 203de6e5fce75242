package cmd

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ratewatch/ratewatch/internal/config"
	"github.com/ratewatch/ratewatch/internal/core"
	"github.com/ratewatch/ratewatch/internal/core/engine"
	"github.com/ratewatch/ratewatch/internal/core/store"
	"github.com/ratewatch/ratewatch/internal/notify"
)

// openStore opens and migrates the libsql store. When that fails the
// process keeps state in memory for its lifetime.
func openStore(ctx context.Context, cfg config.StoreConfig, logger core.Logger) engine.Store {
	db, err := store.Open(ctx, cfg)
	if err == nil {
		if err = db.Migrate(ctx); err == nil {
			return db
		}
		_ = db.Close()
	}

	logger.Warn("State store unavailable, keeping state in memory",
		zap.String("path", cfg.Path),
		zap.Error(err))
	return engine.NewMemoryStore()
}

func userAgent(cfg *config.Config) string {
	ua := strings.TrimSpace(cfg.Poll.UserAgent)
	if ua == "" || ua == config.AppName {
		return config.AppName + "/" + versionInfo.Version
	}
	return ua
}

// newPoller wires a poller from configuration. notifier and recorder may be nil.
func newPoller(cfg *config.Config, apis engine.APILister, st engine.Store, notifier notify.Notifier, recorder engine.Recorder, logger core.Logger) *engine.Poller {
	return &engine.Poller{
		Registry:       apis,
		Client:         &http.Client{},
		Evaluator:      engine.NewEvaluator(cfg.Alert.ReleaseMargin),
		States:         st,
		History:        st,
		Limiter:        &engine.PollLimiter{Store: st},
		Notifier:       notifier,
		Metrics:        recorder,
		Logger:         logger,
		Workers:        cfg.Poll.Workers,
		RequestTimeout: cfg.Poll.RequestTimeout,
		HistoryEnabled: cfg.History.Enabled,
		MaxSamples:     cfg.History.MaxSamples,
		UserAgent:      userAgent(cfg),
	}
}
