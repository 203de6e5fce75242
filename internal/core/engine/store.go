package engine

import (
	"context"

	"github.com/ratewatch/ratewatch/internal/core"
)

// StateStore persists per-API alert state.
type StateStore interface {
	GetAlertState(ctx context.Context, apiName string) (*core.AlertState, error)
	SaveAlertState(ctx context.Context, apiName string, state core.AlertState) error
}

// HistoryStore keeps a bounded window of samples per API.
type HistoryStore interface {
	AppendSample(ctx context.Context, sample core.UsageSample, maxSamples int) error
}

// Store is the full persistence surface used by the CLI and status server.
type Store interface {
	StateStore
	HistoryStore
	RateLimitStore

	ListAlertStates(ctx context.Context) (map[string]core.AlertState, error)
	ResetAlertState(ctx context.Context, apiName string) error
	ResetAllAlertStates(ctx context.Context) (int, error)
	ListSamples(ctx context.Context, apiName string, limit int) ([]core.UsageSample, error)
	LatestSample(ctx context.Context, apiName string) (*core.UsageSample, error)
	ForgetAPI(ctx context.Context, apiName string) error
	Close() error
}
