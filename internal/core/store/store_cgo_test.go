//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ratewatch/ratewatch/internal/config"
	"github.com/ratewatch/ratewatch/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	store, err := Open(ctx, config.StoreConfig{Path: filepath.Join(t.TempDir(), "ratewatch.db")})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenMemoryStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{
		Driver: "libsql",
		Path:   ":memory:",
	}

	store, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, store)
	require.Equal(t, "libsql", store.Driver())
	require.NoError(t, store.Close())
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestAlertStateRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	state, err := store.GetAlertState(ctx, "GitHub")
	require.NoError(t, err)
	require.Nil(t, state)

	firedAt := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveAlertState(ctx, "GitHub", core.AlertState{
		IsAlerting:       true,
		LastAlertAt:      &firedAt,
		LastUsagePercent: 99.1,
		UpdatedAt:        firedAt,
	}))

	state, err = store.GetAlertState(ctx, "github")
	require.NoError(t, err)
	require.NotNil(t, state)
	require.True(t, state.IsAlerting)
	require.Equal(t, firedAt, *state.LastAlertAt)
	require.InDelta(t, 99.1, state.LastUsagePercent, 0.0001)

	require.NoError(t, store.SaveAlertState(ctx, "GitHub", core.AlertState{LastUsagePercent: 10, UpdatedAt: firedAt.Add(time.Minute)}))
	state, err = store.GetAlertState(ctx, "GitHub")
	require.NoError(t, err)
	require.False(t, state.IsAlerting)
	require.Nil(t, state.LastAlertAt)

	require.NoError(t, store.SaveAlertState(ctx, "Stripe", core.AlertState{IsAlerting: true, UpdatedAt: firedAt}))
	states, err := store.ListAlertStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	require.True(t, states["stripe"].IsAlerting)

	require.NoError(t, store.ResetAlertState(ctx, "STRIPE"))
	count, err := store.ResetAllAlertStates(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestSamplesArePruned(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendSample(ctx, core.UsageSample{
			APIName:   "GitHub",
			Remaining: 1000 - i,
			Limit:     1000,
			SampledAt: base.Add(time.Duration(i) * time.Minute),
			Source:    core.SourceBody,
		}, 3))
	}
	require.NoError(t, store.AppendSample(ctx, core.UsageSample{APIName: "Other", Remaining: 1, Limit: 2, SampledAt: base}, 3))

	samples, err := store.ListSamples(ctx, "github", 0)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	require.Equal(t, 998, samples[0].Remaining)
	require.Equal(t, 996, samples[2].Remaining)
	require.Equal(t, core.SourceBody, samples[2].Source)
	require.NotEmpty(t, samples[0].ID)

	latest, err := store.LatestSample(ctx, "GitHub")
	require.NoError(t, err)
	require.Equal(t, 996, latest.Remaining)
	require.Equal(t, base.Add(4*time.Minute), latest.SampledAt)

	other, err := store.ListSamples(ctx, "other", 10)
	require.NoError(t, err)
	require.Len(t, other, 1)
}

func TestPollBackoffRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	until := now.Add(time.Minute)

	require.NoError(t, store.UpdateRateLimit(ctx, "GitHub", &core.RateLimitState{
		BackoffUntil: &until,
		Last429At:    &now,
		Consecutive:  2,
	}))

	state, err := store.GetRateLimit(ctx, "GitHub")
	require.NoError(t, err)
	require.Equal(t, 2, state.Consecutive)
	require.Equal(t, until, *state.BackoffUntil)

	entries, err := store.ListBackoffs(ctx, now)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "github", entries[0].API)

	entries, err = store.ListBackoffs(ctx, until.Add(time.Second))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestForgetAPIRemovesStateHistoryAndBackoff(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	until := now.Add(time.Minute)

	require.NoError(t, store.SaveAlertState(ctx, "GitHub", core.AlertState{IsAlerting: true, UpdatedAt: now}))
	require.NoError(t, store.AppendSample(ctx, core.UsageSample{
		ID: "s1", APIName: "GitHub", Remaining: 10, Limit: 100, SampledAt: now, Source: core.SourceHeader,
	}, 10))
	require.NoError(t, store.UpdateRateLimit(ctx, "GitHub", &core.RateLimitState{BackoffUntil: &until}))
	require.NoError(t, store.SaveAlertState(ctx, "Stripe", core.AlertState{IsAlerting: true, UpdatedAt: now}))

	require.NoError(t, store.ForgetAPI(ctx, "GITHUB"))

	state, err := store.GetAlertState(ctx, "GitHub")
	require.NoError(t, err)
	require.Nil(t, state)
	samples, err := store.ListSamples(ctx, "GitHub", 0)
	require.NoError(t, err)
	require.Empty(t, samples)
	backoff, err := store.GetRateLimit(ctx, "GitHub")
	require.NoError(t, err)
	require.Nil(t, backoff)

	other, err := store.GetAlertState(ctx, "Stripe")
	require.NoError(t, err)
	require.NotNil(t, other)
}
