package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ratewatch/ratewatch/internal/config"
	"github.com/ratewatch/ratewatch/internal/core"
	"github.com/ratewatch/ratewatch/internal/core/engine"
	"github.com/ratewatch/ratewatch/internal/core/registry"
	"github.com/ratewatch/ratewatch/internal/core/store"
	"github.com/ratewatch/ratewatch/internal/notify"
	"github.com/ratewatch/ratewatch/internal/output"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	v.Set("registry.path", filepath.Join(t.TempDir(), "apis.yaml"))
	cfg, err := config.Load(v)
	require.NoError(t, err)
	return cfg
}

func openTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.Open(filepath.Join(t.TempDir(), "apis.yaml"), nil)
	require.NoError(t, err)
	return reg
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Send(_ context.Context, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

func TestParseExtraHeaders(t *testing.T) {
	headers, err := parseExtraHeaders([]string{"Accept: application/json", "X-Api-Version:2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Accept": "application/json", "X-Api-Version": "2"}, headers)

	headers, err = parseExtraHeaders(nil)
	require.NoError(t, err)
	assert.Nil(t, headers)

	_, err = parseExtraHeaders([]string{"no-colon"})
	require.ErrorIs(t, err, core.ErrInvalidAPI)

	_, err = parseExtraHeaders([]string{":value"})
	require.ErrorIs(t, err, core.ErrInvalidAPI)
}

func TestAddListRemove(t *testing.T) {
	reg := openTestRegistry(t)
	var out bytes.Buffer

	err := addAPI(&out, reg, addOptions{
		Name:        "GitHub",
		Endpoint:    "https://api.github.com/rate_limit",
		HeaderName:  "Authorization",
		HeaderValue: "token abc",
	}, 90, core.NopLogger())
	require.NoError(t, err)
	assert.Equal(t, "Added API: GitHub\n", out.String())

	api, ok := reg.Get("github")
	require.True(t, ok)
	assert.Equal(t, 90.0, api.ThresholdPercent)
	assert.Equal(t, "token abc", api.AuthHeaderValue)

	err = addAPI(&out, reg, addOptions{Name: "github", Endpoint: "https://example.com"}, 90, core.NopLogger())
	require.ErrorIs(t, err, core.ErrDuplicateName)
	assert.Equal(t, foundry.ExitFailure, ExitCodeFor(err))

	out.Reset()
	require.NoError(t, listAPIs(&out, reg, output.FormatJSON))
	var listed []core.MonitoredAPI
	require.NoError(t, json.Unmarshal(out.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "GitHub", listed[0].Name)
	assert.NotContains(t, out.String(), "token abc")

	out.Reset()
	require.NoError(t, removeAPI(context.Background(), &out, reg, "GitHub", nil, core.NopLogger()))
	assert.Equal(t, "Removed API: GitHub\n", out.String())
	assert.Equal(t, 0, reg.Len())

	err = removeAPI(context.Background(), &out, reg, "GitHub", nil, core.NopLogger())
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestAddRejectsInvalidThreshold(t *testing.T) {
	reg := openTestRegistry(t)
	err := addAPI(&bytes.Buffer{}, reg, addOptions{Name: "x", Endpoint: "https://x.test", Threshold: 150, ThresholdSet: true}, 95, core.NopLogger())
	require.ErrorIs(t, err, core.ErrInvalidAPI)
	assert.Equal(t, 0, reg.Len())
}

func TestAddRejectsExplicitZeroThreshold(t *testing.T) {
	reg := openTestRegistry(t)
	err := addAPI(&bytes.Buffer{}, reg, addOptions{Name: "x", Endpoint: "https://x.test", Threshold: 0, ThresholdSet: true}, 95, core.NopLogger())
	require.ErrorIs(t, err, core.ErrInvalidAPI)
	assert.Equal(t, 0, reg.Len())
}

func TestAddUsesDefaultThresholdWhenFlagUnset(t *testing.T) {
	reg := openTestRegistry(t)
	require.NoError(t, addAPI(&bytes.Buffer{}, reg, addOptions{Name: "x", Endpoint: "https://x.test"}, 95, core.NopLogger()))
	api, ok := reg.Get("x")
	require.True(t, ok)
	assert.Equal(t, 95.0, api.ThresholdPercent)
}

func TestAddWarnsOnFractionalThreshold(t *testing.T) {
	reg := openTestRegistry(t)
	obsCore, logs := observer.New(zapcore.WarnLevel)

	err := addAPI(&bytes.Buffer{}, reg, addOptions{Name: "x", Endpoint: "https://x.test", Threshold: 0.95, ThresholdSet: true}, 95, zap.New(obsCore))
	require.NoError(t, err)

	api, ok := reg.Get("x")
	require.True(t, ok)
	assert.Equal(t, 0.95, api.ThresholdPercent)
	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].Message, "not a 0-1 fraction")
}

func TestRemoveThenReaddStartsClean(t *testing.T) {
	reg := openTestRegistry(t)
	st := engine.NewMemoryStore()
	ctx := context.Background()
	var out bytes.Buffer

	require.NoError(t, addAPI(&out, reg, addOptions{Name: "GitHub", Endpoint: "https://api.github.com/rate_limit"}, 95, core.NopLogger()))
	require.NoError(t, st.SaveAlertState(ctx, "GitHub", core.AlertState{IsAlerting: true, LastUsagePercent: 99}))
	require.NoError(t, st.AppendSample(ctx, core.UsageSample{APIName: "GitHub", Remaining: 10, Limit: 1000}, 0))

	require.NoError(t, removeAPI(ctx, &out, reg, "github", st, core.NopLogger()))
	require.NoError(t, addAPI(&out, reg, addOptions{Name: "GitHub", Endpoint: "https://api.github.com/rate_limit"}, 95, core.NopLogger()))

	state, err := st.GetAlertState(ctx, "GitHub")
	require.NoError(t, err)
	assert.Nil(t, state)
	latest, err := st.LatestSample(ctx, "GitHub")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

type failingForgetter struct{}

func (failingForgetter) ForgetAPI(context.Context, string) error { return errors.New("db locked") }

func TestRemoveWarnsWhenStateCannotBeCleared(t *testing.T) {
	reg := openTestRegistry(t)
	obsCore, logs := observer.New(zapcore.WarnLevel)
	var out bytes.Buffer

	require.NoError(t, addAPI(&out, reg, addOptions{Name: "GitHub", Endpoint: "https://api.github.com/rate_limit"}, 95, core.NopLogger()))
	out.Reset()
	require.NoError(t, removeAPI(context.Background(), &out, reg, "GitHub", failingForgetter{}, zap.New(obsCore)))

	assert.Equal(t, "Removed API: GitHub\n", out.String())
	assert.Equal(t, 0, reg.Len())
	require.Equal(t, 1, logs.Len())
}

func TestSelectAPIs(t *testing.T) {
	all := []core.MonitoredAPI{{Name: "GitHub"}, {Name: "Stripe"}, {Name: "Slack"}}

	got, err := selectAPIs(all, nil)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = selectAPIs(all, []string{"slack", "GITHUB"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "GitHub", got[0].Name)
	assert.Equal(t, "Slack", got[1].Name)

	_, err = selectAPIs(all, []string{"nope"})
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestCheckOnceFiresAlert(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "45")
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.WriteHeader(http.StatusOK)
	}))
	defer api.Close()

	cfg := testConfig(t)
	notifier := &recordingNotifier{}
	st := engine.NewMemoryStore()
	apis := subsetLister{{Name: "GitHub", Endpoint: api.URL, ThresholdPercent: 95}}
	poller := newPoller(cfg, apis, st, notifier, nil, core.NopLogger())

	var out bytes.Buffer
	require.NoError(t, checkOnce(context.Background(), &out, poller, output.FormatTable, core.NopLogger()))
	assert.Contains(t, out.String(), "45 / 5,000")
	assert.Contains(t, out.String(), "alert sent")
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "API: GitHub")

	// Second check stays alerting without a second alert.
	out.Reset()
	require.NoError(t, checkOnce(context.Background(), &out, poller, output.FormatTable, core.NopLogger()))
	assert.Len(t, notifier.messages, 1)

	samples, err := st.ListSamples(context.Background(), "GitHub", 10)
	require.NoError(t, err)
	assert.Len(t, samples, 2)
}

func TestPrintHistory(t *testing.T) {
	ctx := context.Background()
	st := engine.NewMemoryStore()
	start := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, st.AppendSample(ctx, core.UsageSample{
			ID:        fmt.Sprintf("s%d", i),
			APIName:   "GitHub",
			Remaining: 5000 - i*1000,
			Limit:     5000,
			SampledAt: start.Add(time.Duration(i) * 5 * time.Minute),
		}, 10))
	}

	var out bytes.Buffer
	require.NoError(t, printHistory(ctx, &out, st, "GitHub", historyOptions{Limit: 2, Format: output.FormatJSON}))

	var decoded struct {
		API     string             `json:"api"`
		Samples []core.UsageSample `json:"samples"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Len(t, decoded.Samples, 2)
	assert.Equal(t, 4000, decoded.Samples[0].Remaining)
	assert.Equal(t, 3000, decoded.Samples[1].Remaining)

	out.Reset()
	require.NoError(t, printHistory(ctx, &out, st, "GitHub", historyOptions{Limit: 10, Graph: true, Width: 30, Height: 5}))
	assert.Contains(t, out.String(), "GitHub usage %")
}

func TestStateListAndReset(t *testing.T) {
	ctx := context.Background()
	st := engine.NewMemoryStore()
	require.NoError(t, st.SaveAlertState(ctx, "GitHub", core.AlertState{IsAlerting: true, LastUsagePercent: 99}))
	require.NoError(t, st.SaveAlertState(ctx, "Stripe", core.AlertState{LastUsagePercent: 10}))

	var out bytes.Buffer
	require.NoError(t, listStates(ctx, &out, st, output.FormatTable))
	assert.Contains(t, out.String(), "ALERTING")

	out.Reset()
	require.NoError(t, resetStates(ctx, &out, st, "GitHub", false))
	assert.Equal(t, "Reset alert state: GitHub\n", out.String())

	state, err := st.GetAlertState(ctx, "GitHub")
	require.NoError(t, err)
	assert.Nil(t, state)

	out.Reset()
	require.NoError(t, resetStates(ctx, &out, st, "", true))
	assert.Equal(t, "Reset alert state for 1 API(s)\n", out.String())
}

func TestValidateReset(t *testing.T) {
	require.NoError(t, validateReset("GitHub", false, false))
	require.NoError(t, validateReset("", true, true))
	require.Error(t, validateReset("", false, false))
	require.Error(t, validateReset("GitHub", true, true))
	require.Error(t, validateReset("", true, false))
}

type fakeBackoffs []store.BackoffEntry

func (f fakeBackoffs) ListBackoffs(context.Context, time.Time) ([]store.BackoffEntry, error) {
	return f, nil
}

func TestListBackoffs(t *testing.T) {
	until := time.Date(2026, 10, 1, 13, 0, 0, 0, time.UTC)
	entries := fakeBackoffs{{API: "github", Consecutive: 2, BackoffUntil: &until}}

	var out bytes.Buffer
	require.NoError(t, listBackoffs(context.Background(), &out, entries, output.FormatTable, until.Add(-time.Hour)))
	assert.Contains(t, out.String(), "github: consecutive=2 backoff_until=2026-10-01T13:00:00Z")

	out.Reset()
	require.NoError(t, listBackoffs(context.Background(), &out, fakeBackoffs(nil), output.FormatJSON, until))
	assert.Equal(t, "[]\n", out.String())
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, foundry.ExitConfigInvalid, ExitCodeFor(&config.ConfigError{Field: "notify", Err: errors.New("missing")}))
	assert.Equal(t, foundry.ExitConfigInvalid, ExitCodeFor(fmt.Errorf("wrap: %w", notify.ErrBackendSelection)))
	assert.Equal(t, foundry.ExitFailure, ExitCodeFor(core.ErrNotFound))
	assert.Equal(t, foundry.ExitFailure, ExitCodeFor(errors.New("bad flag")))
}

func TestOpenStoreFallsBackToMemory(t *testing.T) {
	st := openStore(context.Background(), config.StoreConfig{Driver: "unsupported"}, core.NopLogger())
	_, ok := st.(*engine.MemoryStore)
	assert.True(t, ok)
}

func TestUserAgent(t *testing.T) {
	cfg := testConfig(t)
	assert.Equal(t, "ratewatch/"+versionInfo.Version, userAgent(cfg))

	cfg.Poll.UserAgent = "custom/1.0"
	assert.Equal(t, "custom/1.0", userAgent(cfg))
}

func TestPrintVersion(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printVersion(&out, false, false))
	assert.Equal(t, "ratewatch "+versionInfo.Version+"\n", out.String())

	out.Reset()
	require.NoError(t, printVersion(&out, true, false))
	assert.Contains(t, out.String(), "Gofulmen: ")
	assert.Contains(t, out.String(), "Crucible: ")
}
