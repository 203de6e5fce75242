package cmd

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratewatch/ratewatch/internal/core"
	"github.com/ratewatch/ratewatch/internal/metrics"
)

type recordingForgetter struct {
	names []string
}

func (r *recordingForgetter) ForgetAPI(name string) { r.names = append(r.names, name) }

func TestRegistryTrackerReportsRemovedAPIs(t *testing.T) {
	forgetter := &recordingForgetter{}
	tracker := newRegistryTracker([]core.MonitoredAPI{{Name: "GitHub"}, {Name: "Stripe"}, {Name: "Slack"}}, forgetter)

	removed := tracker.Sync([]core.MonitoredAPI{{Name: "Stripe"}, {Name: "OpenAI"}})
	assert.Equal(t, []string{"GitHub", "Slack"}, removed)
	assert.ElementsMatch(t, []string{"GitHub", "Slack"}, forgetter.names)

	assert.Empty(t, tracker.Sync([]core.MonitoredAPI{{Name: "Stripe"}, {Name: "OpenAI"}}))
}

func TestRegistryReloadDropsRemovedAPISeries(t *testing.T) {
	reg := openTestRegistry(t)
	var out bytes.Buffer
	require.NoError(t, addAPI(&out, reg, addOptions{Name: "GitHub", Endpoint: "https://api.github.com/rate_limit"}, 95, core.NopLogger()))
	require.NoError(t, addAPI(&out, reg, addOptions{Name: "Stripe", Endpoint: "https://api.stripe.com/v1/balance"}, 95, core.NopLogger()))

	collector := metrics.NewWithRegistry(prometheus.NewRegistry())
	tracker := newRegistryTracker(reg.List(), collector)
	for _, api := range reg.List() {
		collector.ObserveOutcome(core.CycleOutcome{
			APIName: api.Name,
			Kind:    core.OutcomeSampled,
			Sample:  &core.UsageSample{Remaining: 50, Limit: 100},
		})
	}
	require.Equal(t, 2, testutil.CollectAndCount(collector.UsagePercent))

	require.NoError(t, reg.Remove("GitHub"))
	registryReloaded(reg, collector, tracker, core.NopLogger())

	require.Equal(t, 1, testutil.CollectAndCount(collector.UsagePercent))
	require.Equal(t, 1, testutil.CollectAndCount(collector.PollOutcomes))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.MonitoredAPIs))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.RegistryReloads))
}
