package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ratewatch/ratewatch/internal/core"
)

// sampleAt builds a sample with the given usage percent on a 1000-request limit.
func sampleAt(percent int) core.UsageSample {
	return core.UsageSample{APIName: "example", Limit: 1000, Remaining: 1000 - percent*10}
}

func TestEvaluatorEdgeTriggeringDefaultMargin(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	evaluator := &Evaluator{ReleaseMargin: 5, Clock: func() time.Time { return clock }}

	sequence := []int{90, 96, 97, 96, 94, 97}
	fired := []int{}
	state := core.AlertState{}
	for i, usage := range sequence {
		next, alert, err := evaluator.Evaluate(sampleAt(usage), state, 95)
		require.NoError(t, err)
		if alert {
			fired = append(fired, i)
		}
		state = next
	}

	// 94 is not below 95-5, so the API never left alerting.
	require.Equal(t, []int{1}, fired)
}

func TestEvaluatorEdgeTriggeringReCrossing(t *testing.T) {
	evaluator := &Evaluator{ReleaseMargin: 0.5}

	sequence := []int{90, 96, 97, 96, 94, 97}
	fired := []int{}
	state := core.AlertState{}
	for i, usage := range sequence {
		next, alert, err := evaluator.Evaluate(sampleAt(usage), state, 95)
		require.NoError(t, err)
		if alert {
			fired = append(fired, i)
		}
		state = next
	}

	require.Equal(t, []int{1, 5}, fired)
}

func TestEvaluatorReleaseBelowMargin(t *testing.T) {
	evaluator := NewEvaluator(DefaultReleaseMargin)
	state := core.AlertState{}

	state, fired, err := evaluator.Evaluate(sampleAt(96), state, 95)
	require.NoError(t, err)
	require.True(t, fired)
	require.True(t, state.IsAlerting)
	require.NotNil(t, state.LastAlertAt)
	firstAlert := *state.LastAlertAt

	state, fired, err = evaluator.Evaluate(sampleAt(90), state, 95)
	require.NoError(t, err)
	require.False(t, fired)
	require.True(t, state.IsAlerting, "90 is not below 95-5")

	state, fired, err = evaluator.Evaluate(sampleAt(89), state, 95)
	require.NoError(t, err)
	require.False(t, fired)
	require.False(t, state.IsAlerting)
	require.Equal(t, firstAlert, *state.LastAlertAt)

	state, fired, err = evaluator.Evaluate(sampleAt(95), state, 95)
	require.NoError(t, err)
	require.True(t, fired, "exactly at threshold fires")
	require.True(t, state.IsAlerting)
}

func TestEvaluatorRejectsInvalidSamples(t *testing.T) {
	evaluator := NewEvaluator(DefaultReleaseMargin)
	prior := core.AlertState{IsAlerting: true, LastUsagePercent: 97}

	for _, sample := range []core.UsageSample{
		{Remaining: 0, Limit: 0},
		{Remaining: 6000, Limit: 5000},
		{Remaining: -1, Limit: 10},
	} {
		state, fired, err := evaluator.Evaluate(sample, prior, 95)
		require.ErrorIs(t, err, core.ErrInvalidSample)
		require.False(t, fired)
		require.Equal(t, prior, state)
	}
}

func TestEvaluatorRejectsInvalidThreshold(t *testing.T) {
	evaluator := NewEvaluator(DefaultReleaseMargin)
	_, _, err := evaluator.Evaluate(sampleAt(50), core.AlertState{}, 0)
	require.ErrorIs(t, err, core.ErrInvalidAPI)
}

func TestEvaluatorDocumentedExample(t *testing.T) {
	evaluator := NewEvaluator(DefaultReleaseMargin)
	state, fired, err := evaluator.Evaluate(core.UsageSample{Remaining: 45, Limit: 5000}, core.AlertState{}, 95)
	require.NoError(t, err)
	require.True(t, fired)
	require.InDelta(t, 99.1, state.LastUsagePercent, 0.001)
}
