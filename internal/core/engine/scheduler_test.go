package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ratewatch/ratewatch/internal/core"
)

type countingRunner struct {
	calls    atomic.Int32
	active   atomic.Int32
	overlaps atomic.Int32
	delay    time.Duration
}

func (r *countingRunner) RunCycle(ctx context.Context) []core.CycleOutcome {
	if r.active.Add(1) > 1 {
		r.overlaps.Add(1)
	}
	defer r.active.Add(-1)
	r.calls.Add(1)
	time.Sleep(r.delay)
	return []core.CycleOutcome{{APIName: "a", Kind: core.OutcomeSampled}}
}

func TestSchedulerRunsImmediatelyAndStops(t *testing.T) {
	runner := &countingRunner{}
	ctx, cancel := context.WithCancel(context.Background())

	var once sync.Once
	scheduler := &Scheduler{
		Runner:   runner,
		Interval: time.Hour,
		OnCycle:  func([]core.CycleOutcome) { once.Do(cancel) },
	}

	done := make(chan error, 1)
	go func() { done <- scheduler.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
	require.Equal(t, int32(1), runner.calls.Load())
}

func TestSchedulerDoesNotOverlapCycles(t *testing.T) {
	runner := &countingRunner{delay: 30 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	scheduler := &Scheduler{Runner: runner, Interval: 5 * time.Millisecond}
	require.NoError(t, scheduler.Run(ctx))

	require.GreaterOrEqual(t, runner.calls.Load(), int32(2))
	require.Zero(t, runner.overlaps.Load())
}

func TestSummarize(t *testing.T) {
	summary := Summarize([]core.CycleOutcome{
		{Kind: core.OutcomeSampled, AlertFired: true},
		{Kind: core.OutcomeSampled},
		{Kind: core.OutcomeRequestFailed},
		{Kind: core.OutcomeExtractionFailed},
	})
	require.Equal(t, CycleSummary{Total: 4, Sampled: 2, RequestFailed: 1, ExtractionFailed: 1, Alerts: 1}, summary)
}
