package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ratewatch/ratewatch/internal/core"
)

// DefaultInterval is the time between cycle starts.
const DefaultInterval = 5 * time.Minute

// CycleRunner runs a single poll cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) []core.CycleOutcome
}

// Scheduler repeats cycles on a fixed interval. Cycles run on the calling
// goroutine, so a slow cycle delays the next one instead of overlapping it.
type Scheduler struct {
	Runner   CycleRunner
	Interval time.Duration
	Logger   core.Logger

	// OnCycle, when set, receives the outcomes of every completed cycle.
	OnCycle func(outcomes []core.CycleOutcome)
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	s.runOnce(ctx, 1)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for cycle := 2; ; cycle++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runOnce(ctx, cycle)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, cycle int) {
	if ctx.Err() != nil {
		return
	}

	started := time.Now()
	outcomes := s.Runner.RunCycle(ctx)
	summary := Summarize(outcomes)

	s.logger().Info("poll cycle complete",
		zap.Int("cycle", cycle),
		zap.Int("apis", summary.Total),
		zap.Int("sampled", summary.Sampled),
		zap.Int("request_failed", summary.RequestFailed),
		zap.Int("extraction_failed", summary.ExtractionFailed),
		zap.Int("alerts", summary.Alerts),
		zap.Duration("duration", time.Since(started)),
	)
	for _, outcome := range outcomes {
		if outcome.Kind != core.OutcomeSampled {
			s.logger().Warn("api check failed",
				zap.String("api", outcome.APIName),
				zap.String("outcome", string(outcome.Kind)),
				zap.String("reason", outcome.Reason),
			)
		}
	}

	if s.OnCycle != nil {
		s.OnCycle(outcomes)
	}
}

// CycleSummary counts outcomes by kind.
type CycleSummary struct {
	Total            int `json:"total"`
	Sampled          int `json:"sampled"`
	RequestFailed    int `json:"request_failed"`
	ExtractionFailed int `json:"extraction_failed"`
	Alerts           int `json:"alerts"`
}

func Summarize(outcomes []core.CycleOutcome) CycleSummary {
	summary := CycleSummary{Total: len(outcomes)}
	for _, outcome := range outcomes {
		switch outcome.Kind {
		case core.OutcomeSampled:
			summary.Sampled++
		case core.OutcomeRequestFailed:
			summary.RequestFailed++
		case core.OutcomeExtractionFailed:
			summary.ExtractionFailed++
		}
		if outcome.AlertFired {
			summary.Alerts++
		}
	}
	return summary
}

func (s *Scheduler) logger() core.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return core.NopLogger()
}
