package engine

import (
	"time"

	"github.com/ratewatch/ratewatch/internal/core"
)

// DefaultReleaseMargin is the hysteresis gap, in percentage points, below the
// threshold that usage must drop under before an alerting API returns to normal.
const DefaultReleaseMargin = 5.0

// Evaluator applies the two-threshold alert state machine to usage samples.
//
// normal -> alerting when usage >= threshold (alert fires once on this edge).
// alerting -> normal when usage < threshold - ReleaseMargin.
type Evaluator struct {
	ReleaseMargin float64
	Clock         func() time.Time
}

// NewEvaluator returns an evaluator using the given release margin; a negative
// margin falls back to DefaultReleaseMargin.
func NewEvaluator(releaseMargin float64) *Evaluator {
	if releaseMargin < 0 {
		releaseMargin = DefaultReleaseMargin
	}
	return &Evaluator{ReleaseMargin: releaseMargin}
}

// Evaluate returns the next alert state and whether an alert fired.
func (e *Evaluator) Evaluate(sample core.UsageSample, state core.AlertState, thresholdPercent float64) (core.AlertState, bool, error) {
	if err := sample.Validate(); err != nil {
		return state, false, err
	}
	if err := core.ValidateThreshold(thresholdPercent); err != nil {
		return state, false, err
	}

	usage := sample.UsagePercent()
	now := e.now()

	next := state
	next.LastUsagePercent = usage
	next.UpdatedAt = now

	switch {
	case !state.IsAlerting && usage >= thresholdPercent:
		next.IsAlerting = true
		firedAt := now
		next.LastAlertAt = &firedAt
		return next, true, nil
	case state.IsAlerting && usage < thresholdPercent-e.margin():
		next.IsAlerting = false
		return next, false, nil
	default:
		return next, false, nil
	}
}

func (e *Evaluator) margin() float64 {
	if e == nil || e.ReleaseMargin < 0 {
		return DefaultReleaseMargin
	}
	return e.ReleaseMargin
}

func (e *Evaluator) now() time.Time {
	if e != nil && e.Clock != nil {
		return e.Clock()
	}
	return time.Now().UTC()
}
