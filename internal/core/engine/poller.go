package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ratewatch/ratewatch/internal/core"
	"github.com/ratewatch/ratewatch/internal/core/extract"
	"github.com/ratewatch/ratewatch/internal/notify"
)

// Poller defaults.
const (
	DefaultWorkers        = 4
	DefaultRequestTimeout = 10 * time.Second
	DefaultMaxSamples     = 288

	maxBodyBytes = 1 << 20
)

// APILister supplies the APIs to check in a cycle.
type APILister interface {
	List() []core.MonitoredAPI
}

// Recorder receives per-cycle observations.
type Recorder interface {
	ObserveOutcome(outcome core.CycleOutcome)
	ObserveNotifyFailure(apiName, backend string)
	ObserveCycle(duration time.Duration)
}

// Poller runs one check of every registered API per cycle.
type Poller struct {
	Registry  APILister
	Client    *http.Client
	Evaluator *Evaluator
	States    StateStore
	History   HistoryStore
	Limiter   *PollLimiter
	Notifier  notify.Notifier
	Metrics   Recorder
	Logger    core.Logger

	Workers        int
	RequestTimeout time.Duration
	HistoryEnabled bool
	MaxSamples     int
	UserAgent      string
	Clock          func() time.Time
}

// RunCycle checks every API once and returns outcomes in registry order.
// One API failing never affects the others.
func (p *Poller) RunCycle(ctx context.Context) []core.CycleOutcome {
	if ctx == nil {
		ctx = context.Background()
	}
	if p == nil || p.Registry == nil {
		return nil
	}

	started := time.Now()
	apis := p.Registry.List()
	outcomes := make([]core.CycleOutcome, len(apis))

	sem := make(chan struct{}, p.workers())
	var wg sync.WaitGroup
	for i, api := range apis {
		wg.Add(1)
		go func(i int, api core.MonitoredAPI) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				outcomes[i] = requestFailed(api, 0, "cycle cancelled")
				return
			}
			defer func() { <-sem }()

			outcomes[i] = p.checkSafe(ctx, api)
		}(i, api)
	}
	wg.Wait()

	for _, outcome := range outcomes {
		if p.Metrics != nil {
			p.Metrics.ObserveOutcome(outcome)
		}
	}
	if p.Metrics != nil {
		p.Metrics.ObserveCycle(time.Since(started))
	}
	return outcomes
}

func (p *Poller) checkSafe(ctx context.Context, api core.MonitoredAPI) (outcome core.CycleOutcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger().Error("api check panicked", zap.String("api", api.Name), zap.Any("panic", r))
			outcome = requestFailed(api, 0, fmt.Sprintf("internal error: %v", r))
		}
	}()
	return p.check(ctx, api)
}

func (p *Poller) check(ctx context.Context, api core.MonitoredAPI) core.CycleOutcome {
	log := p.logger()
	key := backoffKey(api)

	if allowed, wait, err := p.Limiter.Allow(ctx, key); err != nil {
		log.Warn("backoff lookup failed", zap.String("api", api.Name), zap.Error(err))
	} else if !allowed {
		return requestFailed(api, 0, fmt.Sprintf("backing off, retry in %s", wait.Round(time.Second)))
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.requestTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, api.Endpoint, nil)
	if err != nil {
		return requestFailed(api, 0, err.Error())
	}
	req.Header.Set("User-Agent", p.userAgent())
	for key, value := range api.Headers {
		req.Header.Set(key, value)
	}
	if name := strings.TrimSpace(api.AuthHeaderName); name != "" {
		req.Header.Set(name, api.AuthHeaderValue)
	}

	resp, err := p.client().Do(req)
	if err != nil {
		log.Debug("request failed", zap.String("api", api.Name), zap.Error(err))
		return requestFailed(api, 0, fmt.Errorf("%w: %v", core.ErrRequestFailed, err).Error())
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	retryAfter := retryAfterHeader(resp)
	if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode == http.StatusForbidden && retryAfter > 0) {
		wait, err := p.Limiter.Record429(ctx, key, retryAfter)
		if err != nil {
			log.Warn("failed to record backoff", zap.String("api", api.Name), zap.Error(err))
		}
		return requestFailed(api, resp.StatusCode, fmt.Sprintf("rate limited by endpoint (status %d), backing off %s", resp.StatusCode, wait.Round(time.Second)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return requestFailed(api, resp.StatusCode, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	if err := p.Limiter.RecordSuccess(ctx, key); err != nil {
		log.Debug("failed to clear backoff", zap.String("api", api.Name), zap.Error(err))
	}

	result, source, err := p.extract(api, resp)
	if err != nil {
		return core.CycleOutcome{
			APIName:    api.Name,
			Kind:       core.OutcomeExtractionFailed,
			StatusCode: resp.StatusCode,
			Reason:     err.Error(),
		}
	}

	sample := core.UsageSample{
		ID:        uuid.NewString(),
		APIName:   api.Name,
		Remaining: result.Remaining,
		Limit:     result.Limit,
		SampledAt: p.now(),
		Source:    source,
	}
	if err := sample.Validate(); err != nil {
		return core.CycleOutcome{
			APIName:    api.Name,
			Kind:       core.OutcomeExtractionFailed,
			StatusCode: resp.StatusCode,
			Reason:     err.Error(),
		}
	}

	return p.evaluate(ctx, api, sample, resp.StatusCode)
}

func (p *Poller) extract(api core.MonitoredAPI, resp *http.Response) (extract.Result, core.SampleSource, error) {
	result, err := extract.Headers(resp.Header, extract.OverridesFor(api))
	if err == nil {
		return result, core.SourceHeader, nil
	}
	if !errors.Is(err, core.ErrHeaderNotFound) || !extract.IsJSON(resp.Header.Get("Content-Type")) {
		return extract.Result{}, "", err
	}

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if readErr != nil {
		return extract.Result{}, "", err
	}
	result, bodyErr := extract.Body(body)
	if bodyErr != nil {
		return extract.Result{}, "", err
	}
	return result, core.SourceBody, nil
}

func (p *Poller) evaluate(ctx context.Context, api core.MonitoredAPI, sample core.UsageSample, status int) core.CycleOutcome {
	log := p.logger()

	var previous core.AlertState
	if p.States != nil {
		stored, err := p.States.GetAlertState(ctx, api.Name)
		if err != nil {
			log.Warn("failed to load alert state", zap.String("api", api.Name), zap.Error(err))
		} else if stored != nil {
			previous = *stored
		}
	}

	threshold := api.ThresholdPercent
	if threshold == 0 {
		threshold = core.DefaultThresholdPercent
	}

	evaluator := p.Evaluator
	if evaluator == nil {
		evaluator = &Evaluator{ReleaseMargin: DefaultReleaseMargin, Clock: p.Clock}
	}
	state, fired, err := evaluator.Evaluate(sample, previous, threshold)
	if err != nil {
		return core.CycleOutcome{
			APIName:    api.Name,
			Kind:       core.OutcomeExtractionFailed,
			StatusCode: status,
			Reason:     err.Error(),
		}
	}

	if p.States != nil {
		if err := p.States.SaveAlertState(ctx, api.Name, state); err != nil {
			log.Warn("failed to save alert state", zap.String("api", api.Name), zap.Error(err))
		}
	}
	if p.HistoryEnabled && p.History != nil {
		if err := p.History.AppendSample(ctx, sample, p.maxSamples()); err != nil {
			log.Warn("failed to record sample", zap.String("api", api.Name), zap.Error(err))
		}
	}

	log.Debug("sampled api",
		zap.String("api", api.Name),
		zap.Int("remaining", sample.Remaining),
		zap.Int("limit", sample.Limit),
		zap.Float64("usage_percent", sample.UsagePercent()),
		zap.Bool("alerting", state.IsAlerting),
	)

	if fired {
		p.sendAlert(ctx, api, sample, threshold)
	}

	return core.CycleOutcome{
		APIName:    api.Name,
		Kind:       core.OutcomeSampled,
		Sample:     &sample,
		State:      &state,
		AlertFired: fired,
		StatusCode: status,
	}
}

// sendAlert never fails the cycle; delivery errors are logged and counted.
func (p *Poller) sendAlert(ctx context.Context, api core.MonitoredAPI, sample core.UsageSample, threshold float64) {
	log := p.logger()
	if p.Notifier == nil {
		log.Warn("alert fired with no notifier configured", zap.String("api", api.Name))
		return
	}

	message := notify.Render(p.Notifier, notify.NewAlert(api, sample, threshold, p.now()))
	if err := p.Notifier.Send(ctx, message); err != nil {
		log.Error("failed to deliver alert",
			zap.String("api", api.Name),
			zap.String("backend", p.Notifier.Name()),
			zap.Error(err),
		)
		if p.Metrics != nil {
			p.Metrics.ObserveNotifyFailure(api.Name, p.Notifier.Name())
		}
		return
	}
	log.Info("alert delivered",
		zap.String("api", api.Name),
		zap.String("backend", p.Notifier.Name()),
		zap.Float64("usage_percent", sample.UsagePercent()),
	)
}

func requestFailed(api core.MonitoredAPI, status int, reason string) core.CycleOutcome {
	return core.CycleOutcome{
		APIName:    api.Name,
		Kind:       core.OutcomeRequestFailed,
		StatusCode: status,
		Reason:     reason,
	}
}

func (p *Poller) workers() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return DefaultWorkers
}

func (p *Poller) requestTimeout() time.Duration {
	if p.RequestTimeout > 0 {
		return p.RequestTimeout
	}
	return DefaultRequestTimeout
}

func (p *Poller) maxSamples() int {
	if p.MaxSamples > 0 {
		return p.MaxSamples
	}
	return DefaultMaxSamples
}

func (p *Poller) userAgent() string {
	if ua := strings.TrimSpace(p.UserAgent); ua != "" {
		return ua
	}
	return "ratewatch"
}

func (p *Poller) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return &http.Client{}
}

func (p *Poller) logger() core.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return core.NopLogger()
}

func (p *Poller) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now().UTC()
}
