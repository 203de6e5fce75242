package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/ratewatch/ratewatch/internal/core"
)

// MemoryStore is a mutex-guarded Store that lives for the process only.
type MemoryStore struct {
	mu         sync.RWMutex
	states     map[string]core.AlertState
	samples    map[string][]core.UsageSample
	rateLimits map[string]core.RateLimitState
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:     make(map[string]core.AlertState),
		samples:    make(map[string][]core.UsageSample),
		rateLimits: make(map[string]core.RateLimitState),
	}
}

func (m *MemoryStore) GetAlertState(_ context.Context, apiName string) (*core.AlertState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[core.NormalizeName(apiName)]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (m *MemoryStore) SaveAlertState(_ context.Context, apiName string, state core.AlertState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[core.NormalizeName(apiName)] = state
	return nil
}

func (m *MemoryStore) ListAlertStates(_ context.Context) (map[string]core.AlertState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]core.AlertState, len(m.states))
	for key, state := range m.states {
		out[key] = state
	}
	return out, nil
}

func (m *MemoryStore) ResetAlertState(_ context.Context, apiName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, core.NormalizeName(apiName))
	return nil
}

func (m *MemoryStore) ResetAllAlertStates(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := len(m.states)
	m.states = make(map[string]core.AlertState)
	return count, nil
}

func (m *MemoryStore) AppendSample(_ context.Context, sample core.UsageSample, maxSamples int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := core.NormalizeName(sample.APIName)
	samples := append(m.samples[key], sample)
	if maxSamples > 0 && len(samples) > maxSamples {
		samples = append([]core.UsageSample(nil), samples[len(samples)-maxSamples:]...)
	}
	m.samples[key] = samples
	return nil
}

// ListSamples returns up to limit samples, oldest first.
func (m *MemoryStore) ListSamples(_ context.Context, apiName string, limit int) ([]core.UsageSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	samples := m.samples[core.NormalizeName(apiName)]
	if limit > 0 && len(samples) > limit {
		samples = samples[len(samples)-limit:]
	}
	out := append([]core.UsageSample(nil), samples...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SampledAt.Before(out[j].SampledAt) })
	return out, nil
}

func (m *MemoryStore) LatestSample(_ context.Context, apiName string) (*core.UsageSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	samples := m.samples[core.NormalizeName(apiName)]
	if len(samples) == 0 {
		return nil, nil
	}
	latest := samples[len(samples)-1]
	return &latest, nil
}

func (m *MemoryStore) GetRateLimit(_ context.Context, apiName string) (*core.RateLimitState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.rateLimits[core.NormalizeName(apiName)]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (m *MemoryStore) UpdateRateLimit(_ context.Context, apiName string, state *core.RateLimitState) error {
	if state == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rateLimits[core.NormalizeName(apiName)] = *state
	return nil
}

// ForgetAPI drops everything held for one API.
func (m *MemoryStore) ForgetAPI(_ context.Context, apiName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := core.NormalizeName(apiName)
	delete(m.states, key)
	delete(m.samples, key)
	delete(m.rateLimits, key)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
