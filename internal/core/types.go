package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DefaultThresholdPercent is applied when an API is registered without a threshold.
const DefaultThresholdPercent = 95.0

// MonitoredAPI describes one tracked endpoint.
type MonitoredAPI struct {
	Name             string            `json:"name" yaml:"name"`
	Endpoint         string            `json:"endpoint" yaml:"endpoint"`
	RemainingHeader  string            `json:"remaining_header,omitempty" yaml:"remaining_header,omitempty"`
	LimitHeader      string            `json:"limit_header,omitempty" yaml:"limit_header,omitempty"`
	AuthHeaderName   string            `json:"auth_header_name,omitempty" yaml:"auth_header_name,omitempty"`
	AuthHeaderValue  string            `json:"-" yaml:"auth_header_value,omitempty"`
	Headers          map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	ThresholdPercent float64           `json:"threshold_percent" yaml:"threshold_percent"`
	CreatedAt        time.Time         `json:"created_at" yaml:"created_at"`
}

// Key returns the case-insensitive registry key for the API.
func (a MonitoredAPI) Key() string {
	return NormalizeName(a.Name)
}

// Validate checks the fields required before an API can be registered.
func (a MonitoredAPI) Validate() error {
	if NormalizeName(a.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAPI)
	}

	endpoint := strings.TrimSpace(a.Endpoint)
	if endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidAPI)
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: invalid endpoint: %v", ErrInvalidAPI, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: endpoint must use http or https", ErrInvalidAPI)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: endpoint host is required", ErrInvalidAPI)
	}

	if err := ValidateThreshold(a.ThresholdPercent); err != nil {
		return err
	}

	if strings.TrimSpace(a.AuthHeaderValue) != "" && strings.TrimSpace(a.AuthHeaderName) == "" {
		return fmt.Errorf("%w: auth header value given without a header name", ErrInvalidAPI)
	}

	return nil
}

// ValidateThreshold enforces the (0,100] threshold range.
func ValidateThreshold(percent float64) error {
	if percent <= 0 || percent > 100 {
		return fmt.Errorf("%w: threshold must be in (0,100], got %g", ErrInvalidAPI, percent)
	}
	return nil
}

// NormalizeName lower-cases and trims an API name for keyed lookups.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SampleSource identifies where the remaining/limit values were read from.
type SampleSource string

const (
	SourceHeader SampleSource = "header"
	SourceBody   SampleSource = "body"
)

// UsageSample is one observation of an API's rate-limit counters.
type UsageSample struct {
	ID        string       `json:"id"`
	APIName   string       `json:"api_name"`
	Remaining int          `json:"remaining"`
	Limit     int          `json:"limit"`
	SampledAt time.Time    `json:"sampled_at"`
	Source    SampleSource `json:"source,omitempty"`
}

// Validate rejects samples that cannot produce a usage ratio.
func (s UsageSample) Validate() error {
	switch {
	case s.Limit <= 0:
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidSample, s.Limit)
	case s.Remaining < 0:
		return fmt.Errorf("%w: remaining must not be negative, got %d", ErrInvalidSample, s.Remaining)
	case s.Remaining > s.Limit:
		return fmt.Errorf("%w: remaining %d exceeds limit %d", ErrInvalidSample, s.Remaining, s.Limit)
	}
	return nil
}

// UsageRatio returns 1 - remaining/limit. Callers must Validate first.
func (s UsageSample) UsageRatio() float64 {
	return 1 - float64(s.Remaining)/float64(s.Limit)
}

// UsagePercent returns the usage ratio scaled to 0-100.
func (s UsageSample) UsagePercent() float64 {
	return s.UsageRatio() * 100
}

// AlertState tracks whether an API is currently alerting.
type AlertState struct {
	IsAlerting       bool       `json:"is_alerting"`
	LastAlertAt      *time.Time `json:"last_alert_at,omitempty"`
	LastUsagePercent float64    `json:"last_usage_percent"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// OutcomeKind classifies a single API check within a cycle.
type OutcomeKind string

const (
	OutcomeSampled          OutcomeKind = "sampled"
	OutcomeRequestFailed    OutcomeKind = "request_failed"
	OutcomeExtractionFailed OutcomeKind = "extraction_failed"
)

// CycleOutcome reports what happened to one API during a poll cycle.
type CycleOutcome struct {
	APIName    string       `json:"api_name"`
	Kind       OutcomeKind  `json:"kind"`
	Sample     *UsageSample `json:"sample,omitempty"`
	State      *AlertState  `json:"state,omitempty"`
	AlertFired bool         `json:"alert_fired"`
	StatusCode int          `json:"status_code,omitempty"`
	Reason     string       `json:"reason,omitempty"`
}
