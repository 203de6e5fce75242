package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUsageSampleDocumentedExample(t *testing.T) {
	sample := UsageSample{Remaining: 45, Limit: 5000}
	require.NoError(t, sample.Validate())
	require.InDelta(t, 99.1, sample.UsagePercent(), 0.001)
}

func TestUsageSampleValidate(t *testing.T) {
	cases := []struct {
		name      string
		remaining int
		limit     int
	}{
		{"ZeroLimit", 0, 0},
		{"NegativeLimit", 0, -1},
		{"NegativeRemaining", -1, 100},
		{"RemainingAboveLimit", 6000, 5000},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := UsageSample{Remaining: tc.remaining, Limit: tc.limit}.Validate()
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalidSample))
		})
	}
}

func TestMonitoredAPIValidate(t *testing.T) {
	valid := MonitoredAPI{Name: "GitHub", Endpoint: "https://api.github.com/rate_limit", ThresholdPercent: 95}
	require.NoError(t, valid.Validate())

	noName := valid
	noName.Name = "  "
	require.ErrorIs(t, noName.Validate(), ErrInvalidAPI)

	badScheme := valid
	badScheme.Endpoint = "ftp://example.com"
	require.ErrorIs(t, badScheme.Validate(), ErrInvalidAPI)

	zeroThreshold := valid
	zeroThreshold.ThresholdPercent = 0
	require.ErrorIs(t, zeroThreshold.Validate(), ErrInvalidAPI)

	overThreshold := valid
	overThreshold.ThresholdPercent = 100.5
	require.ErrorIs(t, overThreshold.Validate(), ErrInvalidAPI)

	full := valid
	full.ThresholdPercent = 100
	require.NoError(t, full.Validate())

	orphanValue := valid
	orphanValue.AuthHeaderValue = "token abc"
	require.ErrorIs(t, orphanValue.Validate(), ErrInvalidAPI)
}

func TestMonitoredAPIKeyIsCaseInsensitive(t *testing.T) {
	require.Equal(t, "github", MonitoredAPI{Name: " GitHub "}.Key())
}
