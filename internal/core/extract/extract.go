// Package extract locates rate-limit counters in HTTP responses.
package extract

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ratewatch/ratewatch/internal/core"
)

// HeaderPair names the remaining-count and limit-count headers of one convention.
type HeaderPair struct {
	Remaining string
	Limit     string
}

// DefaultPairs lists the built-in conventions in precedence order.
var DefaultPairs = []HeaderPair{
	{Remaining: "X-RateLimit-Remaining", Limit: "X-RateLimit-Limit"},
	{Remaining: "RateLimit-Remaining", Limit: "RateLimit-Limit"},
	{Remaining: "X-Rate-Limit-Remaining", Limit: "X-Rate-Limit-Limit"},
}

// Overrides carries per-API header names tried before DefaultPairs.
type Overrides struct {
	Remaining string
	Limit     string
}

// OverridesFor returns the header overrides configured on an API.
func OverridesFor(api core.MonitoredAPI) Overrides {
	return Overrides{Remaining: api.RemainingHeader, Limit: api.LimitHeader}
}

// Result holds the extracted counters and the headers they came from.
type Result struct {
	Remaining int
	Limit     int
	Pair      HeaderPair
}

// Headers extracts remaining/limit counters from response headers.
func Headers(h http.Header, overrides Overrides) (Result, error) {
	return lookup(func(name string) (string, bool) {
		values := h.Values(name)
		if len(values) == 0 {
			// http.Header canonicalizes keys; fall back to a scan for raw maps.
			for key, vals := range h {
				if strings.EqualFold(key, name) && len(vals) > 0 {
					return vals[0], true
				}
			}
			return "", false
		}
		return values[0], true
	}, overrides)
}

// Map extracts counters from a plain header mapping with case-insensitive keys.
func Map(headers map[string]string, overrides Overrides) (Result, error) {
	return lookup(func(name string) (string, bool) {
		for key, value := range headers {
			if strings.EqualFold(key, name) {
				return value, true
			}
		}
		return "", false
	}, overrides)
}

func lookup(get func(string) (string, bool), overrides Overrides) (Result, error) {
	for _, pair := range pairs(overrides) {
		rawRemaining, okRemaining := get(pair.Remaining)
		rawLimit, okLimit := get(pair.Limit)
		if !okRemaining || !okLimit {
			continue
		}

		remaining, err := parseCount(pair.Remaining, rawRemaining)
		if err != nil {
			return Result{}, err
		}
		limit, err := parseCount(pair.Limit, rawLimit)
		if err != nil {
			return Result{}, err
		}
		return Result{Remaining: remaining, Limit: limit, Pair: pair}, nil
	}
	return Result{}, core.ErrHeaderNotFound
}

// pairs builds the ordered candidate list. A single override is paired with the
// default name for the other side of the first convention.
func pairs(overrides Overrides) []HeaderPair {
	remaining := strings.TrimSpace(overrides.Remaining)
	limit := strings.TrimSpace(overrides.Limit)
	if remaining == "" && limit == "" {
		return DefaultPairs
	}
	if remaining == "" {
		remaining = DefaultPairs[0].Remaining
	}
	if limit == "" {
		limit = DefaultPairs[0].Limit
	}

	out := make([]HeaderPair, 0, len(DefaultPairs)+1)
	out = append(out, HeaderPair{Remaining: remaining, Limit: limit})
	return append(out, DefaultPairs...)
}

func parseCount(header, raw string) (int, error) {
	value := strings.TrimSpace(raw)
	// Some providers send "limit;w=60" style structured values.
	if idx := strings.IndexAny(value, ";,"); idx >= 0 {
		value = strings.TrimSpace(value[:idx])
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s=%q", core.ErrNotNumeric, header, raw)
	}
	return n, nil
}
