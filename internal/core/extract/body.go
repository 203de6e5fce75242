package extract

import (
	"encoding/json"
	"mime"
	"sort"
	"strings"

	"github.com/ratewatch/ratewatch/internal/core"
)

type rateCounters struct {
	Remaining *int `json:"remaining"`
	Limit     *int `json:"limit"`
}

type rateBody struct {
	Rate      *rateCounters           `json:"rate"`
	Resources map[string]rateCounters `json:"resources"`
}

// IsJSON reports whether a Content-Type header denotes a JSON payload.
func IsJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	mediaType = strings.ToLower(mediaType)
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// Body extracts counters from a JSON rate-limit body such as GitHub's
// /rate_limit response. "rate" wins over "resources"; resources are scanned
// in key order.
func Body(body []byte) (Result, error) {
	var payload rateBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return Result{}, core.ErrHeaderNotFound
	}

	if payload.Rate != nil && payload.Rate.Remaining != nil && payload.Rate.Limit != nil {
		return counters(*payload.Rate)
	}

	keys := make([]string, 0, len(payload.Resources))
	for key := range payload.Resources {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		resource := payload.Resources[key]
		if resource.Remaining != nil && resource.Limit != nil {
			return counters(resource)
		}
	}

	return Result{}, core.ErrHeaderNotFound
}

func counters(c rateCounters) (Result, error) {
	if *c.Remaining < 0 || *c.Limit < 0 {
		return Result{}, core.ErrNotNumeric
	}
	return Result{Remaining: *c.Remaining, Limit: *c.Limit}, nil
}
