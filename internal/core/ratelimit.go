package core

import "time"

// RateLimitState captures backoff for a polled endpoint that answered 429.
type RateLimitState struct {
	BackoffUntil *time.Time
	Last429At    *time.Time
	Consecutive  int
}
