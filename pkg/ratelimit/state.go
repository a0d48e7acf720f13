// Package ratelimit implements shared request-budget tracking for the
// regulations.gov API. Parallel page workers share a single API key, so the
// remaining budget reported by X-RateLimit-Remaining is tracked in Redis and
// consulted before every request.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyRemaining      = "pca:rate_limit:remaining"
	RedisKeyLimit          = "pca:rate_limit:limit"
	RedisKeyResetTimestamp = "pca:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "pca:rate_limit:last_update"
)

// DefaultHourlyBudget is the per-key request budget regulations.gov grants per
// rolling hour. Assumed until real headers are observed.
const DefaultHourlyBudget = 1000

// Thresholds for rate limit decisions.
const (
	// ThresholdCritical blocks all requests when the remaining budget falls
	// below this value. The tail of the budget is left for the driver's own
	// status calls.
	ThresholdCritical = 10

	// ThresholdWarning applies throttling when the remaining budget falls
	// below this value.
	ThresholdWarning = 50

	// ThresholdHealthy indicates normal operation. At or above this value no
	// restrictions apply.
	ThresholdHealthy = 200
)

// State represents the current shared request-budget state.
// It is shared across all workers via Redis.
type State struct {
	// Remaining is the number of requests left in the current window,
	// extracted from the X-RateLimit-Remaining header.
	Remaining int `json:"remaining"`

	// Limit is the total per-window budget, from X-RateLimit-Limit.
	Limit int `json:"limit"`

	// ResetAt is when the budget window rolls over. regulations.gov does not
	// send a reset header, so this is derived from the top of the next hour.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last refreshed from real headers.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge and should be
// refreshed from headers.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be blocked until the
// window resets.
func (s *State) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the budget window resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on current Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}

// NextWindowReset returns the top of the hour following now.
func NextWindowReset(now time.Time) time.Time {
	return now.Truncate(time.Hour).Add(time.Hour)
}
