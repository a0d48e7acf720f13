package ratelimit

import (
	"testing"
	"time"
)

func TestState_IsStale(t *testing.T) {
	tests := []struct {
		name     string
		state    *State
		maxAge   time.Duration
		expected bool
	}{
		{
			name: "fresh state",
			state: &State{
				LastUpdate: time.Now(),
			},
			maxAge:   5 * time.Minute,
			expected: false,
		},
		{
			name: "stale state",
			state: &State{
				LastUpdate: time.Now().Add(-10 * time.Minute),
			},
			maxAge:   5 * time.Minute,
			expected: true,
		},
		{
			name: "just under max age",
			state: &State{
				LastUpdate: time.Now().Add(-4 * time.Minute),
			},
			maxAge:   5 * time.Minute,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.state.IsStale(tt.maxAge)
			if result != tt.expected {
				t.Errorf("IsStale() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestState_NeedsCriticalBlock(t *testing.T) {
	tests := []struct {
		name      string
		remaining int
		expected  bool
	}{
		{"well above critical threshold", 200, false},
		{"at critical threshold", ThresholdCritical, false},
		{"just below critical threshold", ThresholdCritical - 1, true},
		{"zero remaining", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &State{Remaining: tt.remaining}
			if got := state.NeedsCriticalBlock(); got != tt.expected {
				t.Errorf("NeedsCriticalBlock() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_NeedsThrottling(t *testing.T) {
	tests := []struct {
		name      string
		remaining int
		expected  bool
	}{
		{"healthy budget", ThresholdHealthy, false},
		{"at warning threshold", ThresholdWarning, false},
		{"in warning band", ThresholdWarning - 1, true},
		{"critical is not throttled", ThresholdCritical - 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &State{Remaining: tt.remaining}
			if got := state.NeedsThrottling(); got != tt.expected {
				t.Errorf("NeedsThrottling() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_TimeUntilReset(t *testing.T) {
	tests := []struct {
		name    string
		resetAt time.Time
		isZero  bool
	}{
		{"future reset", time.Now().Add(30 * time.Minute), false},
		{"past reset", time.Now().Add(-1 * time.Minute), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &State{ResetAt: tt.resetAt}
			got := state.TimeUntilReset()
			if tt.isZero && got != 0 {
				t.Errorf("TimeUntilReset() = %v, want 0", got)
			}
			if !tt.isZero && got <= 0 {
				t.Errorf("TimeUntilReset() = %v, want > 0", got)
			}
		})
	}
}

func TestState_UpdateHealth(t *testing.T) {
	state := &State{Remaining: ThresholdHealthy}
	state.UpdateHealth()
	if !state.IsHealthy {
		t.Error("state at healthy threshold should be healthy")
	}

	state.Remaining = ThresholdHealthy - 1
	state.UpdateHealth()
	if state.IsHealthy {
		t.Error("state below healthy threshold should not be healthy")
	}
}

func TestNextWindowReset(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 42, 17, 0, time.UTC)
	reset := NextWindowReset(now)
	want := time.Date(2025, 3, 14, 11, 0, 0, 0, time.UTC)
	if !reset.Equal(want) {
		t.Errorf("NextWindowReset() = %v, want %v", reset, want)
	}
}
