package monitor

import (
	"errors"
	"testing"
	"time"
)

func newTestMonitor(now *time.Time) *RetentionMonitor {
	rm := NewRetentionMonitor(2 * time.Hour)
	rm.now = func() time.Time { return *now }
	return rm
}

func TestRetentionMonitor_RecordSuccess(t *testing.T) {
	now := time.Date(2019, 1, 1, 12, 0, 0, 0, time.UTC)
	rm := newTestMonitor(&now)
	rm.RecordSuccess(42)

	status := rm.Status()
	if !status.Healthy {
		t.Error("Status should be healthy after success")
	}
	if status.LastDeleted != 42 {
		t.Errorf("LastDeleted = %d, want 42", status.LastDeleted)
	}
	if status.ConsecutiveErrors != 0 || status.LastError != "" {
		t.Errorf("unexpected error state: %+v", status)
	}
}

func TestRetentionMonitor_RecordFailure(t *testing.T) {
	now := time.Date(2019, 1, 1, 12, 0, 0, 0, time.UTC)
	rm := newTestMonitor(&now)
	rm.RecordFailure(errors.New("disk full"))

	status := rm.Status()
	if status.ConsecutiveErrors != 1 {
		t.Errorf("ConsecutiveErrors = %d, want 1", status.ConsecutiveErrors)
	}
	if status.LastError != "disk full" {
		t.Errorf("LastError = %q, want %q", status.LastError, "disk full")
	}
	if status.Healthy {
		t.Error("never-succeeded monitor should be unhealthy")
	}
}

func TestRetentionMonitor_IsHealthy(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(rm *RetentionMonitor, now *time.Time)
		expected bool
	}{
		{
			name:     "never succeeded",
			setup:    func(*RetentionMonitor, *time.Time) {},
			expected: false,
		},
		{
			name:     "recent success",
			setup:    func(rm *RetentionMonitor, _ *time.Time) { rm.RecordSuccess(0) },
			expected: true,
		},
		{
			name: "stale success",
			setup: func(rm *RetentionMonitor, now *time.Time) {
				rm.RecordSuccess(0)
				*now = now.Add(3 * time.Hour)
			},
			expected: false,
		},
		{
			name: "a few failures after success",
			setup: func(rm *RetentionMonitor, _ *time.Time) {
				rm.RecordSuccess(0)
				for i := 0; i < 3; i++ {
					rm.RecordFailure(errors.New("boom"))
				}
			},
			expected: true,
		},
		{
			name: "too many failures",
			setup: func(rm *RetentionMonitor, _ *time.Time) {
				rm.RecordSuccess(0)
				for i := 0; i < 4; i++ {
					rm.RecordFailure(errors.New("boom"))
				}
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Date(2019, 1, 1, 12, 0, 0, 0, time.UTC)
			rm := newTestMonitor(&now)
			tt.setup(rm, &now)
			if got := rm.IsHealthy(); got != tt.expected {
				t.Errorf("IsHealthy() = %v, want %v", got, tt.expected)
			}
		})
	}
}
