package monitor

import (
	"sync"
	"time"
)

// maxConsecutiveErrors marks a job unhealthy once exceeded.
const maxConsecutiveErrors = 3

// RetentionMonitor tracks the health of the periodic retention job.
type RetentionMonitor struct {
	mu                sync.RWMutex
	staleAfter        time.Duration
	now               func() time.Time
	lastSuccess       time.Time
	lastAttempt       time.Time
	lastDeleted       int
	consecutiveErrors int
	lastError         string
}

// NewRetentionMonitor creates a monitor that reports unhealthy when no run
// has succeeded within staleAfter.
func NewRetentionMonitor(staleAfter time.Duration) *RetentionMonitor {
	return &RetentionMonitor{staleAfter: staleAfter, now: time.Now}
}

// RecordSuccess records a successful run that deleted n events.
func (rm *RetentionMonitor) RecordSuccess(deleted int) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	now := rm.now()
	rm.lastSuccess = now
	rm.lastAttempt = now
	rm.lastDeleted = deleted
	rm.consecutiveErrors = 0
	rm.lastError = ""
}

// RecordFailure records a failed run.
func (rm *RetentionMonitor) RecordFailure(err error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.lastAttempt = rm.now()
	rm.consecutiveErrors++
	if err != nil {
		rm.lastError = err.Error()
	}
}

// IsHealthy returns false when retention never succeeded, has not succeeded
// within the stale window, or failed more than 3 times in a row.
func (rm *RetentionMonitor) IsHealthy() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.healthyLocked()
}

func (rm *RetentionMonitor) healthyLocked() bool {
	if rm.lastSuccess.IsZero() {
		return false
	}
	if rm.now().Sub(rm.lastSuccess) > rm.staleAfter {
		return false
	}
	return rm.consecutiveErrors <= maxConsecutiveErrors
}

// RetentionStatus is the retention section of the health report.
type RetentionStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	LastDeleted       int    `json:"last_deleted"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current retention status for health checks.
func (rm *RetentionMonitor) Status() RetentionStatus {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	status := RetentionStatus{
		Healthy:     rm.healthyLocked(),
		LastDeleted: rm.lastDeleted,
	}
	if !rm.lastSuccess.IsZero() {
		status.LastSuccess = rm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = rm.now().Sub(rm.lastSuccess).Round(time.Second).String()
	}
	if !rm.lastAttempt.IsZero() {
		status.LastAttempt = rm.lastAttempt.Format(time.RFC3339)
	}
	if rm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = rm.consecutiveErrors
		status.LastError = rm.lastError
	}
	return status
}
