package client

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// SafetyManager watches portal responses for throttling signals so the
// scheduler can back off instead of hammering the portal.
type SafetyManager struct {
	mu            sync.RWMutex
	Triggered     bool
	TriggerReason string
	TriggeredAt   time.Time

	// Thresholds
	MaxConsecutiveErrors int
	ErrorCount           int
}

// NewSafetyManager creates a new SafetyManager.
func NewSafetyManager() *SafetyManager {
	return &SafetyManager{
		MaxConsecutiveErrors: 5,
	}
}

// CheckResponse inspects a status code for ban signals (403, 429).
// Returns true if safe to proceed, false once the trigger is pulled.
func (sm *SafetyManager) CheckResponse(status int) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.Triggered {
		return false
	}

	switch {
	case status == http.StatusForbidden || status == http.StatusTooManyRequests:
		sm.triggerLocked(fmt.Sprintf("HTTP %d from portal", status))
		return false
	case status >= 500:
		return sm.countLocked("too many consecutive 5xx responses")
	case status >= 200 && status < 300:
		sm.ErrorCount = 0
	}

	return true
}

// CheckError counts a transport failure.
func (sm *SafetyManager) CheckError(err error) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.Triggered {
		return false
	}
	return sm.countLocked("too many consecutive transport errors: " + err.Error())
}

func (sm *SafetyManager) countLocked(reason string) bool {
	sm.ErrorCount++
	if sm.ErrorCount >= sm.MaxConsecutiveErrors {
		sm.triggerLocked(reason)
		return false
	}
	return true
}

func (sm *SafetyManager) triggerLocked(reason string) {
	if !sm.Triggered {
		sm.Triggered = true
		sm.TriggerReason = reason
		sm.TriggeredAt = time.Now()
	}
}

// IsTriggered checks status under a read lock.
func (sm *SafetyManager) IsTriggered() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.Triggered
}

// Reason returns why the trigger was pulled, or "".
func (sm *SafetyManager) Reason() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.TriggerReason
}

// Reset re-arms the manager after a cooldown.
func (sm *SafetyManager) Reset() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.Triggered = false
	sm.TriggerReason = ""
	sm.TriggeredAt = time.Time{}
	sm.ErrorCount = 0
}
