// Package breaker implements the circuit-breaker fabric (C5): a
// consecutive-failure counter with auto-reset and optional on-disk
// persistence, instantiated at global, component, operation, and token
// scope. It is deliberately not sony/gobreaker's ratio-over-window model —
// see DESIGN.md for why that model cannot serve this contract.
package breaker

import (
	"sync"
	"time"
)

// Type identifies the scope a CircuitBreaker gates.
type Type string

const (
	Global    Type = "global"
	Component Type = "component"
	Operation Type = "operation"
	Token     Type = "token"
)

// Metrics accumulates lifetime counters for one breaker.
type Metrics struct {
	TotalActivations    int        `json:"total_activations"`
	TotalResets         int        `json:"total_resets"`
	TotalFailures       int        `json:"total_failures"`
	CurrentFailures     int        `json:"current_failures"`
	LastActivationTime  *time.Time `json:"last_activation_time,omitempty"`
	LastResetTime       *time.Time `json:"last_reset_time,omitempty"`
	AverageResetMinutes float64    `json:"average_reset_minutes"`
}

// CircuitBreaker tracks check/increment_failures/reset_failures/activate/
// reset over a consecutive-failure counter.
type CircuitBreaker struct {
	mu sync.Mutex

	breakerType            Type
	identifier              string
	maxConsecutiveFailures int
	resetAfter              time.Duration

	onActivate func()
	onReset    func()

	persistencePath string

	consecutiveFailures int
	isActive            bool
	activatedAt         *time.Time

	metrics Metrics
}

// Options configure a new CircuitBreaker.
type Options struct {
	Type                   Type
	Identifier             string
	MaxConsecutiveFailures int
	ResetAfter             time.Duration
	OnActivate             func()
	OnReset                func()
	PersistencePath        string
}

// New constructs a CircuitBreaker, restoring persisted state if a
// PersistencePath is set and a state file already exists there.
func New(opts Options) *CircuitBreaker {
	cb := &CircuitBreaker{
		breakerType:            opts.Type,
		identifier:              opts.Identifier,
		maxConsecutiveFailures: opts.MaxConsecutiveFailures,
		resetAfter:              opts.ResetAfter,
		onActivate:              opts.OnActivate,
		onReset:                 opts.OnReset,
		persistencePath:         opts.PersistencePath,
	}
	if cb.persistencePath != "" {
		cb.loadState()
	}
	return cb
}

// Check reports whether the breaker currently gates work. It performs the
// auto-reset transition as a side effect when reset_after has elapsed.
// ResetAfter <= 0 disables auto-reset entirely: the breaker then only
// clears via an explicit Reset call.
func (cb *CircuitBreaker) Check() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.isActive {
		return false
	}

	if cb.resetAfter > 0 && cb.activatedAt != nil && time.Since(*cb.activatedAt) >= cb.resetAfter {
		cb.resetLocked()
		cb.mu.Unlock()
		cb.recordReset()
		cb.persistState()
		cb.mu.Lock()
		return false
	}

	return true
}

// IncrementFailures records one failure and activates the breaker once the
// consecutive count reaches the configured threshold.
func (cb *CircuitBreaker) IncrementFailures() {
	cb.mu.Lock()
	cb.consecutiveFailures++
	cb.metrics.TotalFailures++
	cb.metrics.CurrentFailures = cb.consecutiveFailures
	shouldActivate := cb.consecutiveFailures >= cb.maxConsecutiveFailures && !cb.isActive
	cb.mu.Unlock()

	cb.recordFailure()

	if shouldActivate {
		cb.Activate()
	}
}

// ResetFailures zeroes the consecutive-failure counter without changing the
// active flag.
func (cb *CircuitBreaker) ResetFailures() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	cb.metrics.CurrentFailures = 0
}

// Activate trips the breaker. Idempotent: a second call while already
// active is a no-op.
func (cb *CircuitBreaker) Activate() {
	cb.mu.Lock()
	if cb.isActive {
		cb.mu.Unlock()
		return
	}
	now := time.Now()
	cb.isActive = true
	cb.activatedAt = &now
	cb.metrics.TotalActivations++
	cb.metrics.LastActivationTime = &now
	onActivate := cb.onActivate
	cb.mu.Unlock()

	cb.recordActivation()

	if onActivate != nil {
		safeCall(onActivate)
	}
	cb.persistState()
}

// Reset clears the breaker back to inactive, updating the rolling average
// reset time metric. Idempotent: the reset metric and the onReset callback
// fire only when the breaker was active.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	wasActive := cb.isActive
	cb.resetLocked()
	onReset := cb.onReset
	cb.mu.Unlock()

	if wasActive {
		cb.recordReset()
		if onReset != nil {
			safeCall(onReset)
		}
	}
	cb.persistState()
}

// resetLocked performs the reset transition; caller must hold cb.mu.
func (cb *CircuitBreaker) resetLocked() {
	if cb.isActive {
		cb.metrics.TotalResets++
		now := time.Now()
		cb.metrics.LastResetTime = &now

		if cb.activatedAt != nil {
			elapsedMinutes := now.Sub(*cb.activatedAt).Minutes()
			n := float64(cb.metrics.TotalResets)
			cb.metrics.AverageResetMinutes = (cb.metrics.AverageResetMinutes*(n-1) + elapsedMinutes) / n
		}
	}

	cb.isActive = false
	cb.activatedAt = nil
	cb.consecutiveFailures = 0
	cb.metrics.CurrentFailures = 0
}

// IsActive reports the current gate flag without performing auto-reset.
func (cb *CircuitBreaker) IsActive() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.isActive
}

// ConsecutiveFailures returns the current failure count.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures
}

// Snapshot returns a copy of the breaker's metrics and state, suitable for
// the operator control surface or for CircuitBreakerState persistence.
func (cb *CircuitBreaker) Snapshot() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return State{
		Type:                cb.breakerType,
		Identifier:          cb.identifier,
		ConsecutiveFailures: cb.consecutiveFailures,
		IsActive:            cb.isActive,
		ActivatedAt:         cb.activatedAt,
		Metrics:             cb.metrics,
	}
}

// State is the serializable CircuitBreakerState.
type State struct {
	Type                Type       `json:"type"`
	Identifier          string     `json:"identifier"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	IsActive            bool       `json:"is_active"`
	ActivatedAt         *time.Time `json:"activated_at,omitempty"`
	Metrics             Metrics    `json:"metrics"`
}

func safeCall(fn func()) {
	defer func() {
		_ = recover()
	}()
	fn()
}
