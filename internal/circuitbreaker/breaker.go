package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned when circuit is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Implements the circuit breaker pattern. Callers report outcomes explicitly
// so that one logical call spanning several retries counts once.
type CircuitBreaker struct {
	mu              sync.RWMutex
	state           State
	failureCount    int
	openUntil       time.Time
	lastFailureTime time.Time
	lastStateChange time.Time
	onStateChange   func(from, to State)

	// Configuration
	maxFailures int           // Consecutive failures before opening
	cooldown    time.Duration // How long to stay open
	now         func() time.Time
}

type Config struct {
	MaxFailures int           // Default: 5
	Cooldown    time.Duration // Default: 60 seconds
	Clock       func() time.Time

	// Called outside the lock after every transition
	OnStateChange func(from, to State)
}

func New(cfg Config) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &CircuitBreaker{
		state:           StateClosed,
		maxFailures:     cfg.MaxFailures,
		cooldown:        cfg.Cooldown,
		now:             cfg.Clock,
		onStateChange:   cfg.OnStateChange,
		lastStateChange: cfg.Clock(),
	}
}

// Reports whether a call may proceed. While open every caller gets ErrCircuitOpen
// until the cooldown elapses, after which the breaker is half-open.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.RLock()
	state, openUntil := cb.state, cb.openUntil
	cb.mu.RUnlock()

	if state != StateOpen {
		return nil
	}
	if cb.now().Before(openUntil) {
		return ErrCircuitOpen
	}

	cb.mu.Lock()
	from, changed := cb.state, false
	if cb.state == StateOpen && !cb.now().Before(cb.openUntil) {
		changed = cb.setState(StateHalfOpen)
	}
	cb.mu.Unlock()

	if changed {
		cb.notify(from, StateHalfOpen)
	}
	return nil
}

// Records a failed call
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	from := cb.state
	now := cb.now()

	cb.failureCount++
	cb.lastFailureTime = now

	changed := false
	if cb.state == StateHalfOpen || cb.failureCount >= cb.maxFailures {
		// In half-open, any failure reopens the circuit
		cb.openUntil = now.Add(cb.cooldown)
		changed = cb.setState(StateOpen)
	}
	cb.mu.Unlock()

	if changed {
		cb.notify(from, StateOpen)
	}
}

// Records a successful call and zeroes the failure count. A success that lands
// while the breaker is still inside its cooldown does not close it early.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	from := cb.state
	cb.failureCount = 0
	changed := false
	if cb.state != StateOpen || !cb.now().Before(cb.openUntil) {
		changed = cb.setState(StateClosed)
	}
	cb.mu.Unlock()

	if changed {
		cb.notify(from, StateClosed)
	}
}

// Changes the circuit breaker state, reporting whether it actually changed
func (cb *CircuitBreaker) setState(newState State) bool {
	if cb.state == newState {
		return false
	}
	cb.state = newState
	cb.lastStateChange = cb.now()
	return true
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}

// Returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.failureCount = 0
	cb.openUntil = time.Time{}
	changed := cb.setState(StateClosed)
	cb.mu.Unlock()

	if changed {
		cb.notify(from, StateClosed)
	}
}

// Returns current circuit breaker metrics
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return Metrics{
		State:           cb.state,
		FailureCount:    cb.failureCount,
		OpenUntil:       cb.openUntil,
		LastFailureTime: cb.lastFailureTime,
		LastStateChange: cb.lastStateChange,
	}
}

// Holds circuit breaker metrics
type Metrics struct {
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	OpenUntil       time.Time `json:"open_until"`
	LastFailureTime time.Time `json:"last_failure_time"`
	LastStateChange time.Time `json:"last_state_change"`
}
