// Package resilience wraps pool borrows behind a per-key circuit breaker and
// a bounded exponential-backoff retry policy.
package resilience

import (
	"sync"
	"time"

	"github.com/shellflow/shellflow/pkg/models"
)

// BreakerState represents the state of one circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // Normal operation
	BreakerOpen                         // Failing, rejecting borrows
	BreakerHalfOpen                     // Single trial borrow allowed
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures every breaker in a registry.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures within the
	// rolling window before the circuit opens.
	FailureThreshold int
	// Window is the rolling interval consecutive failures are counted in; a
	// failure older than the window resets the count.
	Window time.Duration
	// Cooldown is how long the circuit stays open before allowing a trial.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the bounds used when a field is zero.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Window:           time.Minute,
		Cooldown:         30 * time.Second,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	defaults := DefaultBreakerConfig()

	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaults.FailureThreshold
	}

	if c.Window <= 0 {
		c.Window = defaults.Window
	}

	if c.Cooldown <= 0 {
		c.Cooldown = defaults.Cooldown
	}

	return c
}

// BreakerMetrics is the per-key counter snapshot exposed for observability.
type BreakerMetrics struct {
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	TotalFailures       int64  `json:"total_failures"`
	TotalSuccesses      int64  `json:"total_successes"`
	Rejected            int64  `json:"rejected"`
}

type breaker struct {
	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	firstFailureAt      time.Time
	lastFailureAt       time.Time
	halfOpenInFlight    bool
	totalFailures       int64
	totalSuccesses      int64
	rejected            int64
}

// BreakerRegistry manages one circuit breaker per pool key. Safe for
// concurrent use by many sessions.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	config   BreakerConfig
}

// NewBreakerRegistry creates a registry applying config to every key.
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*breaker),
		config:   config.withDefaults(),
	}
}

func (r *BreakerRegistry) breakerFor(key models.ConnectionKey) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[key.String()]
	if !ok {
		b = &breaker{}
		r.breakers[key.String()] = b
	}

	return b
}

// Allow checks whether a borrow for key may proceed. An open circuit fails
// fast; after the cooldown a single trial is let through half-open.
func (r *BreakerRegistry) Allow(key models.ConnectionKey) error {
	b := r.breakerFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil

	case BreakerOpen:
		if time.Since(b.lastFailureAt) >= r.config.Cooldown {
			b.state = BreakerHalfOpen
			b.halfOpenInFlight = true

			return nil
		}

		b.rejected++

		return models.NewFlowError(models.ErrKindConnection,
			"the target kept failing; wait for the cooldown or reset the breaker",
			models.ErrBreakerOpen)

	case BreakerHalfOpen:
		if b.halfOpenInFlight {
			b.rejected++

			return models.NewFlowError(models.ErrKindConnection,
				"a trial borrow is already in flight", models.ErrBreakerOpen)
		}

		b.halfOpenInFlight = true

		return nil
	}

	return nil
}

// RecordSuccess closes the circuit for key.
func (r *BreakerRegistry) RecordSuccess(key models.ConnectionKey) {
	b := r.breakerFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccesses++
	b.consecutiveFailures = 0
	b.halfOpenInFlight = false
	b.state = BreakerClosed
}

// RecordFailure counts a failure against key's rolling window and returns
// the resulting state.
func (r *BreakerRegistry) RecordFailure(key models.ConnectionKey) BreakerState {
	b := r.breakerFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	// Failures older than the window no longer count as consecutive.
	if b.consecutiveFailures > 0 && now.Sub(b.firstFailureAt) > r.config.Window {
		b.consecutiveFailures = 0
	}

	if b.consecutiveFailures == 0 {
		b.firstFailureAt = now
	}

	b.consecutiveFailures++
	b.totalFailures++
	b.lastFailureAt = now

	if b.state == BreakerHalfOpen {
		b.halfOpenInFlight = false
		b.state = BreakerOpen

		return b.state
	}

	if b.consecutiveFailures >= r.config.FailureThreshold {
		b.state = BreakerOpen
	}

	return b.state
}

// State returns key's current state, applying the open-to-half-open
// transition when the cooldown has elapsed.
func (r *BreakerRegistry) State(key models.ConnectionKey) BreakerState {
	b := r.breakerFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && time.Since(b.lastFailureAt) >= r.config.Cooldown {
		b.state = BreakerHalfOpen
		b.halfOpenInFlight = false
	}

	return b.state
}

// Reset manually closes the circuit for key and clears its counters.
func (r *BreakerRegistry) Reset(key models.ConnectionKey) {
	b := r.breakerFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.consecutiveFailures = 0
	b.firstFailureAt = time.Time{}
	b.lastFailureAt = time.Time{}
	b.halfOpenInFlight = false
	b.totalFailures = 0
	b.totalSuccesses = 0
	b.rejected = 0
}

// Metrics returns counter snapshots for every key seen so far.
func (r *BreakerRegistry) Metrics() map[string]BreakerMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]BreakerMetrics, len(r.breakers))

	for key, b := range r.breakers {
		b.mu.Lock()
		out[key] = BreakerMetrics{
			State:               b.state.String(),
			ConsecutiveFailures: b.consecutiveFailures,
			TotalFailures:       b.totalFailures,
			TotalSuccesses:      b.totalSuccesses,
			Rejected:            b.rejected,
		}
		b.mu.Unlock()
	}

	return out
}
