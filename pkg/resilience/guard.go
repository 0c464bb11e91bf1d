package resilience

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shellflow/shellflow/pkg/models"
	"github.com/shellflow/shellflow/pkg/remote"
)

// Guard is the failure-isolating layer in front of the connection pool. Each
// borrow goes breaker-first, and the whole breaker-wrapped call sits inside a
// bounded retry for transient failures.
type Guard struct {
	pool     *remote.Pool
	breakers *BreakerRegistry
	retry    RetryConfig
	logger   *slog.Logger
}

// NewGuard wraps pool with a breaker registry and retry policy.
func NewGuard(pool *remote.Pool, breakerConfig BreakerConfig, retryConfig RetryConfig, logger *slog.Logger) *Guard {
	return &Guard{
		pool:     pool,
		breakers: NewBreakerRegistry(breakerConfig),
		retry:    retryConfig.withDefaults(),
		logger:   logger.With("module", "resilience_guard"),
	}
}

// GetConnection borrows a connection for key through the breaker and retry
// layers. Breaker rejections are not retried; transient borrow failures are,
// with exponential backoff.
func (g *Guard) GetConnection(ctx context.Context, key models.ConnectionKey) (*remote.Connection, error) {
	var conn *remote.Connection

	err := withRetry(ctx, g.retry, func() error {
		if err := g.breakers.Allow(key); err != nil {
			return err
		}

		borrowed, err := g.pool.Borrow(ctx, key)
		if err != nil {
			var flowErr *models.FlowError
			if errors.As(err, &flowErr) && flowErr.TripsBreaker() {
				state := g.breakers.RecordFailure(key)
				g.logger.Warn("borrow failed",
					"pool_key", key.String(),
					"breaker_state", state.String(),
					"error", err)
			}

			return err
		}

		g.breakers.RecordSuccess(key)
		conn = borrowed

		return nil
	})
	if err != nil {
		return nil, err
	}

	return conn, nil
}

// ReportFailure counts an execution failure on an already borrowed
// connection against the key's breaker. Only connection-layer failures
// qualify; validation and security errors never trip the breaker.
func (g *Guard) ReportFailure(key models.ConnectionKey, err error) {
	var flowErr *models.FlowError
	if errors.As(err, &flowErr) && flowErr.TripsBreaker() {
		g.breakers.RecordFailure(key)
	}
}

// BreakerState returns the breaker state for key.
func (g *Guard) BreakerState(key models.ConnectionKey) BreakerState {
	return g.breakers.State(key)
}

// Metrics exposes per-key breaker counters.
func (g *Guard) Metrics() map[string]BreakerMetrics {
	return g.breakers.Metrics()
}

// ResetBreaker manually closes the breaker for key.
func (g *Guard) ResetBreaker(key models.ConnectionKey) {
	g.breakers.Reset(key)
	g.logger.Info("breaker manually reset", "pool_key", key.String())
}
