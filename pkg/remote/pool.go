package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shellflow/shellflow/pkg/models"
)

// Factory opens a new authenticated transport for a pool key. The credential
// lookup lives inside the factory so the pool never sees secrets.
type Factory func(ctx context.Context, key models.ConnectionKey) (Transport, error)

// PoolConfig bounds the pool's behavior per key.
type PoolConfig struct {
	// MaxActivePerKey caps connections concurrently borrowed for one key.
	MaxActivePerKey int
	// MaxIdlePerKey caps the idle queue; returns beyond it force-close.
	MaxIdlePerKey int
	// IdleTimeout evicts connections unused for longer than this.
	IdleTimeout time.Duration
	// BorrowTimeout bounds waiting for a free slot when the key is at
	// capacity.
	BorrowTimeout time.Duration
	// ReapSchedule is the cron spec driving the idle reaper.
	ReapSchedule string
}

// DefaultPoolConfig returns the bounds used when a field is zero.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxActivePerKey: 8,
		MaxIdlePerKey:   4,
		IdleTimeout:     5 * time.Minute,
		BorrowTimeout:   10 * time.Second,
		ReapSchedule:    "@every 30s",
	}
}

func (c PoolConfig) withDefaults() PoolConfig {
	defaults := DefaultPoolConfig()

	if c.MaxActivePerKey <= 0 {
		c.MaxActivePerKey = defaults.MaxActivePerKey
	}

	if c.MaxIdlePerKey <= 0 {
		c.MaxIdlePerKey = defaults.MaxIdlePerKey
	}

	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaults.IdleTimeout
	}

	if c.BorrowTimeout <= 0 {
		c.BorrowTimeout = defaults.BorrowTimeout
	}

	if c.ReapSchedule == "" {
		c.ReapSchedule = defaults.ReapSchedule
	}

	return c
}

// PoolStats is the per-key accounting exposed for observability and tests.
type PoolStats struct {
	Idle     int `json:"idle"`
	Borrowed int `json:"borrowed"`
}

type keyQueue struct {
	mu    sync.Mutex
	idle  []*Connection
	slots chan struct{} // capacity == MaxActivePerKey; one token per borrowed connection
}

// Pool is a keyed multiplexer over Connections with borrow/return semantics,
// per-key capacity bounds and a background idle reaper.
type Pool struct {
	config  PoolConfig
	factory Factory
	logger  *slog.Logger
	reaper  *cron.Cron

	mu     sync.Mutex
	keys   map[string]*keyQueue
	closed bool

	closing sync.WaitGroup // in-flight force-closes during shutdown
}

// NewPool creates a pool and starts its idle reaper.
func NewPool(config PoolConfig, factory Factory, logger *slog.Logger) (*Pool, error) {
	pool := &Pool{
		config:  config.withDefaults(),
		factory: factory,
		logger:  logger.With("module", "connection_pool"),
		keys:    make(map[string]*keyQueue),
		reaper:  cron.New(),
	}

	if _, err := pool.reaper.AddFunc(pool.config.ReapSchedule, pool.reap); err != nil {
		return nil, fmt.Errorf("invalid reap schedule %q: %w", pool.config.ReapSchedule, err)
	}

	pool.reaper.Start()

	return pool, nil
}

func (p *Pool) queueFor(key models.ConnectionKey) (*keyQueue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, models.NewFlowError(models.ErrKindConnection,
			"the pool is shut down; restart the runner", models.ErrPoolClosed)
	}

	queue, ok := p.keys[key.String()]
	if !ok {
		queue = &keyQueue{slots: make(chan struct{}, p.config.MaxActivePerKey)}
		p.keys[key.String()] = queue
	}

	return queue, nil
}

// Borrow hands out a live connection for key, reusing an idle one when
// possible and dialing otherwise. It blocks up to BorrowTimeout for a free
// slot when the key is at capacity.
func (p *Pool) Borrow(ctx context.Context, key models.ConnectionKey) (*Connection, error) {
	queue, err := p.queueFor(key)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.config.BorrowTimeout)
	defer cancel()

	select {
	case queue.slots <- struct{}{}:
	case <-waitCtx.Done():
		return nil, models.NewFlowError(models.ErrKindTimeout,
			fmt.Sprintf("all %d connections for %s are busy; raise the per-key capacity or wait", p.config.MaxActivePerKey, key),
			waitCtx.Err())
	}

	conn, err := p.takeIdle(queue, key)
	if err == nil && conn != nil {
		return conn, nil
	}

	transport, err := p.factory(ctx, key)
	if err != nil {
		<-queue.slots

		var flowErr *models.FlowError
		if errors.As(err, &flowErr) {
			return nil, err
		}

		return nil, models.NewFlowError(models.ErrKindConnection,
			"verify the host is reachable and the credentials are valid", err)
	}

	conn = newConnection(key, transport, p)

	p.logger.Debug("opened new connection", "pool_key", key.String())

	return conn, nil
}

// takeIdle pops idle candidates until one passes the liveness and idle-age
// checks. Stale candidates are force-closed.
func (p *Pool) takeIdle(queue *keyQueue, key models.ConnectionKey) (*Connection, error) {
	for {
		queue.mu.Lock()

		if len(queue.idle) == 0 {
			queue.mu.Unlock()

			return nil, nil
		}

		conn := queue.idle[len(queue.idle)-1]
		queue.idle = queue.idle[:len(queue.idle)-1]
		queue.mu.Unlock()

		if conn.IdleSince() > p.config.IdleTimeout || !conn.IsValid() {
			p.logger.Debug("evicting stale idle connection", "pool_key", key.String())
			_ = conn.ForceClose()

			continue
		}

		conn.rearm()

		return conn, nil
	}
}

// Return puts a borrowed connection back on its key's idle queue, or
// force-closes it when it is no longer live or the queue is full.
func (p *Pool) Return(conn *Connection) {
	p.mu.Lock()
	queue, ok := p.keys[conn.key.String()]
	closed := p.closed
	p.mu.Unlock()

	if !ok || closed {
		_ = conn.ForceClose()

		return
	}

	// Free the capacity slot regardless of what happens to the connection.
	defer func() {
		select {
		case <-queue.slots:
		default:
		}
	}()

	if !conn.IsValid() {
		_ = conn.ForceClose()

		return
	}

	queue.mu.Lock()
	defer queue.mu.Unlock()

	if len(queue.idle) >= p.config.MaxIdlePerKey {
		_ = conn.ForceClose()

		return
	}

	queue.idle = append(queue.idle, conn)
}

// Stats returns the per-key accounting snapshot.
func (p *Pool) Stats() map[string]PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make(map[string]PoolStats, len(p.keys))

	for name, queue := range p.keys {
		queue.mu.Lock()
		idle := len(queue.idle)
		queue.mu.Unlock()

		stats[name] = PoolStats{
			Idle:     idle,
			Borrowed: len(queue.slots),
		}
	}

	return stats
}

// reap sweeps every key's idle queue, closing connections that fail the
// liveness or idle-timeout checks. It never blocks borrowers beyond the
// per-queue mutex.
func (p *Pool) reap() {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return
	}

	queues := make([]*keyQueue, 0, len(p.keys))
	for _, queue := range p.keys {
		queues = append(queues, queue)
	}
	p.mu.Unlock()

	for _, queue := range queues {
		queue.mu.Lock()

		kept := queue.idle[:0]

		for _, conn := range queue.idle {
			if conn.IdleSince() > p.config.IdleTimeout || !conn.IsValid() {
				p.closing.Add(1)

				go func(c *Connection) {
					defer p.closing.Done()

					_ = c.ForceClose()
				}(conn)

				continue
			}

			kept = append(kept, conn)
		}

		queue.idle = kept
		queue.mu.Unlock()
	}
}

// Shutdown drains every key and force-closes all idle connections, waiting
// briefly for in-flight closes.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return nil
	}

	p.closed = true
	keys := p.keys
	p.keys = make(map[string]*keyQueue)
	p.mu.Unlock()

	p.reaper.Stop()

	for _, queue := range keys {
		queue.mu.Lock()

		for _, conn := range queue.idle {
			p.closing.Add(1)

			go func(c *Connection) {
				defer p.closing.Done()

				_ = c.ForceClose()
			}(conn)
		}

		queue.idle = nil
		queue.mu.Unlock()
	}

	done := make(chan struct{})

	go func() {
		p.closing.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool shutdown interrupted with closes in flight: %w", ctx.Err())
	}
}
