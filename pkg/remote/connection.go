package remote

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/shellflow/shellflow/pkg/models"
)

// Executor is the narrow surface the execution context dispatches through.
type Executor interface {
	Execute(ctx context.Context, command string, timeout time.Duration) (*Result, error)
}

// Transport abstracts the authenticated SSH client so the pool and tests can
// work against fakes.
type Transport interface {
	OpenChannel() (CommandChannel, error)
	Ping() error
	Close() error
}

// CommandChannel runs exactly one command and is closed afterwards. Closing
// a channel with a command in flight force-kills it.
type CommandChannel interface {
	Run(command string, stdout, stderr io.Writer) error
	Close() error
}

// maxCaptureBytes bounds each captured output stream per command.
const maxCaptureBytes = 1 << 20

// Connection wraps one authenticated remote session. A borrower holds a
// lease, not ownership: Close returns the lease to the pool, ForceClose tears
// the transport down.
type Connection struct {
	key       models.ConnectionKey
	transport Transport
	pool      *Pool
	createdAt time.Time

	mu       sync.Mutex
	lastUsed time.Time
	released bool
	closed   bool
}

func newConnection(key models.ConnectionKey, transport Transport, pool *Pool) *Connection {
	now := time.Now()

	return &Connection{
		key:       key,
		transport: transport,
		pool:      pool,
		createdAt: now,
		lastUsed:  now,
	}
}

// Key returns the pool key this connection belongs to.
func (c *Connection) Key() models.ConnectionKey {
	return c.key
}

// Execute opens a fresh command channel, streams output into bounded buffers
// and blocks up to timeout. Exceeding the bound force-kills the channel and
// reports a timed-out result rather than an error. Cancelling ctx aborts the
// in-flight command the same way.
func (c *Connection) Execute(ctx context.Context, command string, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		return nil, models.NewFlowError(models.ErrKindValidation,
			"give the command a positive execution timeout", errors.New("non-positive timeout"))
	}

	channel, err := c.transport.OpenChannel()
	if err != nil {
		return nil, models.NewFlowError(models.ErrKindConnection,
			"the transport dropped; the connection will be replaced on the next borrow", err)
	}

	var (
		stdout boundedBuffer
		stderr boundedBuffer
	)

	start := time.Now()
	done := make(chan error, 1)

	go func() {
		done <- channel.Run(command, &stdout, &stderr)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err = <-done:
	case <-timer.C:
		_ = channel.Close()
		<-done

		c.touch()

		return &Result{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
			TimedOut: true,
			ExitCode: -1,
		}, nil
	case <-ctx.Done():
		_ = channel.Close()
		<-done

		c.touch()

		return nil, ctx.Err()
	}

	_ = channel.Close()
	c.touch()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()

			return result, nil
		}

		return nil, models.NewFlowError(models.ErrKindConnection,
			"the command channel failed mid-flight; retry against a fresh connection", err)
	}

	return result, nil
}

// IsValid is a cheap transport-level liveness probe, not a round-trip
// command.
func (c *Connection) IsValid() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return false
	}

	return c.transport.Ping() == nil
}

// IdleSince reports how long the connection has been unused.
func (c *Connection) IdleSince() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return time.Since(c.lastUsed)
}

// Close is two-phase: the first call returns the lease to the pool; closing
// a connection that is already released tears it down outright.
func (c *Connection) Close() error {
	c.mu.Lock()

	if c.released || c.pool == nil {
		c.mu.Unlock()

		return c.ForceClose()
	}

	c.released = true
	c.mu.Unlock()

	c.pool.Return(c)

	return nil
}

// ForceClose tears down the transport immediately.
func (c *Connection) ForceClose() error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.closed = true
	c.mu.Unlock()

	return c.transport.Close()
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

// rearm marks a pooled connection borrowed again.
func (c *Connection) rearm() {
	c.mu.Lock()
	c.released = false
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

// boundedBuffer captures at most maxCaptureBytes and silently discards the
// rest, keeping runaway commands from exhausting memory.
type boundedBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if remaining := maxCaptureBytes - len(b.buf); remaining > 0 {
		if len(p) > remaining {
			b.buf = append(b.buf, p[:remaining]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}

	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return string(b.buf)
}
