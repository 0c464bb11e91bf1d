package remote

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shellflow/shellflow/pkg/models"
)

func testPool(t *testing.T, config PoolConfig, factory Factory) *Pool {
	t.Helper()

	pool, err := NewPool(config, factory, slog.Default())
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_ = pool.Shutdown(ctx)
	})

	return pool
}

func countingFactory(dials *atomic.Int32) Factory {
	return func(ctx context.Context, key models.ConnectionKey) (Transport, error) {
		dials.Add(1)

		return newFakeTransport(), nil
	}
}

func TestPool_BorrowReturnReuse(t *testing.T) {
	var dials atomic.Int32

	pool := testPool(t, PoolConfig{}, countingFactory(&dials))

	conn, err := pool.Borrow(context.Background(), testKey())
	require.NoError(t, err)
	require.EqualValues(t, 1, dials.Load())

	require.NoError(t, conn.Close())

	again, err := pool.Borrow(context.Background(), testKey())
	require.NoError(t, err)
	assert.Same(t, conn, again, "idle connection should be reused")
	assert.EqualValues(t, 1, dials.Load())
}

func TestPool_PerKeyCapacityNeverExceeded(t *testing.T) {
	var dials atomic.Int32

	pool := testPool(t, PoolConfig{MaxActivePerKey: 2, BorrowTimeout: 50 * time.Millisecond}, countingFactory(&dials))

	first, err := pool.Borrow(context.Background(), testKey())
	require.NoError(t, err)

	_, err = pool.Borrow(context.Background(), testKey())
	require.NoError(t, err)

	stats := pool.Stats()[testKey().String()]
	assert.Equal(t, 2, stats.Borrowed)

	// Third borrow must fail within the borrow timeout, not dial a third
	// connection.
	_, err = pool.Borrow(context.Background(), testKey())
	require.Error(t, err)
	assert.Equal(t, models.ErrKindTimeout, models.KindOf(err))
	assert.EqualValues(t, 2, dials.Load())

	// Releasing one frees a slot.
	require.NoError(t, first.Close())

	_, err = pool.Borrow(context.Background(), testKey())
	require.NoError(t, err)
}

func TestPool_StaleIdleConnectionIsReplaced(t *testing.T) {
	var dials atomic.Int32

	pool := testPool(t, PoolConfig{IdleTimeout: 20 * time.Millisecond}, countingFactory(&dials))

	conn, err := pool.Borrow(context.Background(), testKey())
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	time.Sleep(40 * time.Millisecond)

	fresh, err := pool.Borrow(context.Background(), testKey())
	require.NoError(t, err)
	assert.NotSame(t, conn, fresh, "an idle-expired connection must never be handed out")
	assert.EqualValues(t, 2, dials.Load())
}

func TestPool_ReturnInvalidConnectionCloses(t *testing.T) {
	transport := newFakeTransport()
	pool := testPool(t, PoolConfig{}, func(ctx context.Context, key models.ConnectionKey) (Transport, error) {
		return transport, nil
	})

	conn, err := pool.Borrow(context.Background(), testKey())
	require.NoError(t, err)

	transport.pingErr.Store(errors.New("transport dropped"))
	require.NoError(t, conn.Close())

	assert.True(t, transport.closed.Load())
	assert.Equal(t, 0, pool.Stats()[testKey().String()].Idle)
}

func TestPool_ReturnBeyondIdleCapCloses(t *testing.T) {
	var dials atomic.Int32

	pool := testPool(t, PoolConfig{MaxActivePerKey: 4, MaxIdlePerKey: 1}, countingFactory(&dials))

	first, err := pool.Borrow(context.Background(), testKey())
	require.NoError(t, err)

	second, err := pool.Borrow(context.Background(), testKey())
	require.NoError(t, err)

	require.NoError(t, first.Close())
	require.NoError(t, second.Close())

	assert.Equal(t, 1, pool.Stats()[testKey().String()].Idle)
}

func TestPool_ReapEvictsExpiredIdle(t *testing.T) {
	var dials atomic.Int32

	pool := testPool(t, PoolConfig{IdleTimeout: 10 * time.Millisecond}, countingFactory(&dials))

	conn, err := pool.Borrow(context.Background(), testKey())
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.Equal(t, 1, pool.Stats()[testKey().String()].Idle)

	time.Sleep(20 * time.Millisecond)
	pool.reap()

	assert.Equal(t, 0, pool.Stats()[testKey().String()].Idle)
}

func TestPool_ShutdownDrainsEverything(t *testing.T) {
	transport := newFakeTransport()
	pool, err := NewPool(PoolConfig{}, func(ctx context.Context, key models.ConnectionKey) (Transport, error) {
		return transport, nil
	}, slog.Default())
	require.NoError(t, err)

	conn, err := pool.Borrow(context.Background(), testKey())
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, pool.Shutdown(ctx))
	assert.True(t, transport.closed.Load())

	_, err = pool.Borrow(context.Background(), testKey())
	require.ErrorIs(t, err, models.ErrPoolClosed)
}
