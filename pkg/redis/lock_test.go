package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *Client {
	t.Helper()
	if os.Getenv("TRELLIS_INTEGRATION") != "1" {
		t.Skip("set TRELLIS_INTEGRATION=1 to run Redis integration tests")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	client, err := NewClient(ctx, Config{Host: host, Port: port.Int()}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLocker(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	locker := NewLocker(client, "")

	t.Run("second acquire fails while held", func(t *testing.T) {
		lock, err := locker.Acquire(ctx, "tenant-a", time.Minute)
		require.NoError(t, err)

		_, err = locker.Acquire(ctx, "tenant-a", time.Minute)
		assert.ErrorIs(t, err, ErrLockNotAcquired)

		other, err := locker.Acquire(ctx, "tenant-b", time.Minute)
		require.NoError(t, err)
		require.NoError(t, other.Release(ctx))

		require.NoError(t, lock.Release(ctx))
		assert.ErrorIs(t, lock.Release(ctx), ErrLockNotHeld)
	})

	t.Run("try acquire waits for release", func(t *testing.T) {
		lock, err := locker.Acquire(ctx, "tenant-c", time.Minute)
		require.NoError(t, err)

		go func() {
			time.Sleep(50 * time.Millisecond)
			_ = lock.Release(ctx)
		}()

		next, err := locker.TryAcquire(ctx, "tenant-c", time.Minute, 2*time.Second)
		require.NoError(t, err)
		require.NoError(t, next.Release(ctx))
	})

	t.Run("try acquire times out", func(t *testing.T) {
		lock, err := locker.Acquire(ctx, "tenant-d", time.Minute)
		require.NoError(t, err)
		defer func() { _ = lock.Release(ctx) }()

		_, err = locker.TryAcquire(ctx, "tenant-d", time.Minute, 30*time.Millisecond)
		assert.ErrorIs(t, err, ErrLockNotAcquired)
	})

	t.Run("expired lock can be taken and not extended", func(t *testing.T) {
		lock, err := locker.Acquire(ctx, "tenant-e", 20*time.Millisecond)
		require.NoError(t, err)
		time.Sleep(60 * time.Millisecond)

		next, err := locker.Acquire(ctx, "tenant-e", time.Minute)
		require.NoError(t, err)
		assert.ErrorIs(t, lock.Extend(ctx, time.Minute), ErrLockNotHeld)
		require.NoError(t, next.Extend(ctx, 2*time.Minute))
		require.NoError(t, next.Release(ctx))
	})
}
