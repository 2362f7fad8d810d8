package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/semaphore"

	"github.com/Ramsey-B/trellis/pkg/metrics"
	"github.com/Ramsey-B/trellis/pkg/redis"
)

// HeldLock is a distributed lock owned by this process.
type HeldLock interface {
	Release(ctx context.Context) error
	Extend(ctx context.Context, ttl time.Duration) error
}

// DistributedLocker acquires a cross-process lock, waiting up to timeout.
// It returns redis.ErrLockNotAcquired when the wait runs out.
type DistributedLocker interface {
	Lock(ctx context.Context, key string, ttl, timeout time.Duration) (HeldLock, error)
}

type redisLocker struct {
	locker *redis.Locker
}

// RedisLocker adapts a redis.Locker for tenant locking.
func RedisLocker(locker *redis.Locker) DistributedLocker {
	return redisLocker{locker: locker}
}

func (r redisLocker) Lock(ctx context.Context, key string, ttl, timeout time.Duration) (HeldLock, error) {
	lock, err := r.locker.TryAcquire(ctx, key, ttl, timeout)
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// TenantLocks makes runs for the same tenant mutually exclusive. Within the
// process a weighted semaphore per tenant serializes runs; across processes
// an optional distributed lock does.
type TenantLocks struct {
	mu          sync.Mutex
	sems        map[string]*semaphore.Weighted
	distributed DistributedLocker
	ttl         time.Duration
	timeout     time.Duration
	logger      ectologger.Logger
}

// NewTenantLocks builds the lock set. distributed may be nil.
func NewTenantLocks(logger ectologger.Logger, distributed DistributedLocker, ttl, timeout time.Duration) *TenantLocks {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TenantLocks{
		sems:        make(map[string]*semaphore.Weighted),
		distributed: distributed,
		ttl:         ttl,
		timeout:     timeout,
		logger:      logger,
	}
}

func (l *TenantLocks) semaphore(tenantID string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sems[tenantID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.sems[tenantID] = sem
	}
	return sem
}

// Acquire blocks until the tenant is free or the lock timeout passes, in which
// case it returns ErrRunInProgress. The returned func releases the lock and is
// safe to call more than once.
func (l *TenantLocks) Acquire(ctx context.Context, tenantID string) (func(), error) {
	start := time.Now()
	sem := l.semaphore(tenantID)

	if err := l.acquireLocal(ctx, sem); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		metrics.RecordLockWait(false, time.Since(start).Seconds())
		return nil, ErrRunInProgress
	}

	var held HeldLock
	if l.distributed != nil {
		var err error
		remaining := max(l.timeout-time.Since(start), 0)
		held, err = l.distributed.Lock(ctx, "run:"+tenantID, l.ttl, remaining)
		if err != nil {
			sem.Release(1)
			if errors.Is(err, redis.ErrLockNotAcquired) {
				metrics.RecordLockWait(false, time.Since(start).Seconds())
				return nil, ErrRunInProgress
			}
			return nil, fmt.Errorf("failed to acquire distributed lock for tenant %s: %w", tenantID, err)
		}
	}

	metrics.RecordLockWait(true, time.Since(start).Seconds())

	stop := make(chan struct{})
	if held != nil {
		go l.heartbeat(tenantID, held, stop)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			if held != nil {
				if err := held.Release(context.Background()); err != nil {
					l.logger.WithError(err).WithField("tenant_id", tenantID).Warn("Failed to release distributed run lock")
				}
			}
			sem.Release(1)
		})
	}, nil
}

// acquireLocal waits up to the lock timeout. A zero timeout means a single attempt.
func (l *TenantLocks) acquireLocal(ctx context.Context, sem *semaphore.Weighted) error {
	if l.timeout <= 0 {
		if !sem.TryAcquire(1) {
			return ErrRunInProgress
		}
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return sem.Acquire(waitCtx, 1)
}

// heartbeat keeps the distributed lock alive while a long run holds it.
func (l *TenantLocks) heartbeat(tenantID string, held HeldLock, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := held.Extend(context.Background(), l.ttl); err != nil {
				l.logger.WithError(err).WithField("tenant_id", tenantID).Warn("Failed to extend distributed run lock")
			}
		}
	}
}
