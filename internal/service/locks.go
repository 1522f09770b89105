package service

import (
	"context"
	"errors"
	"time"

	"github.com/outreachpro/outreach/internal/database"
)

// errLockLost means a held lock expired and may now belong to another run
var errLockLost = errors.New("lock expired before it was renewed")

// Locker guards per-account and per-attempt critical sections
type Locker interface {
	// Lock returns ErrConcurrentOperation when the key is already held
	Lock(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock. Long operations call Extend between steps so the
// lock outlives them.
type Lease interface {
	Extend(ctx context.Context) error
	Release(ctx context.Context) error
}

// RedisLocker implements Locker with SET NX keys, so the guard holds across
// server replicas
type RedisLocker struct {
	rdb *database.Redis
}

// NewRedisLocker creates a RedisLocker
func NewRedisLocker(rdb *database.Redis) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	lock, err := l.rdb.Acquire(ctx, key, ttl)
	if errors.Is(err, database.ErrLockHeld) {
		return nil, ErrConcurrentOperation
	}
	if err != nil {
		return nil, err
	}
	return &redisLease{lock: lock, ttl: ttl}, nil
}

type redisLease struct {
	lock *database.Lock
	ttl  time.Duration
}

func (l *redisLease) Extend(ctx context.Context) error {
	err := l.lock.Extend(ctx, l.ttl)
	if errors.Is(err, database.ErrLockLost) {
		return errLockLost
	}
	return err
}

func (l *redisLease) Release(ctx context.Context) error {
	return l.lock.Release(ctx)
}

func draftLockKey(accountID string) string {
	return "outreach:lock:drafts:" + accountID
}

func sendLockKey(attemptID string) string {
	return "outreach:lock:send:" + attemptID
}
