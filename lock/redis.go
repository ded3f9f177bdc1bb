// Package lock provides a Redis-backed production.Locker so reviewers on
// different server instances are serialised per batch.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/production-ledger/production"
)

// DefaultTTL bounds how long a crashed holder can block a batch.
const DefaultTTL = 30 * time.Second

// Redis implements production.Locker with bsm/redislock.
type Redis struct {
	locker *redislock.Client
	ttl    time.Duration
	logger logrus.FieldLogger
}

// NewRedis wraps an existing client. A non-positive ttl means DefaultTTL.
func NewRedis(client redislock.RedisClient, ttl time.Duration, logger logrus.FieldLogger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Redis{
		locker: redislock.New(client),
		ttl:    ttl,
		logger: logger,
	}
}

// Connect dials addr and pings it once.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       0,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Acquire obtains key without retrying. A held key is ErrBatchBusy.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	l, err := r.locker.Obtain(ctx, key, r.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, production.ErrBatchBusy
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	return func() {
		// The request context may already be cancelled.
		if err := l.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.logger.WithFields(logrus.Fields{
				"lock": key,
			}).WithError(err).Warn("failed to release lock")
		}
	}, nil
}
