package lock_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/production-ledger/lock"
	"github.com/warp/production-ledger/production"
	"github.com/warp/production-ledger/production/store"
)

func TestRedis_UnreachableServerIsNotBusy(t *testing.T) {
	// GIVEN: A client pointing at a closed port
	// WHEN: A lock is requested
	// THEN: The error is a transport failure, not ErrBatchBusy

	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	l := lock.NewRedis(rdb, 0, logger)

	release, err := l.Acquire(context.Background(), production.LockKey("b-1"))
	require.Error(t, err)
	assert.Nil(t, release)
	assert.NotErrorIs(t, err, production.ErrBatchBusy)
}

func TestConnect_FailsFast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := lock.Connect(ctx, "127.0.0.1:1")
	assert.Error(t, err)
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := lock.Connect(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestRedis_HeldKeyIsBusy_ReleaseFreesIt(t *testing.T) {
	// GIVEN: One reviewer holding the lock on a batch
	// WHEN: A second reviewer asks for the same batch
	// THEN: ErrBatchBusy until the first releases, then the lock is granted

	_, rdb := newMiniRedis(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	l := lock.NewRedis(rdb, 0, logger)
	ctx := context.Background()
	key := production.LockKey("b-1")

	release, err := l.Acquire(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, release)

	_, err = l.Acquire(ctx, key)
	assert.ErrorIs(t, err, production.ErrBatchBusy)

	// Other batches are independent
	releaseOther, err := l.Acquire(ctx, production.LockKey("b-2"))
	require.NoError(t, err)
	releaseOther()

	release()
	release() // releasing twice is harmless

	again, err := l.Acquire(ctx, key)
	require.NoError(t, err)
	again()
}

func TestRedis_ExpiredHolderDoesNotBlock(t *testing.T) {
	// GIVEN: A holder that never released, past its TTL
	// WHEN: Another reviewer asks for the batch
	// THEN: The lock is granted

	mr, rdb := newMiniRedis(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	l := lock.NewRedis(rdb, time.Second, logger)
	ctx := context.Background()
	key := production.LockKey("b-1")

	_, err := l.Acquire(ctx, key)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	release, err := l.Acquire(ctx, key)
	require.NoError(t, err)
	release()
}

func TestConfirm_WithRedisLock(t *testing.T) {
	// GIVEN: An engine locked through Redis and a batch whose lock is held elsewhere
	// WHEN: Confirming
	// THEN: ErrBatchBusy, then success once the holder lets go

	_, rdb := newMiniRedis(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	l := lock.NewRedis(rdb, 0, logger)
	mem := store.NewMemory()
	ctx := context.Background()
	eng := production.NewEngine(mem, mem, production.WithLogger(logger), production.WithLocker(l))

	b, err := eng.Submit(ctx, production.SubmitInput{
		ProductionDate: production.NewDate(2025, time.March, 10),
		SubmittedBy:    "workshop-1",
		Items:          []production.ItemInput{{ProductID: "A", Quantity: 5, Category: production.CategoryFinished}},
	})
	require.NoError(t, err)

	holder, err := l.Acquire(ctx, production.LockKey(b.ID))
	require.NoError(t, err)

	_, err = eng.Confirm(ctx, b.ID, "inspector-7")
	assert.ErrorIs(t, err, production.ErrBatchBusy)
	assert.True(t, production.IsRetryable(err))

	holder()
	res, err := eng.Confirm(ctx, b.ID, "inspector-7")
	require.NoError(t, err)
	assert.Equal(t, production.StatusConfirmed, res.Batch.Status)
}

var _ production.Locker = (*lock.Redis)(nil)
