package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refreshd/pkg/coordination"
	refreshredis "refreshd/pkg/coordination/redis"
)

func newTestLocker(t *testing.T) *refreshredis.RedisLocker {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping redis tests (TEST_REDIS_ADDR not set)")
	}
	cfg := refreshredis.DefaultLockerConfig(addr)
	cfg.Key = "refreshd:test:" + t.Name()
	cfg.TTL = 2 * time.Second
	cfg.PollInterval = 20 * time.Millisecond
	l, err := refreshredis.NewRedisLocker(cfg)
	if err != nil {
		t.Skipf("Skipping redis tests: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRedisLocker_ExcludesSecondHolder(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()

	release, err := l.Acquire(ctx)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, release(ctx))

	release2, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, release2(ctx))
}

func TestRedisLocker_ReleaseAfterExpiryReportsLoss(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()

	release, err := l.Acquire(ctx)
	require.NoError(t, err)

	time.Sleep(2500 * time.Millisecond)
	assert.ErrorIs(t, release(ctx), coordination.ErrLockLost)
}
