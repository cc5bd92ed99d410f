package etcd_test

import (
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	refreshetcd "refreshd/pkg/coordination/etcd"
)

func newTestLocker(t *testing.T) *refreshetcd.EtcdLocker {
	t.Helper()
	endpoints := os.Getenv("TEST_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("Skipping etcd tests (TEST_ETCD_ENDPOINTS not set)")
	}
	l, err := refreshetcd.NewEtcdLocker(strings.Split(endpoints, ","), 5, "/refreshd/test/"+t.Name())
	if err != nil {
		t.Skipf("Skipping etcd tests: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestEtcdLocker_ExcludesSecondHolderInSameProcess(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()

	release, err := l.Acquire(ctx)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "a second Acquire on the same locker must wait")

	require.NoError(t, release(ctx))

	release2, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, release2(ctx))
}

func TestEtcdLocker_ConcurrentAcquireSerializes(t *testing.T) {
	l := newTestLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var (
		wg     sync.WaitGroup
		active int32
		peak   int32
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(100 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			assert.NoError(t, release(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak, "holders must never overlap")
}
