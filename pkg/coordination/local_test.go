package coordination_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refreshd/pkg/coordination"
)

func TestLocalLocker_Serializes(t *testing.T) {
	l := coordination.NewLocalLocker()
	ctx := context.Background()

	release, err := l.Acquire(ctx)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := l.Acquire(ctx)
		if err == nil {
			close(acquired)
			_ = r(ctx)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired the lock while the first still held it")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, release(ctx))

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the lock")
	}
}

func TestLocalLocker_AcquireHonorsContext(t *testing.T) {
	l := coordination.NewLocalLocker()
	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	defer release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
