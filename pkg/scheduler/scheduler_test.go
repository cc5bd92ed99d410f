package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"refreshd/pkg/executor"
	"refreshd/pkg/models"
	"refreshd/pkg/scheduler"
)

type countingRefresher struct {
	mu    sync.Mutex
	infos []executor.TriggerInfo
	fired chan struct{}
}

func newCountingRefresher() *countingRefresher {
	return &countingRefresher{fired: make(chan struct{}, 16)}
}

func (c *countingRefresher) Trigger(ctx context.Context, info executor.TriggerInfo) (*executor.Result, error) {
	c.mu.Lock()
	c.infos = append(c.infos, info)
	c.mu.Unlock()
	c.fired <- struct{}{}
	return &executor.Result{Success: true, RunID: "run-1"}, nil
}

func TestNewScheduler_RejectsInvalidExpression(t *testing.T) {
	_, err := scheduler.NewScheduler("every tuesday", newCountingRefresher(), 0, zap.NewNop())
	assert.Error(t, err)

	_, err = scheduler.NewScheduler("@hourly", nil, 0, zap.NewNop())
	assert.Error(t, err)
}

func TestScheduler_Next(t *testing.T) {
	s, err := scheduler.NewScheduler("0 */6 * * *", newCountingRefresher(), 0, zap.NewNop())
	require.NoError(t, err)

	from := time.Date(2025, time.March, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, time.Date(2025, time.March, 4, 6, 0, 0, 0, time.UTC), s.Next(from))
}

func TestScheduler_RunOnceUsesScheduleTrigger(t *testing.T) {
	ref := newCountingRefresher()
	s, err := scheduler.NewScheduler("@daily", ref, time.Minute, zap.NewNop())
	require.NoError(t, err)

	s.RunOnce(context.Background())

	require.Len(t, ref.infos, 1)
	assert.Equal(t, models.TriggerSchedule, ref.infos[0].Source)
}

func TestScheduler_FiresOnSchedule(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timed schedule test in short mode")
	}
	ref := newCountingRefresher()
	s, err := scheduler.NewScheduler("@every 1s", ref, 0, zap.NewNop())
	require.NoError(t, err)

	s.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, s.Stop(ctx))
	}()

	select {
	case <-ref.fired:
	case <-time.After(3 * time.Second):
		t.Fatal("schedule did not fire")
	}
}
