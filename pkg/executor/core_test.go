package executor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"refreshd/pkg/coordination"
	"refreshd/pkg/executor"
	"refreshd/pkg/executor/runner"
	"refreshd/pkg/executor/runner/runnertest"
	"refreshd/pkg/models"
	"refreshd/pkg/resilience"
	"refreshd/pkg/storage"
)

func newTestExecutor(t *testing.T, rec runner.JobRunner, cfg executor.Config) *executor.Executor {
	t.Helper()
	cfg.Pipeline = executor.NewPipeline(testPipelineConfig(), rec, zap.NewNop()).
		WithClock(func() time.Time { return fixedNow })
	return executor.NewExecutor(cfg)
}

func TestExecutor_RecordsSuccessfulRun(t *testing.T) {
	runs := storage.NewMemoryRunStore(10)
	logs, err := storage.NewLocalLogStore(t.TempDir())
	require.NoError(t, err)
	e := newTestExecutor(t, runnertest.NewRecorder(), executor.Config{Runs: runs, Logs: logs})

	res, err := e.Trigger(context.Background(), executor.TriggerInfo{Source: models.TriggerWebhook, RequestID: "req-1"})

	require.NoError(t, err)
	require.True(t, res.Success)
	id, err := uuid.Parse(res.RunID)
	require.NoError(t, err)

	run, err := runs.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.RunSuccess, run.Status)
	assert.Equal(t, models.TriggerWebhook, run.Trigger)
	assert.Equal(t, "req-1", run.RequestID)
	assert.NotNil(t, run.CompletedAt)
	require.NotEmpty(t, run.LogURI)

	transcript, err := logs.Retrieve(context.Background(), run.LogURI)
	require.NoError(t, err)
	assert.Contains(t, string(transcript), "git push origin main")
}

func TestExecutor_RecordsFailedRun(t *testing.T) {
	runs := storage.NewMemoryRunStore(10)
	rec := runnertest.NewRecorder().Fail(exportCmd, 2, "boom")
	e := newTestExecutor(t, rec, executor.Config{Runs: runs})

	res, err := e.Trigger(context.Background(), executor.TriggerInfo{Source: models.TriggerSchedule})

	require.NoError(t, err, "step failures are reported in the result")
	assert.False(t, res.Success)
	assert.Equal(t, "data export failed: boom", res.Error)

	list, err := runs.ListRuns(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.RunFailed, list[0].Status)
	assert.Equal(t, executor.StepExport, list[0].FailedStep)
	assert.Equal(t, "data export failed: boom", list[0].Error)
}

// blockingRunner holds the first command until released.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu     sync.Mutex
	active int
	peak   int
}

func (b *blockingRunner) Run(ctx context.Context, c runner.Command) runner.Result {
	b.mu.Lock()
	b.active++
	if b.active > b.peak {
		b.peak = b.active
	}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.active--
		b.mu.Unlock()
	}()

	if c.Name == "python3" {
		b.once.Do(func() { close(b.started) })
		<-b.release
	}
	return runner.Result{}
}

func TestExecutor_SerializesConcurrentTriggers(t *testing.T) {
	br := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	e := newTestExecutor(t, br, executor.Config{Locker: coordination.NewLocalLocker()})

	var wg sync.WaitGroup
	results := make([]*executor.Result, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.Trigger(context.Background(), executor.TriggerInfo{Source: models.TriggerWebhook})
			if err == nil {
				results[i] = res
			}
		}(i)
	}

	<-br.started
	time.Sleep(50 * time.Millisecond)
	close(br.release)
	wg.Wait()

	for _, res := range results {
		require.NotNil(t, res)
		assert.True(t, res.Success)
	}
	assert.Equal(t, 1, br.peak, "commands from two refreshes must never overlap")
}

func TestExecutor_LockWaitHonorsContext(t *testing.T) {
	locker := coordination.NewLocalLocker()
	release, err := locker.Acquire(context.Background())
	require.NoError(t, err)
	defer release(context.Background())

	rec := runnertest.NewRecorder()
	e := newTestExecutor(t, rec, executor.Config{Locker: locker})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = e.Trigger(ctx, executor.TriggerInfo{Source: models.TriggerWebhook})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Empty(t, rec.Calls(), "no command may run without the lock")
}

func TestExecutor_BreakerSuspendsAfterRepeatedFailures(t *testing.T) {
	rec := runnertest.NewRecorder().Fail(exportCmd, 1, "db down")
	breaker := resilience.NewCircuitBreaker("refresh", resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		Timeout:          time.Hour,
	})
	e := newTestExecutor(t, rec, executor.Config{Breaker: breaker})
	info := executor.TriggerInfo{Source: models.TriggerWebhook}

	for i := 0; i < 2; i++ {
		res, err := e.Trigger(context.Background(), info)
		require.NoError(t, err)
		require.False(t, res.Success)
	}

	res, err := e.Trigger(context.Background(), info)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, executor.ErrSuspended)
	assert.Len(t, rec.Calls(), 2, "a suspended refresh runs no commands")
}

func TestExecutor_LockTimeoutDoesNotResetBreaker(t *testing.T) {
	rec := runnertest.NewRecorder().Fail(exportCmd, 1, "db down")
	locker := coordination.NewLocalLocker()
	breaker := resilience.NewCircuitBreaker("refresh", resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		Timeout:          time.Hour,
	})
	e := newTestExecutor(t, rec, executor.Config{Locker: locker, Breaker: breaker})
	info := executor.TriggerInfo{Source: models.TriggerWebhook}

	res, err := e.Trigger(context.Background(), info)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, 1, breaker.Snapshot().Failures)

	release, err := locker.Acquire(context.Background())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	_, err = e.Trigger(ctx, info)
	cancel()
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NoError(t, release(context.Background()))

	assert.Equal(t, 1, breaker.Snapshot().Failures, "a refresh that never ran must not count as a success")

	res, err = e.Trigger(context.Background(), info)
	require.NoError(t, err)
	require.False(t, res.Success)

	_, err = e.Trigger(context.Background(), info)
	assert.ErrorIs(t, err, executor.ErrSuspended)
}
