package jobqueue_test

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/shortlinkhq/shortlink/internal/jobqueue"
	"github.com/shortlinkhq/shortlink/internal/model"
)

func newRDB(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestEnqueueAndStats(t *testing.T) {
	rdb := newRDB(t)
	q := jobqueue.NewQueue(jobqueue.QueueEmailNotifications, rdb, testLogger())
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, model.JobKindEmail, map[string]string{"to": "a@b.com"}))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Pending)
	require.False(t, stats.Processing)
}

func TestRunWorkers_ProcessesJob(t *testing.T) {
	rdb := newRDB(t)
	q := jobqueue.NewQueue(jobqueue.QueueEmailNotifications, rdb, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, q.Enqueue(context.Background(), model.JobKindEmail, map[string]string{"to": "a@b.com"}))

	var processed atomic.Int64
	done := make(chan struct{})
	go func() {
		q.RunWorkers(ctx, func(ctx context.Context, job model.Job) error {
			processed.Add(1)
			return nil
		})
		close(done)
	}()
	<-done

	require.EqualValues(t, 1, processed.Load())
}

func TestRunWorkers_RetriesTransientFailureBeforeDeadLetter(t *testing.T) {
	rdb := newRDB(t)
	q := jobqueue.NewQueue(jobqueue.QueueEmailNotifications, rdb, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	require.NoError(t, q.Enqueue(context.Background(), model.JobKindEmail, map[string]string{"to": "a@b.com"}))

	var attempts atomic.Int64
	done := make(chan struct{})
	go func() {
		q.RunWorkers(ctx, func(ctx context.Context, job model.Job) error {
			attempts.Add(1)
			return context.DeadlineExceeded
		})
		close(done)
	}()
	<-done

	// Within the short window only the first attempt runs; the retry is
	// scheduled via time.AfterFunc well past backoff and isn't observed
	// here, but the job must not yet be dead-lettered (maxAttempts=3).
	require.GreaterOrEqual(t, attempts.Load(), int64(1))
	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.Dead)
}

func TestRunBatch_FlushesOnBatchFull(t *testing.T) {
	rdb := newRDB(t)
	q := jobqueue.NewQueue(jobqueue.QueueClickTracking, rdb, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(context.Background(), model.JobKindClickTracking, map[string]int{"i": i}))
	}

	var batches atomic.Int64
	var total atomic.Int64
	done := make(chan struct{})
	go func() {
		q.RunBatch(ctx, func(ctx context.Context, jobs []model.Job) error {
			batches.Add(1)
			total.Add(int64(len(jobs)))
			cancel()
			return nil
		})
		close(done)
	}()
	<-done

	require.Equal(t, int64(10), total.Load())
}
