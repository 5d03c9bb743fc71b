package core_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/backend/internal/core"
	"github.com/orderflow/backend/internal/db/testdb"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type harness struct {
	store    *core.Queue
	registry *core.Registry
	worker   *core.Worker
	enqueuer *core.Enqueuer
}

func newHarness(t *testing.T, opts ...core.WorkerOption) *harness {
	t.Helper()
	store := core.NewQueue(testdb.New(t), core.WithQueueLogger(quietLogger))
	registry := core.NewRegistry()
	opts = append([]core.WorkerOption{core.WithWorkerLogger(quietLogger)}, opts...)
	return &harness{
		store:    store,
		registry: registry,
		worker:   core.NewWorker(store, registry, opts...),
		enqueuer: core.NewEnqueuer(store, quietLogger),
	}
}

func (h *harness) register(t *testing.T, jobType core.JobType, fn core.HandlerFunc) {
	t.Helper()
	require.NoError(t, h.registry.Register(jobType, fn))
}

func (h *harness) tick(t *testing.T) bool {
	t.Helper()
	processed, err := h.worker.Tick(context.Background())
	require.NoError(t, err)
	return processed
}

func (h *harness) job(t *testing.T, id string) *core.Job {
	t.Helper()
	job, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func succeed(context.Context, core.Payload) error { return nil }

func TestTickHappyPath(t *testing.T) {
	h := newHarness(t)

	var seen string
	h.register(t, core.JobTypePayment, func(ctx context.Context, p core.Payload) error {
		seen, _ = p.String("orderId")
		return nil
	})

	id, err := h.enqueuer.Enqueue(context.Background(), core.JobTypePayment, map[string]string{"orderId": "o1"})
	require.NoError(t, err)

	assert.True(t, h.tick(t))

	job := h.job(t, id)
	assert.Equal(t, core.JobStatusSuccess, job.Status)
	assert.Zero(t, job.Attempts)
	assert.Empty(t, job.LastError)
	assert.Equal(t, "o1", seen)
}

func TestTickObservesProcessingDuringHandler(t *testing.T) {
	h := newHarness(t)

	var during core.JobStatus
	var id string
	h.register(t, core.JobTypePayment, func(ctx context.Context, p core.Payload) error {
		job, err := h.store.Get(ctx, id)
		if err != nil {
			return err
		}
		during = job.Status
		return nil
	})

	id, _ = h.enqueuer.Enqueue(context.Background(), core.JobTypePayment, map[string]string{"orderId": "o1"})
	h.tick(t)

	assert.Equal(t, core.JobStatusProcessing, during)
	assert.Equal(t, core.JobStatusSuccess, h.job(t, id).Status)
}

func TestTickUnknownType(t *testing.T) {
	h := newHarness(t)

	id, err := h.enqueuer.Enqueue(context.Background(), "BOGUS", map[string]any{})
	require.NoError(t, err)

	assert.True(t, h.tick(t))

	job := h.job(t, id)
	assert.Equal(t, core.JobStatusFailed, job.Status)
	assert.Equal(t, "Unknown job type", job.LastError)
	assert.Zero(t, job.Attempts)

	assert.False(t, h.tick(t), "unknown jobs are never retried")
}

func TestTickHandlerFailure(t *testing.T) {
	h := newHarness(t)
	h.register(t, core.JobTypeAmazonAddress, func(context.Context, core.Payload) error {
		return errors.New("downstream timeout")
	})

	id, err := h.enqueuer.Enqueue(context.Background(), core.JobTypeAmazonAddress, map[string]string{"orderId": "o1"})
	require.NoError(t, err)

	h.tick(t)

	job := h.job(t, id)
	assert.Equal(t, core.JobStatusFailed, job.Status)
	assert.Equal(t, "downstream timeout", job.LastError)
	assert.Equal(t, 1, job.Attempts)
}

func TestTickEmptyFailureMessage(t *testing.T) {
	h := newHarness(t)
	h.register(t, core.JobTypeAmazonGift, func(context.Context, core.Payload) error {
		return errors.New("")
	})

	id, _ := h.enqueuer.Enqueue(context.Background(), core.JobTypeAmazonGift, nil)
	h.tick(t)

	assert.Equal(t, "Handler returned failure", h.job(t, id).LastError)
}

func TestTickRecoversHandlerPanic(t *testing.T) {
	h := newHarness(t)
	h.register(t, core.JobTypePayment, func(context.Context, core.Payload) error {
		panic("card network down")
	})

	id, _ := h.enqueuer.Enqueue(context.Background(), core.JobTypePayment, nil)
	h.tick(t)

	job := h.job(t, id)
	assert.Equal(t, core.JobStatusFailed, job.Status)
	assert.Equal(t, "panic: card network down", job.LastError)
	assert.Equal(t, 1, job.Attempts)
}

func TestTickDecodeFailure(t *testing.T) {
	h := newHarness(t)

	called := false
	h.register(t, core.JobTypePayment, func(context.Context, core.Payload) error {
		called = true
		return nil
	})

	id, err := h.store.Enqueue(context.Background(), core.JobTypePayment, []byte(`[1, 2`))
	require.NoError(t, err)
	h.tick(t)

	job := h.job(t, id)
	assert.Equal(t, core.JobStatusFailed, job.Status)
	assert.NotEmpty(t, job.LastError)
	assert.Equal(t, 1, job.Attempts)
	assert.False(t, called)
}

func TestTickOneJobPerTickInOrder(t *testing.T) {
	h := newHarness(t)

	var order []string
	h.register(t, core.JobTypePayment, func(ctx context.Context, p core.Payload) error {
		name, _ := p.String("name")
		order = append(order, name)
		return nil
	})

	ctx := context.Background()
	a, _ := h.enqueuer.Enqueue(ctx, core.JobTypePayment, map[string]string{"name": "A"})
	b, _ := h.enqueuer.Enqueue(ctx, core.JobTypePayment, map[string]string{"name": "B"})

	assert.True(t, h.tick(t))
	assert.Equal(t, []string{"A"}, order)
	assert.Equal(t, core.JobStatusSuccess, h.job(t, a).Status)
	assert.Equal(t, core.JobStatusPending, h.job(t, b).Status)

	assert.True(t, h.tick(t))
	assert.Equal(t, []string{"A", "B"}, order)
	assert.Equal(t, core.JobStatusSuccess, h.job(t, b).Status)

	assert.False(t, h.tick(t))
}

func TestTickFailsTwiceAcrossRequeue(t *testing.T) {
	h := newHarness(t)
	h.register(t, core.JobTypePayment, func(context.Context, core.Payload) error {
		return errors.New("declined")
	})

	ctx := context.Background()
	id, _ := h.enqueuer.Enqueue(ctx, core.JobTypePayment, map[string]string{"orderId": "o1"})

	h.tick(t)
	require.NoError(t, h.store.Requeue(ctx, id))
	h.tick(t)

	job := h.job(t, id)
	assert.Equal(t, core.JobStatusFailed, job.Status)
	assert.Equal(t, 2, job.Attempts)
}

func TestTickSkipsWhileInProgress(t *testing.T) {
	h := newHarness(t)

	started := make(chan struct{})
	release := make(chan struct{})
	h.register(t, core.JobTypePayment, func(context.Context, core.Payload) error {
		close(started)
		<-release
		return nil
	})

	ctx := context.Background()
	first, _ := h.enqueuer.Enqueue(ctx, core.JobTypePayment, nil)
	second, _ := h.enqueuer.Enqueue(ctx, core.JobTypePayment, nil)

	done := make(chan bool)
	go func() {
		processed, _ := h.worker.Tick(ctx)
		done <- processed
	}()
	<-started

	processed, err := h.worker.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Equal(t, core.JobStatusPending, h.job(t, second).Status)

	close(release)
	assert.True(t, <-done)
	assert.Equal(t, core.JobStatusSuccess, h.job(t, first).Status)
}

type recordingNotifier struct {
	mu       sync.Mutex
	started  []string
	resolved []core.JobStatus
}

func (n *recordingNotifier) JobStarted(job *core.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, job.ID)
}

func (n *recordingNotifier) JobResolved(job *core.Job, outcome core.Outcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resolved = append(n.resolved, outcome.Status())
}

func TestTickNotifiesLifecycle(t *testing.T) {
	notifier := &recordingNotifier{}
	h := newHarness(t, core.WithNotifier(notifier))
	h.register(t, core.JobTypePayment, succeed)

	ctx := context.Background()
	id, _ := h.enqueuer.Enqueue(ctx, core.JobTypePayment, nil)
	h.enqueuer.Enqueue(ctx, "BOGUS", nil)

	h.tick(t)
	h.tick(t)

	assert.Equal(t, id, notifier.started[0])
	assert.Len(t, notifier.started, 2)
	assert.Equal(t, []core.JobStatus{core.JobStatusSuccess, core.JobStatusFailed}, notifier.resolved)
}

func TestWorkerStartStop(t *testing.T) {
	h := newHarness(t, core.WithPollInterval(10*time.Millisecond))
	h.register(t, core.JobTypePayment, succeed)

	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := h.enqueuer.Enqueue(ctx, core.JobTypePayment, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	h.worker.Start(ctx)
	h.worker.Start(ctx)
	assert.True(t, h.worker.IsRunning())

	require.Eventually(t, func() bool {
		stats, err := h.store.Stats(ctx)
		return err == nil && stats.Success == 3
	}, 2*time.Second, 10*time.Millisecond)

	h.worker.Stop()
	h.worker.Stop()
	assert.False(t, h.worker.IsRunning())

	for _, id := range ids {
		assert.Equal(t, core.JobStatusSuccess, h.job(t, id).Status)
	}
}

func TestWorkerStopsWithContext(t *testing.T) {
	h := newHarness(t, core.WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	h.worker.Start(ctx)
	cancel()

	require.Eventually(t, func() bool { return !h.worker.IsRunning() }, time.Second, 5*time.Millisecond)
}

func TestWorkerReclaimsStaleJobs(t *testing.T) {
	h := newHarness(t,
		core.WithPollInterval(time.Hour),
		core.WithStaleReclaim(time.Millisecond, 10*time.Millisecond),
	)

	ctx := context.Background()
	id, _ := h.enqueuer.Enqueue(ctx, core.JobTypePayment, nil)
	claimed, err := h.store.ClaimNext(ctx)
	require.NoError(t, err)
	require.Equal(t, id, claimed.ID)

	h.worker.Start(ctx)
	defer h.worker.Stop()

	require.Eventually(t, func() bool {
		job, err := h.store.Get(ctx, id)
		return err == nil && job.Status == core.JobStatusPending
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, h.job(t, id).Attempts)
}

func TestRunOnceReportsStorageErrors(t *testing.T) {
	sqlDB := testdb.New(t)
	store := core.NewQueue(sqlDB)
	worker := core.NewWorker(store, core.NewRegistry(), core.WithWorkerLogger(quietLogger))
	require.NoError(t, sqlDB.Close())

	processed, err := worker.RunOnce(context.Background())
	assert.False(t, processed)
	var storageErr *core.StorageError
	assert.ErrorAs(t, err, &storageErr)
}

// conflictingStore reports every resolve as racing another writer.
type conflictingStore struct {
	core.JobStore
}

func (s conflictingStore) Resolve(_ context.Context, id string, outcome core.Outcome) error {
	return &core.InvalidTransitionError{JobID: id, From: core.JobStatusPending, To: outcome.Status()}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestInvalidTransitionLoggedOnce(t *testing.T) {
	var logs syncBuffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	queue := core.NewQueue(testdb.New(t), core.WithQueueLogger(quietLogger))
	registry := core.NewRegistry()
	require.NoError(t, registry.Register(core.JobTypePayment, core.HandlerFunc(succeed)))
	worker := core.NewWorker(conflictingStore{queue}, registry,
		core.WithWorkerLogger(logger),
		core.WithPollInterval(10*time.Millisecond),
	)

	ctx := context.Background()
	id, err := queue.Enqueue(ctx, core.JobTypePayment, []byte(`{}`))
	require.NoError(t, err)

	processed, err := worker.Tick(ctx)
	assert.True(t, processed)
	var transition *core.InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Empty(t, logs.String(), "Tick returns the error without logging it")

	second, err := queue.Enqueue(ctx, core.JobTypePayment, []byte(`{}`))
	require.NoError(t, err)

	worker.Start(ctx)
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), second)
	}, 2*time.Second, 10*time.Millisecond)
	worker.Stop()

	assert.Equal(t, 1, strings.Count(logs.String(), `"level":"ERROR"`))
	assert.NotContains(t, logs.String(), id)
}
