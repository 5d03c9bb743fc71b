// Package coretest holds the behavioral suite every core.JobStore
// implementation must pass.
package coretest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/backend/internal/core"
)

// NewStoreFunc returns an empty store. Cleanup is registered on t.
type NewStoreFunc func(t *testing.T) core.JobStore

// RunJobStoreTests runs the shared suite against stores built by newStore.
func RunJobStoreTests(t *testing.T, newStore NewStoreFunc) {
	t.Run("EnqueueCreatesPending", func(t *testing.T) { testEnqueueCreatesPending(t, newStore(t)) })
	t.Run("EnqueueDoesNotDeduplicate", func(t *testing.T) { testEnqueueDoesNotDeduplicate(t, newStore(t)) })
	t.Run("ClaimOnEmptyQueue", func(t *testing.T) { testClaimOnEmptyQueue(t, newStore(t)) })
	t.Run("ClaimOnTerminalQueue", func(t *testing.T) { testClaimOnTerminalQueue(t, newStore(t)) })
	t.Run("ClaimIsFIFO", func(t *testing.T) { testClaimIsFIFO(t, newStore(t)) })
	t.Run("ConcurrentClaimsAreExclusive", func(t *testing.T) { testConcurrentClaimsAreExclusive(t, newStore(t)) })
	t.Run("ResolveSuccessClearsError", func(t *testing.T) { testResolveSuccessClearsError(t, newStore(t)) })
	t.Run("ResolveFailureCountsAttempt", func(t *testing.T) { testResolveFailureCountsAttempt(t, newStore(t)) })
	t.Run("UnknownTypeKeepsAttempts", func(t *testing.T) { testUnknownTypeKeepsAttempts(t, newStore(t)) })
	t.Run("ResolveRequiresProcessing", func(t *testing.T) { testResolveRequiresProcessing(t, newStore(t)) })
	t.Run("ResolveMissingJob", func(t *testing.T) { testResolveMissingJob(t, newStore(t)) })
	t.Run("TerminalStatusIsFinal", func(t *testing.T) { testTerminalStatusIsFinal(t, newStore(t)) })
	t.Run("RequeueKeepsAttempts", func(t *testing.T) { testRequeueKeepsAttempts(t, newStore(t)) })
	t.Run("ReclaimStale", func(t *testing.T) { testReclaimStale(t, newStore(t)) })
	t.Run("GetMissingJob", func(t *testing.T) { testGetMissingJob(t, newStore(t)) })
	t.Run("ListAndStats", func(t *testing.T) { testListAndStats(t, newStore(t)) })
}

// NewClockedStoreFunc returns an empty store that reads time from now.
type NewClockedStoreFunc func(t *testing.T, now func() time.Time) core.JobStore

// RunClockedJobStoreTests checks ordering against a controlled clock.
func RunClockedJobStoreTests(t *testing.T, newStore NewClockedStoreFunc) {
	t.Run("ClaimOrdersByCreatedAt", func(t *testing.T) { testClaimOrdersByCreatedAt(t, newStore) })
	t.Run("ListOrdersByCreatedAt", func(t *testing.T) { testListOrdersByCreatedAt(t, newStore) })
}

// clockedEnqueue enqueues one job per offset from base, in the given order.
func clockedEnqueue(t *testing.T, newStore NewClockedStoreFunc, offsets ...time.Duration) (core.JobStore, []string) {
	t.Helper()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	store := newStore(t, func() time.Time { return now })

	ids := make([]string, len(offsets))
	for i, off := range offsets {
		now = base.Add(off)
		ids[i] = enqueue(t, store, core.JobTypePayment, `{}`)
	}
	now = base.Add(time.Hour)
	return store, ids
}

func testClaimOrdersByCreatedAt(t *testing.T, newStore NewClockedStoreFunc) {
	// Enqueued later but stamped earlier: created_at wins, insertion order
	// breaks the tie.
	store, ids := clockedEnqueue(t, newStore, 2*time.Second, 0, time.Second, 0)
	later, earliest, middle, tied := ids[0], ids[1], ids[2], ids[3]

	for _, want := range []string{earliest, tied, middle, later} {
		assert.Equal(t, want, claim(t, store).ID)
	}
}

func testListOrdersByCreatedAt(t *testing.T, newStore NewClockedStoreFunc) {
	store, ids := clockedEnqueue(t, newStore, 2*time.Second, 0, time.Second, 0)
	later, earliest, middle, tied := ids[0], ids[1], ids[2], ids[3]

	jobs, err := store.List(context.Background(), core.JobFilter{})
	require.NoError(t, err)
	got := make([]string, 0, len(jobs))
	for _, j := range jobs {
		got = append(got, j.ID)
	}
	assert.Equal(t, []string{later, middle, tied, earliest}, got)
}

func enqueue(t *testing.T, store core.JobStore, jobType core.JobType, payload string) string {
	t.Helper()
	id, err := store.Enqueue(context.Background(), jobType, []byte(payload))
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func claim(t *testing.T, store core.JobStore) *core.Job {
	t.Helper()
	job, err := store.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job, "expected a pending job")
	return job
}

func get(t *testing.T, store core.JobStore, id string) *core.Job {
	t.Helper()
	job, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func testEnqueueCreatesPending(t *testing.T, store core.JobStore) {
	before := time.Now().Add(-time.Second)
	id := enqueue(t, store, core.JobTypePayment, `{"orderId":"o1"}`)

	job := get(t, store, id)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, core.JobTypePayment, job.Type)
	assert.JSONEq(t, `{"orderId":"o1"}`, string(job.Payload))
	assert.Equal(t, core.JobStatusPending, job.Status)
	assert.Zero(t, job.Attempts)
	assert.Empty(t, job.LastError)
	assert.True(t, job.CreatedAt.After(before))
	assert.Equal(t, job.CreatedAt, job.UpdatedAt)
}

func testEnqueueDoesNotDeduplicate(t *testing.T, store core.JobStore) {
	a := enqueue(t, store, core.JobTypePayment, `{"orderId":"o1"}`)
	b := enqueue(t, store, core.JobTypePayment, `{"orderId":"o1"}`)
	assert.NotEqual(t, a, b)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pending)
}

func testClaimOnEmptyQueue(t *testing.T, store core.JobStore) {
	job, err := store.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func testClaimOnTerminalQueue(t *testing.T, store core.JobStore) {
	ctx := context.Background()
	enqueue(t, store, core.JobTypePayment, `{}`)
	enqueue(t, store, core.JobTypeAmazonGift, `{}`)

	require.NoError(t, store.Resolve(ctx, claim(t, store).ID, core.Success()))
	require.NoError(t, store.Resolve(ctx, claim(t, store).ID, core.Failure("boom")))

	job, err := store.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func testClaimIsFIFO(t *testing.T, store core.JobStore) {
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, enqueue(t, store, core.JobTypePayment, `{}`))
	}

	for _, want := range ids {
		job := claim(t, store)
		assert.Equal(t, want, job.ID)
		assert.Equal(t, core.JobStatusProcessing, job.Status)
		assert.False(t, job.UpdatedAt.Before(job.CreatedAt))
	}
}

func testConcurrentClaimsAreExclusive(t *testing.T, store core.JobStore) {
	const jobs = 40
	const workers = 8

	for i := 0; i < jobs; i++ {
		enqueue(t, store, core.JobTypeAmazonAddress, `{}`)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
		errs    = make(chan error, workers)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := store.ClaimNext(context.Background())
				if err != nil {
					errs <- err
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func testResolveSuccessClearsError(t *testing.T, store core.JobStore) {
	ctx := context.Background()
	id := enqueue(t, store, core.JobTypePayment, `{}`)

	require.NoError(t, store.Resolve(ctx, claim(t, store).ID, core.Failure("first try")))
	require.NoError(t, store.Requeue(ctx, id))
	require.NoError(t, store.Resolve(ctx, claim(t, store).ID, core.Success()))

	job := get(t, store, id)
	assert.Equal(t, core.JobStatusSuccess, job.Status)
	assert.Empty(t, job.LastError)
	assert.Equal(t, 1, job.Attempts)
}

func testResolveFailureCountsAttempt(t *testing.T, store core.JobStore) {
	id := enqueue(t, store, core.JobTypePayment, `{}`)
	claimed := claim(t, store)

	require.NoError(t, store.Resolve(context.Background(), claimed.ID, core.Failure("downstream timeout")))

	job := get(t, store, id)
	assert.Equal(t, core.JobStatusFailed, job.Status)
	assert.Equal(t, "downstream timeout", job.LastError)
	assert.Equal(t, 1, job.Attempts)
	assert.False(t, job.UpdatedAt.Before(claimed.UpdatedAt))
}

func testUnknownTypeKeepsAttempts(t *testing.T, store core.JobStore) {
	id := enqueue(t, store, "BOGUS", `{}`)
	require.NoError(t, store.Resolve(context.Background(), claim(t, store).ID, core.UnknownType()))

	job := get(t, store, id)
	assert.Equal(t, core.JobStatusFailed, job.Status)
	assert.Equal(t, "Unknown job type", job.LastError)
	assert.Zero(t, job.Attempts)
}

func testResolveRequiresProcessing(t *testing.T, store core.JobStore) {
	id := enqueue(t, store, core.JobTypePayment, `{}`)

	err := store.Resolve(context.Background(), id, core.Success())
	var transition *core.InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, id, transition.JobID)
	assert.Equal(t, core.JobStatusPending, transition.From)
	assert.Equal(t, core.JobStatusSuccess, transition.To)

	assert.Equal(t, core.JobStatusPending, get(t, store, id).Status)
}

func testResolveMissingJob(t *testing.T, store core.JobStore) {
	err := store.Resolve(context.Background(), "does-not-exist", core.Failure("x"))
	var transition *core.InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.True(t, errors.Is(err, core.ErrJobNotFound))

	err = store.Resolve(context.Background(), "does-not-exist", core.Outcome{})
	require.Error(t, err)
}

func testTerminalStatusIsFinal(t *testing.T, store core.JobStore) {
	ctx := context.Background()
	id := enqueue(t, store, core.JobTypePayment, `{}`)
	require.NoError(t, store.Resolve(ctx, claim(t, store).ID, core.Success()))

	var transition *core.InvalidTransitionError
	require.ErrorAs(t, store.Resolve(ctx, id, core.Failure("late")), &transition)
	assert.Equal(t, core.JobStatusSuccess, transition.From)
	require.ErrorAs(t, store.Requeue(ctx, id), &transition)

	job := get(t, store, id)
	assert.Equal(t, core.JobStatusSuccess, job.Status)
	assert.Zero(t, job.Attempts)
	assert.Empty(t, job.LastError)
}

func testRequeueKeepsAttempts(t *testing.T, store core.JobStore) {
	ctx := context.Background()
	id := enqueue(t, store, core.JobTypeAmazonGift, `{}`)

	require.NoError(t, store.Resolve(ctx, claim(t, store).ID, core.Failure("one")))
	require.NoError(t, store.Requeue(ctx, id))

	job := get(t, store, id)
	assert.Equal(t, core.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.Attempts)

	require.NoError(t, store.Resolve(ctx, claim(t, store).ID, core.Failure("two")))

	job = get(t, store, id)
	assert.Equal(t, core.JobStatusFailed, job.Status)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, "two", job.LastError)

	var transition *core.InvalidTransitionError
	pending := enqueue(t, store, core.JobTypePayment, `{}`)
	require.ErrorAs(t, store.Requeue(ctx, pending), &transition)
	assert.Equal(t, core.JobStatusPending, transition.From)
	assert.ErrorIs(t, store.Requeue(ctx, "does-not-exist"), core.ErrJobNotFound)
}

func testReclaimStale(t *testing.T, store core.JobStore) {
	ctx := context.Background()
	id := enqueue(t, store, core.JobTypePayment, `{}`)
	claim(t, store)

	n, err := store.ReclaimStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	time.Sleep(20 * time.Millisecond)
	n, err = store.ReclaimStale(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job := get(t, store, id)
	assert.Equal(t, core.JobStatusPending, job.Status)
	assert.Zero(t, job.Attempts)

	assert.Equal(t, id, claim(t, store).ID)
}

func testGetMissingJob(t *testing.T, store core.JobStore) {
	_, err := store.Get(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}

func testListAndStats(t *testing.T, store core.JobStore) {
	ctx := context.Background()
	first := enqueue(t, store, core.JobTypePayment, `{}`)
	second := enqueue(t, store, core.JobTypeAmazonAddress, `{}`)
	third := enqueue(t, store, core.JobTypeAmazonGift, `{}`)

	require.NoError(t, store.Resolve(ctx, claim(t, store).ID, core.Success()))

	all, err := store.List(ctx, core.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{third, second, first}, []string{all[0].ID, all[1].ID, all[2].ID})

	pending, err := store.List(ctx, core.JobFilter{Status: core.JobStatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	byType, err := store.List(ctx, core.JobFilter{Type: core.JobTypeAmazonGift})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, third, byType[0].ID)

	page, err := store.List(ctx, core.JobFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, second, page[0].ID)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.QueueStats{Pending: 2, Success: 1, Total: 3}, stats)
}
