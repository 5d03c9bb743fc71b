package badger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/backend/internal/core"
	"github.com/orderflow/backend/internal/core/coretest"
	"github.com/orderflow/backend/internal/store/badger"
)

func TestStoreConformance(t *testing.T) {
	coretest.RunJobStoreTests(t, func(t *testing.T) core.JobStore {
		store, err := badger.Open("")
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestStoreClockedConformance(t *testing.T) {
	coretest.RunClockedJobStoreTests(t, func(t *testing.T, now func() time.Time) core.JobStore {
		store, err := badger.Open("", badger.WithClock(now))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestStatsCountersFollowTransitions(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := badger.Open(dir)
	require.NoError(t, err)

	ids := make([]string, 4)
	for i := range ids {
		ids[i], err = store.Enqueue(ctx, core.JobTypePayment, []byte(`{}`))
		require.NoError(t, err)
	}
	for _, outcome := range []core.Outcome{core.Success(), core.Failure("declined")} {
		job, err := store.ClaimNext(ctx)
		require.NoError(t, err)
		require.NoError(t, store.Resolve(ctx, job.ID, outcome))
	}
	_, err = store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Requeue(ctx, ids[1]))

	want := core.QueueStats{Pending: 2, Processing: 1, Success: 1, Total: 4}
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, stats)
	require.NoError(t, store.Close())

	store, err = badger.Open(dir)
	require.NoError(t, err)
	defer store.Close()

	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, stats)

	pending, err := store.List(ctx, core.JobFilter{Status: core.JobStatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, ids[3], pending[0].ID)
	assert.Equal(t, ids[1], pending[1].ID)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := badger.Open(dir)
	require.NoError(t, err)

	first, err := store.Enqueue(ctx, core.JobTypePayment, []byte(`{"orderId":"o1"}`))
	require.NoError(t, err)
	second, err := store.Enqueue(ctx, core.JobTypeAmazonGift, []byte(`{"orderId":"o1"}`))
	require.NoError(t, err)

	claimed, err := store.ClaimNext(ctx)
	require.NoError(t, err)
	require.Equal(t, first, claimed.ID)
	require.NoError(t, store.Resolve(ctx, first, core.Failure("declined")))
	require.NoError(t, store.Close())

	store, err = badger.Open(dir)
	require.NoError(t, err)
	defer store.Close()

	job, err := store.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)

	third, err := store.Enqueue(ctx, core.JobTypePayment, []byte(`{}`))
	require.NoError(t, err)

	for _, want := range []string{second, third} {
		next, err := store.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, want, next.ID)
	}
}
