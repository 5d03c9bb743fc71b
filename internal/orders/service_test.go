package orders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/backend/internal/ai"
	"github.com/orderflow/backend/internal/core"
	"github.com/orderflow/backend/internal/db"
	"github.com/orderflow/backend/internal/db/testdb"
)

type fakeMailer struct {
	calls []string
	err   error
}

func (m *fakeMailer) SendOrderReceived(_ context.Context, to, orderID, productName string) error {
	m.calls = append(m.calls, "received:"+to+":"+productName)
	return m.err
}

func (m *fakeMailer) SendOrderProcessed(_ context.Context, to, productName, summary string) error {
	m.calls = append(m.calls, "processed:"+to+":"+summary)
	return m.err
}

type fakeSummarizer struct{}

func (fakeSummarizer) GenerateOrderSummary(_ context.Context, productName, customerEmail string) ai.Summary {
	return ai.Summary{
		Prompt: "analyze " + productName,
		Raw:    `{"ok":true}`,
		Text:   "summary for " + productName,
	}
}

type env struct {
	svc    *Service
	repos  *db.Repositories
	queue  *core.Queue
	mailer *fakeMailer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	sqlDB := testdb.New(t)
	repos := db.NewRepositories(sqlDB)
	queue := core.NewQueue(sqlDB)
	mailer := &fakeMailer{}
	svc := NewService(repos, mailer, fakeSummarizer{}, core.NewEnqueuer(queue, nil), nil)
	return &env{svc: svc, repos: repos, queue: queue, mailer: mailer}
}

func TestCreateRunsFullFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.svc.Create(ctx, "a@example.com", "Lamp")
	require.NoError(t, err)
	assert.Equal(t, db.OrderStatusProcessed, res.Status)
	assert.Equal(t, "summary for Lamp", res.AISummary)
	require.Len(t, res.JobIDs, 3)

	order, err := e.svc.Get(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderStatusProcessed, order.Status)
	assert.Equal(t, "Lamp", order.ProductName)

	reqs, err := e.svc.AIRequests(ctx, res.OrderID)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "analyze Lamp", reqs[0].Prompt)
	assert.Equal(t, `{"ok":true}`, reqs[0].OpenAIRaw)

	assert.Equal(t, []string{
		"received:a@example.com:Lamp",
		"processed:a@example.com:summary for Lamp",
	}, e.mailer.calls)

	for i, id := range res.JobIDs {
		job, err := e.queue.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, FollowUpJobs[i], job.Type)
		assert.Equal(t, core.JobStatusPending, job.Status)

		var payload JobPayload
		require.NoError(t, json.Unmarshal(job.Payload, &payload))
		assert.Equal(t, res.OrderID, payload.OrderID)
	}

	// Claims come back in enqueue order.
	for _, want := range FollowUpJobs {
		job, err := e.queue.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, want, job.Type)
	}
}

func TestCreateIgnoresMailerErrors(t *testing.T) {
	e := newEnv(t)
	e.mailer.err = errors.New("resend down")

	res, err := e.svc.Create(context.Background(), "a@example.com", "Lamp")
	require.NoError(t, err)
	assert.Len(t, res.JobIDs, 3)
}

func TestCreateValidatesInput(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.Create(context.Background(), "", "Lamp")
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = e.svc.Create(context.Background(), "a@example.com", "  ")
	assert.ErrorIs(t, err, ErrInvalidOrder)

	stats, err := e.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestGetMissingOrder(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, db.ErrNotFound)
}
