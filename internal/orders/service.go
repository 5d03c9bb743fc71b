// Package orders runs the order intake flow: persist, notify, summarize and
// hand follow-up work to the job queue.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/orderflow/backend/internal/ai"
	"github.com/orderflow/backend/internal/core"
	"github.com/orderflow/backend/internal/db"
)

var ErrInvalidOrder = errors.New("customerEmail and productName are required")

// FollowUpJobs are enqueued, in order, for every processed order.
var FollowUpJobs = []core.JobType{
	core.JobTypePayment,
	core.JobTypeAmazonAddress,
	core.JobTypeAmazonGift,
}

type Mailer interface {
	SendOrderReceived(ctx context.Context, to, orderID, productName string) error
	SendOrderProcessed(ctx context.Context, to, productName, summary string) error
}

type Summarizer interface {
	GenerateOrderSummary(ctx context.Context, productName, customerEmail string) ai.Summary
}

type Enqueuer interface {
	Enqueue(ctx context.Context, jobType core.JobType, payload any) (string, error)
}

// JobPayload is what every follow-up job carries.
type JobPayload struct {
	OrderID string `json:"orderId"`
}

type Result struct {
	OrderID   string         `json:"orderId"`
	Status    db.OrderStatus `json:"status"`
	AISummary string         `json:"aiSummary"`
	JobIDs    []string       `json:"jobIds,omitempty"`
}

type Service struct {
	repos      *db.Repositories
	mailer     Mailer
	summarizer Summarizer
	enqueuer   Enqueuer
	logger     *slog.Logger
}

func NewService(repos *db.Repositories, mailer Mailer, summarizer Summarizer, enqueuer Enqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repos:      repos,
		mailer:     mailer,
		summarizer: summarizer,
		enqueuer:   enqueuer,
		logger:     logger,
	}
}

// Create records the order, emails the customer, stores the AI summary,
// marks the order PROCESSED and enqueues FollowUpJobs. Email failures are
// logged and do not fail the order.
func (s *Service) Create(ctx context.Context, customerEmail, productName string) (*Result, error) {
	customerEmail = strings.TrimSpace(customerEmail)
	productName = strings.TrimSpace(productName)
	if customerEmail == "" || productName == "" {
		return nil, ErrInvalidOrder
	}

	order := &db.Order{
		CustomerEmail: customerEmail,
		ProductName:   productName,
		Status:        db.OrderStatusReceived,
	}
	if err := s.repos.Orders.Create(ctx, order); err != nil {
		return nil, err
	}

	log := s.logger.With(slog.String("order_id", order.ID))
	log.Info("order received", slog.String("product", productName))

	if err := s.mailer.SendOrderReceived(ctx, customerEmail, order.ID, productName); err != nil {
		log.Warn("failed to send order received email", slog.String("error", err.Error()))
	}

	summary := s.summarizer.GenerateOrderSummary(ctx, productName, customerEmail)
	if err := s.repos.AIRequests.Create(ctx, &db.AIRequest{
		OrderID:       order.ID,
		Prompt:        summary.Prompt,
		OpenAIRaw:     summary.Raw,
		OpenAISummary: summary.Text,
	}); err != nil {
		return nil, err
	}

	if err := s.repos.Orders.UpdateStatus(ctx, order.ID, db.OrderStatusProcessed); err != nil {
		return nil, err
	}

	if err := s.mailer.SendOrderProcessed(ctx, customerEmail, productName, summary.Text); err != nil {
		log.Warn("failed to send order processed email", slog.String("error", err.Error()))
	}

	result := &Result{
		OrderID:   order.ID,
		Status:    db.OrderStatusProcessed,
		AISummary: summary.Text,
	}
	for _, jobType := range FollowUpJobs {
		id, err := s.enqueuer.Enqueue(ctx, jobType, JobPayload{OrderID: order.ID})
		if err != nil {
			return nil, fmt.Errorf("enqueue %s for order %s: %w", jobType, order.ID, err)
		}
		result.JobIDs = append(result.JobIDs, id)
	}

	log.Info("order processed", slog.Int("jobs", len(result.JobIDs)))
	return result, nil
}

func (s *Service) Get(ctx context.Context, id string) (*db.Order, error) {
	return s.repos.Orders.GetByID(ctx, id)
}

func (s *Service) AIRequests(ctx context.Context, orderID string) ([]*db.AIRequest, error) {
	return s.repos.AIRequests.ListByOrder(ctx, orderID)
}
