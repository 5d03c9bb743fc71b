// Package orderjobs holds the handlers for the follow-up jobs of an order.
// They stand in for the payment and marketplace integrations and only wait.
package orderjobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/orderflow/backend/internal/core"
)

var ErrMissingOrderID = errors.New("missing orderId")

type simulated struct {
	action string
	delay  time.Duration
	logger *slog.Logger
}

func (h *simulated) Execute(ctx context.Context, payload core.Payload) error {
	orderID, ok := payload.String("orderId")
	if !ok {
		return ErrMissingOrderID
	}

	h.logger.Info("simulating "+h.action, slog.String("order_id", orderID))

	if h.delay > 0 {
		timer := time.NewTimer(h.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// Register installs a handler for each order job type. Every handler waits
// delay before succeeding.
func Register(reg *core.Registry, delay time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	handlers := map[core.JobType]string{
		core.JobTypePayment:       "payment",
		core.JobTypeAmazonAddress: "amazon address update",
		core.JobTypeAmazonGift:    "amazon gift toggle",
	}
	for jobType, action := range handlers {
		h := &simulated{
			action: action,
			delay:  delay,
			logger: logger.With(slog.String("job_type", string(jobType))),
		}
		if err := reg.Register(jobType, h); err != nil {
			return fmt.Errorf("register %s: %w", jobType, err)
		}
	}
	return nil
}
