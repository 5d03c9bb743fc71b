package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Enqueuer is the upstream entry point for creating jobs. Every call creates a
// new PENDING row.
type Enqueuer struct {
	store  JobStore
	logger *slog.Logger
}

func NewEnqueuer(store JobStore, logger *slog.Logger) *Enqueuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enqueuer{store: store, logger: logger}
}

// Enqueue marshals payload to JSON and stores it. A nil payload is stored as
// an empty object.
func (e *Enqueuer) Enqueue(ctx context.Context, jobType JobType, payload any) (string, error) {
	raw := []byte("{}")
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("marshal %s payload: %w", jobType, err)
		}
	}

	id, err := e.store.Enqueue(ctx, jobType, raw)
	if err != nil {
		return "", err
	}

	e.logger.Debug("job enqueued",
		slog.String("job_id", id),
		slog.String("job_type", string(jobType)),
	)
	return id, nil
}
