package core

import (
	"context"
	"time"
)

// JobStore is the durable table of job records.
//
// ClaimNext must select the oldest PENDING job and mark it PROCESSING in a
// single atomic step: no two concurrent callers may ever receive the same job.
// Resolve and Requeue are conditional on the current status and return an
// *InvalidTransitionError when the precondition does not hold. I/O failures
// are reported as *StorageError.
type JobStore interface {
	Enqueue(ctx context.Context, jobType JobType, payload []byte) (string, error)
	ClaimNext(ctx context.Context) (*Job, error)
	Resolve(ctx context.Context, id string, outcome Outcome) error

	// Requeue moves a FAILED job back to PENDING, keeping its attempts.
	// Operator action only; the worker never calls it.
	Requeue(ctx context.Context, id string) error

	// ReclaimStale moves PROCESSING jobs not updated for olderThan back to
	// PENDING and returns how many were moved.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error)

	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, filter JobFilter) ([]*Job, error)
	Stats(ctx context.Context) (QueueStats, error)
	Close() error
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// NormalizeLimit clamps a list limit to the range stores accept.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
