package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a job record.
//
//	PENDING ───► PROCESSING ───► SUCCESS
//	                 │
//	                 └─────────► FAILED
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusSuccess    JobStatus = "SUCCESS"
	JobStatusFailed     JobStatus = "FAILED"
)

// JobStatuses lists every status in lifecycle order.
var JobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusSuccess,
	JobStatusFailed,
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusSuccess, JobStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether the worker may move a job from one status to another.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusProcessing
	case JobStatusProcessing:
		return to == JobStatusSuccess || to == JobStatusFailed
	}
	return false
}

// JobType selects the handler for a job.
type JobType string

const (
	JobTypePayment       JobType = "PAYMENT_JOB"
	JobTypeAmazonAddress JobType = "AMAZON_ADDRESS_JOB"
	JobTypeAmazonGift    JobType = "AMAZON_GIFT_JOB"
)

// KnownJobTypes lists the job types upstream code is allowed to enqueue.
var KnownJobTypes = []JobType{
	JobTypePayment,
	JobTypeAmazonAddress,
	JobTypeAmazonGift,
}

const unknownJobTypeMessage = "Unknown job type"

type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Status    JobStatus       `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Outcome is the result a job is resolved with.
type Outcome struct {
	status       JobStatus
	message      string
	countAttempt bool
}

// Success resolves a job to SUCCESS and clears any previous error.
func Success() Outcome {
	return Outcome{status: JobStatusSuccess}
}

// Failure resolves a job to FAILED with message as last_error and counts the attempt.
func Failure(message string) Outcome {
	return Outcome{status: JobStatusFailed, message: message, countAttempt: true}
}

// UnknownType resolves a job whose type has no handler. The attempt is not
// counted: the job is misconfigured, not failing.
func UnknownType() Outcome {
	return Outcome{status: JobStatusFailed, message: unknownJobTypeMessage}
}

func (o Outcome) Status() JobStatus { return o.status }
func (o Outcome) Message() string { return o.message }
func (o Outcome) CountsAttempt() bool { return o.countAttempt }
func (o Outcome) IsSuccess() bool { return o.status == JobStatusSuccess }

// Validate rejects the zero Outcome; stores call it before writing.
func (o Outcome) Validate() error {
	if !o.status.IsTerminal() {
		return fmt.Errorf("invalid outcome status %q", o.status)
	}
	return nil
}

type JobFilter struct {
	Status JobStatus
	Type   JobType
	Limit  int
	Offset int
}

type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Success    int `json:"success"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

func (s *QueueStats) Add(status JobStatus, n int) {
	s.Total += n
	switch status {
	case JobStatusPending:
		s.Pending += n
	case JobStatusProcessing:
		s.Processing += n
	case JobStatusSuccess:
		s.Success += n
	case JobStatusFailed:
		s.Failed += n
	}
}
