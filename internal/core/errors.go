package core

import (
	"errors"
	"fmt"
)

var ErrJobNotFound = errors.New("job not found")

// StorageError is an I/O or constraint failure of the durable store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// DecodeError means the stored payload could not be decoded for its handler.
type DecodeError struct {
	JobID string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode payload of job %s: %v", e.JobID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// UnknownHandlerError means no handler is registered for the job type.
type UnknownHandlerError struct {
	JobID string
	Type  JobType
}

func (e *UnknownHandlerError) Error() string {
	return fmt.Sprintf("no handler registered for job %s of type %q", e.JobID, e.Type)
}

// HandlerFailure is a failure reported (or raised) by a handler.
type HandlerFailure struct {
	JobID  string
	Type   JobType
	Reason string
	Err    error
}

func (e *HandlerFailure) Error() string {
	return fmt.Sprintf("job %s (%s) failed: %s", e.JobID, e.Type, e.Reason)
}

func (e *HandlerFailure) Unwrap() error { return e.Err }

// InvalidTransitionError is returned when a status change is requested for a
// job that is not in the required source state. From is empty when the job
// does not exist.
type InvalidTransitionError struct {
	JobID string
	From  JobStatus
	To    JobStatus
}

func (e *InvalidTransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("invalid transition to %s: job %s not found", e.To, e.JobID)
	}
	return fmt.Sprintf("invalid transition for job %s: %s -> %s", e.JobID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	if e.From == "" {
		return ErrJobNotFound
	}
	return nil
}
