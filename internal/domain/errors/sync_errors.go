package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound indicates that the user does not exist
	ErrUserNotFound = errors.New("user not found")

	// ErrConfigNotSynced indicates that time entries cannot be synced before the first successful config sync
	ErrConfigNotSynced = errors.New("config sync has not completed successfully yet")

	// ErrAlreadyScheduled indicates that the user's triggers are already installed
	ErrAlreadyScheduled = errors.New("jobs are already scheduled for user")

	// ErrNotScheduled indicates that the user has no installed triggers
	ErrNotScheduled = errors.New("jobs are not scheduled for user")

	// ErrSchedulerStopped indicates that the scheduler does not accept work
	ErrSchedulerStopped = errors.New("scheduler is not running")
)

// FetchError means authoritative data could not be retrieved from a service.
// The run that hits it is aborted.
type FetchError struct {
	Service string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch from %s failed: %v", e.Service, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ConsistencyError reports stored state that violates a sync invariant.
type ConsistencyError struct {
	Message string
}

func (e *ConsistencyError) Error() string {
	return e.Message
}

func NewConsistencyError(format string, args ...interface{}) error {
	return &ConsistencyError{Message: fmt.Sprintf(format, args...)}
}

func IsFetch(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr)
}

func IsConsistency(err error) bool {
	var consistencyErr *ConsistencyError
	return errors.As(err, &consistencyErr)
}
