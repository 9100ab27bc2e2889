package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobTypeConfigSync             JobType = "config-sync"
	JobTypeTimeEntrySync          JobType = "time-entry-sync"
	JobTypeRemoveObsoleteMappings JobType = "remove-obsolete-mappings"
)

// JobTypes lists every job type in trigger installation order.
var JobTypes = []JobType{JobTypeConfigSync, JobTypeTimeEntrySync, JobTypeRemoveObsoleteMappings}

func (t JobType) Valid() bool {
	switch t {
	case JobTypeConfigSync, JobTypeTimeEntrySync, JobTypeRemoveObsoleteMappings:
		return true
	}
	return false
}

type JobOrigin string

const (
	JobOriginScheduled JobOrigin = "scheduled"
	JobOriginManual    JobOrigin = "manual"
	JobOriginInternal  JobOrigin = "internal"
)

type JobStatus string

const (
	JobStatusScheduled    JobStatus = "scheduled"
	JobStatusRunning      JobStatus = "running"
	JobStatusSuccessful   JobStatus = "successful"
	JobStatusUnsuccessful JobStatus = "unsuccessful"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccessful || s == JobStatusUnsuccessful
}

type ErrorCategory string

const (
	ErrorCategoryFetch         ErrorCategory = "fetch"
	ErrorCategoryOperation     ErrorCategory = "operation"
	ErrorCategoryConsistency   ErrorCategory = "consistency"
	ErrorCategoryAuthorization ErrorCategory = "authorization"
	ErrorCategoryInternal      ErrorCategory = "internal"
)

// JobError is one failure recorded during a job run.
type JobError struct {
	Category ErrorCategory `json:"category"`
	Service  string        `json:"service,omitempty"`
	Message  string        `json:"message"`
}

// JobLog is the audit record of one job execution.
type JobLog struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	Type        JobType    `json:"type"`
	Origin      JobOrigin  `json:"origin"`
	Status      JobStatus  `json:"status"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Errors      []JobError `json:"errors"`
}

func NewJobLog(userID uuid.UUID, jobType JobType, origin JobOrigin, scheduledAt time.Time) *JobLog {
	return &JobLog{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        jobType,
		Origin:      origin,
		Status:      JobStatusScheduled,
		ScheduledAt: scheduledAt,
		Errors:      []JobError{},
	}
}

// Transition applies a status change if it is legal and reports whether it
// happened. scheduled -> running -> successful | unsuccessful.
func (l *JobLog) Transition(to JobStatus, at time.Time) bool {
	switch to {
	case JobStatusRunning:
		if l.Status != JobStatusScheduled {
			return false
		}
		l.StartedAt = &at
	case JobStatusSuccessful, JobStatusUnsuccessful:
		if l.Status != JobStatusRunning {
			return false
		}
		l.CompletedAt = &at
	default:
		return false
	}
	l.Status = to
	return true
}

// Fail closes a job that never started as unsuccessful with one internal
// error.
func (l *JobLog) Fail(message string, at time.Time) bool {
	if l.Status != JobStatusScheduled {
		return false
	}
	l.StartedAt = &at
	l.CompletedAt = &at
	l.Status = JobStatusUnsuccessful
	l.Errors = append(l.Errors, JobError{Category: ErrorCategoryInternal, Message: message})
	return true
}
