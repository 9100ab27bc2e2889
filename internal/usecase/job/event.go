package job

import (
	"time"

	"github.com/wekeepgrowing/timesync/internal/domain/entity"
)

// Event is published on every JobLog status change.
type Event struct {
	JobID       string     `json:"job_id"`
	UserID      string     `json:"user_id"`
	Type        string     `json:"type"`
	Origin      string     `json:"origin"`
	Status      string     `json:"status"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ErrorCount  int        `json:"error_count"`
}

func NewEvent(log *entity.JobLog) Event {
	return Event{
		JobID:       log.ID.String(),
		UserID:      log.UserID.String(),
		Type:        string(log.Type),
		Origin:      string(log.Origin),
		Status:      string(log.Status),
		ScheduledAt: log.ScheduledAt,
		StartedAt:   log.StartedAt,
		CompletedAt: log.CompletedAt,
		ErrorCount:  len(log.Errors),
	}
}
