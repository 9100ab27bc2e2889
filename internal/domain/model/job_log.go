package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// JobLog is the audit record of one job execution
type JobLog struct {
	ID          uuid.UUID                     `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID                     `gorm:"type:uuid;not null;index" json:"user_id"`
	Type        string                        `gorm:"size:40;not null" json:"type"`
	Origin      string                        `gorm:"size:20;not null" json:"origin"`
	Status      string                        `gorm:"size:20;not null;index" json:"status"`
	ScheduledAt time.Time                     `gorm:"not null;index" json:"scheduled_at"`
	StartedAt   *time.Time                    `json:"started_at,omitempty"`
	CompletedAt *time.Time                    `json:"completed_at,omitempty"`
	Errors      datatypes.JSONSlice[JobError] `gorm:"type:jsonb" json:"errors"`
}

type JobError struct {
	Category string `json:"category"`
	Service  string `json:"service,omitempty"`
	Message  string `json:"message"`
}

func (JobLog) TableName() string {
	return "job_logs"
}
