package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// TimeEntrySyncedObject correlates one time entry across services
type TimeEntrySyncedObject struct {
	ID                      uuid.UUID                                   `gorm:"type:uuid;primaryKey" json:"id"`
	UserID                  uuid.UUID                                   `gorm:"type:uuid;not null;index" json:"user_id"`
	LastUpdated             time.Time                                   `gorm:"not null" json:"last_updated"`
	Date                    time.Time                                   `gorm:"not null" json:"date"`
	Archived                bool                                        `gorm:"not null;default:false" json:"archived"`
	ServiceTimeEntryObjects datatypes.JSONSlice[ServiceTimeEntryObject] `gorm:"type:jsonb;not null" json:"service_time_entry_objects"`
	CreatedAt               time.Time                                   `gorm:"default:now()" json:"created_at"`
	UpdatedAt               time.Time                                   `gorm:"default:now()" json:"updated_at"`
}

type ServiceTimeEntryObject struct {
	Service  string `json:"service"`
	ID       string `json:"id"`
	IsOrigin bool   `json:"is_origin"`
}

func (TimeEntrySyncedObject) TableName() string {
	return "time_entry_synced_objects"
}
