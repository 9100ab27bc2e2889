package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Mapping correlates one primary object with its copies in other services
type Mapping struct {
	ID                int64                               `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID            uuid.UUID                           `gorm:"type:uuid;not null;uniqueIndex:idx_mappings_primary_object,priority:1" json:"user_id"`
	PrimaryObjectID   string                              `gorm:"size:100;not null;uniqueIndex:idx_mappings_primary_object,priority:2" json:"primary_object_id"`
	PrimaryObjectType string                              `gorm:"size:20;not null;uniqueIndex:idx_mappings_primary_object,priority:3" json:"primary_object_type"`
	Name              string                              `gorm:"not null" json:"name"`
	MappingsObjects   datatypes.JSONSlice[MappingsObject] `gorm:"type:jsonb;not null" json:"mappings_objects"`
	CreatedAt         time.Time                           `gorm:"default:now()" json:"created_at"`
}

type MappingsObject struct {
	Service     string    `json:"service"`
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	LastUpdated time.Time `json:"last_updated"`
}

func (Mapping) TableName() string {
	return "mappings"
}
