package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// User represents a tenant and its configured services
type User struct {
	ID                 uuid.UUID                              `gorm:"type:uuid;primaryKey" json:"id"`
	Username           string                                 `gorm:"size:100;not null;uniqueIndex" json:"username"`
	RegisteredAt       time.Time                              `gorm:"not null" json:"registered_at"`
	DaysToSync         int                                    `gorm:"not null;default:0" json:"days_to_sync"`
	ServiceDefinitions datatypes.JSONSlice[ServiceDefinition] `gorm:"type:jsonb;not null" json:"service_definitions"`

	ConfigSyncSchedule                string     `gorm:"size:100" json:"config_sync_schedule"`
	ConfigSyncLastSuccess             *time.Time `json:"config_sync_last_success,omitempty"`
	TimeEntrySyncSchedule             string     `gorm:"size:100" json:"time_entry_sync_schedule"`
	TimeEntrySyncLastSuccess          *time.Time `json:"time_entry_sync_last_success,omitempty"`
	RemoveObsoleteMappingsSchedule    string     `gorm:"size:100" json:"remove_obsolete_mappings_schedule"`
	RemoveObsoleteMappingsLastSuccess *time.Time `json:"remove_obsolete_mappings_last_success,omitempty"`

	CreatedAt time.Time `gorm:"default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:now()" json:"updated_at"`

	// Relations
	Mappings []Mapping `gorm:"foreignKey:UserID" json:"mappings,omitempty"`
}

// ServiceDefinition is stored inside users.service_definitions.
// The API key is kept encrypted.
type ServiceDefinition struct {
	Name              string `json:"name"`
	IsPrimary         bool   `json:"is_primary"`
	EncryptedAPIKey   string `json:"api_key"`
	APIKeyNonce       string `json:"api_key_nonce"`
	APIURL            string `json:"api_url,omitempty"`
	WorkspaceID       string `json:"workspace_id,omitempty"`
	ExternalUserID    string `json:"user_id,omitempty"`
	DefaultActivityID string `json:"default_activity_id,omitempty"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}

// WatermarkColumn returns the column holding the last success of a job type.
func WatermarkColumn(jobType string) (string, bool) {
	switch jobType {
	case "config-sync":
		return "config_sync_last_success", true
	case "time-entry-sync":
		return "time_entry_sync_last_success", true
	case "remove-obsolete-mappings":
		return "remove_obsolete_mappings_last_success", true
	}
	return "", false
}
