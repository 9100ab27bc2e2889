package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// User is a tenant with a configured set of services.
type User struct {
	ID                        uuid.UUID           `json:"id"`
	Username                  string              `json:"username"`
	RegisteredAt              time.Time           `json:"registered_at"`
	DaysToSync                int                 `json:"days_to_sync"`
	ServiceDefinitions        []ServiceDefinition `json:"service_definitions"`
	ConfigSyncJob             JobDefinition       `json:"config_sync_job"`
	TimeEntrySyncJob          JobDefinition       `json:"time_entry_sync_job"`
	RemoveObsoleteMappingsJob JobDefinition       `json:"remove_obsolete_mappings_job"`
	Mappings                  []*Mapping          `json:"mappings"`
}

// ServiceDefinition is one integrated service instance of a user.
// Name selects the adapter implementation and is unique per user.
type ServiceDefinition struct {
	Name      string        `json:"name"`
	IsPrimary bool          `json:"is_primary"`
	APIKey    string        `json:"-"`
	Config    ServiceConfig `json:"config"`
}

type ServiceConfig struct {
	APIURL            string `json:"api_url,omitempty"`
	WorkspaceID       string `json:"workspace_id,omitempty"`
	UserID            string `json:"user_id,omitempty"`
	DefaultActivityID string `json:"default_activity_id,omitempty"`
}

// JobDefinition is the schedule of one job type plus its watermark.
type JobDefinition struct {
	Schedule             string     `json:"schedule"`
	LastSuccessfullyDone *time.Time `json:"last_successfully_done,omitempty"`
}

// Advance moves the watermark forward. Earlier values are ignored.
func (d *JobDefinition) Advance(at time.Time) bool {
	if d.LastSuccessfullyDone != nil && !at.After(*d.LastSuccessfullyDone) {
		return false
	}
	t := at
	d.LastSuccessfullyDone = &t
	return true
}

// Job returns the definition of the given job type, nil for unknown types.
func (u *User) Job(jobType JobType) *JobDefinition {
	switch jobType {
	case JobTypeConfigSync:
		return &u.ConfigSyncJob
	case JobTypeTimeEntrySync:
		return &u.TimeEntrySyncJob
	case JobTypeRemoveObsoleteMappings:
		return &u.RemoveObsoleteMappingsJob
	}
	return nil
}

// PrimaryService returns the single primary service definition.
func (u *User) PrimaryService() (*ServiceDefinition, error) {
	var primary *ServiceDefinition
	for i := range u.ServiceDefinitions {
		if !u.ServiceDefinitions[i].IsPrimary {
			continue
		}
		if primary != nil {
			return nil, fmt.Errorf("user %s has more than one primary service", u.ID)
		}
		primary = &u.ServiceDefinitions[i]
	}
	if primary == nil {
		return nil, fmt.Errorf("user %s has no primary service", u.ID)
	}
	return primary, nil
}

// Validate checks the service set of the user.
func (u *User) Validate() error {
	seen := make(map[string]struct{}, len(u.ServiceDefinitions))
	for _, def := range u.ServiceDefinitions {
		if def.Name == "" {
			return fmt.Errorf("service definition without name")
		}
		if _, ok := seen[def.Name]; ok {
			return fmt.Errorf("service %q configured twice", def.Name)
		}
		seen[def.Name] = struct{}{}
	}
	_, err := u.PrimaryService()
	return err
}

// SyncWindowStart is the lower bound of the time entry lookback window.
func (u *User) SyncWindowStart(now time.Time, defaultDays int) time.Time {
	days := u.DaysToSync
	if days <= 0 {
		days = defaultDays
	}
	start := now.AddDate(0, 0, -days)
	if u.RegisteredAt.After(start) {
		return u.RegisteredAt
	}
	return start
}
