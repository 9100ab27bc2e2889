package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/wekeepgrowing/timesync/internal/domain/entity"
	"gopkg.in/yaml.v3"
)

type usersFile struct {
	Users []userEntry `yaml:"users"`
}

type userEntry struct {
	ID           string         `yaml:"id"`
	Username     string         `yaml:"username"`
	RegisteredAt *time.Time     `yaml:"registered_at"`
	DaysToSync   int            `yaml:"days_to_sync"`
	Services     []serviceEntry `yaml:"services"`
	Schedules    scheduleEntry  `yaml:"schedules"`
}

type serviceEntry struct {
	Name              string `yaml:"name"`
	Primary           bool   `yaml:"primary"`
	APIKey            string `yaml:"api_key"`
	APIURL            string `yaml:"api_url"`
	WorkspaceID       string `yaml:"workspace_id"`
	UserID            string `yaml:"user_id"`
	DefaultActivityID string `yaml:"default_activity_id"`
}

type scheduleEntry struct {
	ConfigSync             string `yaml:"config_sync"`
	TimeEntrySync          string `yaml:"time_entry_sync"`
	RemoveObsoleteMappings string `yaml:"remove_obsolete_mappings"`
}

func loadUsersFromYAML(path string, now time.Time) ([]*entity.User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	return parseUsers(data, now)
}

func parseUsers(data []byte, now time.Time) ([]*entity.User, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var file usersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal users yaml: %w", err)
	}

	users := make([]*entity.User, 0, len(file.Users))
	seen := make(map[uuid.UUID]struct{}, len(file.Users))
	for i, entry := range file.Users {
		user, err := entry.toEntity(now)
		if err != nil {
			return nil, fmt.Errorf("users[%d]: %w", i, err)
		}
		if _, ok := seen[user.ID]; ok {
			return nil, fmt.Errorf("users[%d]: duplicate id %s", i, user.ID)
		}
		seen[user.ID] = struct{}{}
		users = append(users, user)
	}
	return users, nil
}

func (e userEntry) toEntity(now time.Time) (*entity.User, error) {
	username := strings.TrimSpace(e.Username)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if e.DaysToSync < 0 {
		return nil, fmt.Errorf("days_to_sync must not be negative")
	}

	id := uuid.New()
	if e.ID != "" {
		parsed, err := uuid.Parse(e.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid id: %w", err)
		}
		id = parsed
	}

	registeredAt := now.UTC()
	if e.RegisteredAt != nil {
		registeredAt = e.RegisteredAt.UTC()
	}

	user := &entity.User{
		ID:                        id,
		Username:                  username,
		RegisteredAt:              registeredAt,
		DaysToSync:                e.DaysToSync,
		ConfigSyncJob:             entity.JobDefinition{Schedule: e.Schedules.ConfigSync},
		TimeEntrySyncJob:          entity.JobDefinition{Schedule: e.Schedules.TimeEntrySync},
		RemoveObsoleteMappingsJob: entity.JobDefinition{Schedule: e.Schedules.RemoveObsoleteMappings},
	}
	for _, svc := range e.Services {
		user.ServiceDefinitions = append(user.ServiceDefinitions, entity.ServiceDefinition{
			Name:      strings.ToLower(strings.TrimSpace(svc.Name)),
			IsPrimary: svc.Primary,
			APIKey:    svc.APIKey,
			Config: entity.ServiceConfig{
				APIURL:            svc.APIURL,
				WorkspaceID:       svc.WorkspaceID,
				UserID:            svc.UserID,
				DefaultActivityID: svc.DefaultActivityID,
			},
		})
	}

	if err := user.Validate(); err != nil {
		return nil, err
	}
	for _, jobType := range entity.JobTypes {
		spec := user.Job(jobType).Schedule
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return nil, fmt.Errorf("invalid %s schedule %q: %w", jobType, spec, err)
		}
	}
	return user, nil
}
