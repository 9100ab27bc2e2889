package toggl

import (
	"strconv"
	"strings"
	"time"

	"github.com/wekeepgrowing/timesync/internal/domain/entity"
	"github.com/wekeepgrowing/timesync/internal/domain/service"
)

type project struct {
	ID   int64     `json:"id"`
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

type projectPayload struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

func (p project) toObject() service.Object {
	return service.Object{
		ID:          strconv.FormatInt(p.ID, 10),
		Name:        p.Name,
		Type:        entity.ObjectTypeProject,
		LastUpdated: p.At,
	}
}

type tag struct {
	ID   int64     `json:"id"`
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

type tagPayload struct {
	Name        string `json:"name"`
	WorkspaceID int64  `json:"workspace_id"`
}

// toObject recovers the object type from the " (<type>)" name suffix.
// Tags created outside of timesync are plain tags.
func (t tag) toObject() service.Object {
	objectType := entity.ObjectTypeTag
	for _, candidate := range []entity.ObjectType{entity.ObjectTypeIssue, entity.ObjectTypeActivity, entity.ObjectTypeTag} {
		if strings.HasSuffix(t.Name, " ("+string(candidate)+")") {
			objectType = candidate
			break
		}
	}
	return service.Object{
		ID:          strconv.FormatInt(t.ID, 10),
		Name:        t.Name,
		Type:        objectType,
		LastUpdated: t.At,
	}
}

type timeEntry struct {
	ID          int64      `json:"id"`
	WorkspaceID int64      `json:"workspace_id"`
	ProjectID   *int64     `json:"project_id"`
	TagIDs      []int64    `json:"tag_ids"`
	Description string     `json:"description"`
	Start       time.Time  `json:"start"`
	Stop        *time.Time `json:"stop"`
	// Duration is in seconds; negative while the timer runs.
	Duration int64     `json:"duration"`
	At       time.Time `json:"at"`
}

type timeEntryPayload struct {
	CreatedWith string    `json:"created_with"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	Stop        time.Time `json:"stop"`
	Duration    int64     `json:"duration"`
	WorkspaceID int64     `json:"workspace_id"`
	ProjectID   *int64    `json:"project_id,omitempty"`
	TagIDs      []int64   `json:"tag_ids"`
}

func (te timeEntry) toEntry(serviceName string) service.TimeEntry {
	end := te.Start.Add(time.Duration(te.Duration) * time.Second)
	if te.Stop != nil {
		end = *te.Stop
	}

	var refs []service.ObjectRef
	if te.ProjectID != nil {
		refs = append(refs, service.ObjectRef{ID: strconv.FormatInt(*te.ProjectID, 10), Type: entity.ObjectTypeProject})
	}
	for _, id := range te.TagIDs {
		refs = append(refs, service.ObjectRef{ID: strconv.FormatInt(id, 10), Type: entity.ObjectTypeTag})
	}

	return service.TimeEntry{
		ID:          strconv.FormatInt(te.ID, 10),
		Service:     serviceName,
		Text:        te.Description,
		Start:       te.Start,
		End:         end,
		DurationMs:  te.Duration * 1000,
		LastUpdated: te.At,
		ObjectRefs:  refs,
	}
}

// references reports whether the entry points at the given toggl object.
func (te timeEntry) references(id string, objectType entity.ObjectType) bool {
	if objectType == entity.ObjectTypeProject {
		return te.ProjectID != nil && strconv.FormatInt(*te.ProjectID, 10) == id
	}
	for _, tagID := range te.TagIDs {
		if strconv.FormatInt(tagID, 10) == id {
			return true
		}
	}
	return false
}
