package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimeEntrySyncedObject (TESO) correlates one time entry across services.
type TimeEntrySyncedObject struct {
	ID                      uuid.UUID                `json:"id"`
	UserID                  uuid.UUID                `json:"user_id"`
	LastUpdated             time.Time                `json:"last_updated"`
	Date                    time.Time                `json:"date"`
	Archived                bool                     `json:"archived"`
	ServiceTimeEntryObjects []ServiceTimeEntryObject `json:"service_time_entry_objects"`
}

// ServiceTimeEntryObject (STEO) is one service's copy of a TESO.
type ServiceTimeEntryObject struct {
	Service  string `json:"service"`
	ID       string `json:"id"`
	IsOrigin bool   `json:"is_origin"`
}

func NewTimeEntrySyncedObject(userID uuid.UUID, origin ServiceTimeEntryObject, date, lastUpdated time.Time) *TimeEntrySyncedObject {
	origin.IsOrigin = true
	return &TimeEntrySyncedObject{
		ID:                      uuid.New(),
		UserID:                  userID,
		LastUpdated:             lastUpdated,
		Date:                    date,
		ServiceTimeEntryObjects: []ServiceTimeEntryObject{origin},
	}
}

// Origin returns the origin STEO or nil.
func (t *TimeEntrySyncedObject) Origin() *ServiceTimeEntryObject {
	for i := range t.ServiceTimeEntryObjects {
		if t.ServiceTimeEntryObjects[i].IsOrigin {
			return &t.ServiceTimeEntryObjects[i]
		}
	}
	return nil
}

// ObjectFor returns the STEO of the service or nil.
func (t *TimeEntrySyncedObject) ObjectFor(service string) *ServiceTimeEntryObject {
	for i := range t.ServiceTimeEntryObjects {
		if t.ServiceTimeEntryObjects[i].Service == service {
			return &t.ServiceTimeEntryObjects[i]
		}
	}
	return nil
}

// SetObject replaces the STEO of obj.Service, keeping its origin flag, or appends it.
func (t *TimeEntrySyncedObject) SetObject(obj ServiceTimeEntryObject) {
	if existing := t.ObjectFor(obj.Service); existing != nil {
		obj.IsOrigin = existing.IsOrigin
		*existing = obj
		return
	}
	t.ServiceTimeEntryObjects = append(t.ServiceTimeEntryObjects, obj)
}

func (t *TimeEntrySyncedObject) RemoveObject(service string) {
	kept := t.ServiceTimeEntryObjects[:0]
	for _, obj := range t.ServiceTimeEntryObjects {
		if obj.Service != service {
			kept = append(kept, obj)
		}
	}
	t.ServiceTimeEntryObjects = kept
}

// SetOrigin moves the origin flag to the STEO of the service.
func (t *TimeEntrySyncedObject) SetOrigin(service string) {
	for i := range t.ServiceTimeEntryObjects {
		t.ServiceTimeEntryObjects[i].IsOrigin = t.ServiceTimeEntryObjects[i].Service == service
	}
}

// Validate reports duplicated services and a missing or ambiguous origin.
func (t *TimeEntrySyncedObject) Validate() error {
	seen := make(map[string]struct{}, len(t.ServiceTimeEntryObjects))
	origins := 0
	for _, obj := range t.ServiceTimeEntryObjects {
		if _, ok := seen[obj.Service]; ok {
			return fmt.Errorf("time entry %s has more than one copy in service %s", t.ID, obj.Service)
		}
		seen[obj.Service] = struct{}{}
		if obj.IsOrigin {
			origins++
		}
	}
	if origins != 1 {
		return fmt.Errorf("time entry %s has %d origin copies", t.ID, origins)
	}
	return nil
}
