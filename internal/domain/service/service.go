// Package service defines the capability every integrated external service
// exposes to the reconciliation jobs.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wekeepgrowing/timesync/internal/domain/entity"
)

// ErrNotFound is returned by delete operations when the remote object is already gone.
var ErrNotFound = errors.New("remote object not found")

// Object is an organizational object (project, issue, activity, tag) as seen by one service.
type Object struct {
	ID          string
	Name        string
	Type        entity.ObjectType
	LastUpdated time.Time
}

func (o Object) Key() entity.MappingKey {
	return entity.MappingKey{ID: o.ID, Type: o.Type}
}

// ObjectRef is a service-local object referenced by a time entry.
type ObjectRef struct {
	ID   string
	Type entity.ObjectType
}

// TimeEntry is one service's copy of a time record.
type TimeEntry struct {
	ID          string
	Service     string
	Text        string
	Start       time.Time
	End         time.Time
	DurationMs  int64
	LastUpdated time.Time
	ObjectRefs  []ObjectRef
}

// Association links a time entry to a primary object.
// Inferred is set when it was derived from free text and no Mapping exists yet.
type Association struct {
	PrimaryObjectID   string
	PrimaryObjectType entity.ObjectType
	Inferred          bool
}

func (a Association) Key() entity.MappingKey {
	return entity.MappingKey{ID: a.PrimaryObjectID, Type: a.PrimaryObjectType}
}

// TimeEntryRequest carries everything an adapter needs to write a time entry.
// Mappings resolve associations to the adapter's own object ids.
type TimeEntryRequest struct {
	Text         string
	Start        time.Time
	End          time.Time
	DurationMs   int64
	Associations []Association
	Mappings     []*entity.Mapping
}

// RequestFrom copies a live entry into a write request.
func RequestFrom(entry *TimeEntry, associations []Association, mappings []*entity.Mapping) TimeEntryRequest {
	return TimeEntryRequest{
		Text:         entry.Text,
		Start:        entry.Start,
		End:          entry.End,
		DurationMs:   entry.DurationMs,
		Associations: associations,
		Mappings:     mappings,
	}
}

type TimeEntryFilter struct {
	Since      *time.Time
	Until      *time.Time
	ObjectID   string
	ObjectType entity.ObjectType
}

type Capabilities struct {
	IsPrimaryCapable                    bool
	SupportsInferredAssociationAsSource bool
	SupportsInferredAssociationAsTarget bool
	SupportsArchiveAnnotation           bool
}

// Adapter is implemented once per integrated service.
type Adapter interface {
	Name() string
	Capabilities() Capabilities

	ListObjects(ctx context.Context, since *time.Time) ([]Object, error)
	// CreateObject replicates a primary object. The adapter renders its own name.
	CreateObject(ctx context.Context, primary Object) (*Object, error)
	UpdateObject(ctx context.Context, id string, primary Object) (*Object, error)
	DeleteObject(ctx context.Context, id string, objectType entity.ObjectType) error
	FullName(primary Object) string

	ListTimeEntries(ctx context.Context, filter TimeEntryFilter) ([]TimeEntry, error)
	// GetTimeEntry returns nil without error when the entry does not exist.
	GetTimeEntry(ctx context.Context, id string, since *time.Time) (*TimeEntry, error)
	CreateTimeEntry(ctx context.Context, req TimeEntryRequest) (*TimeEntry, error)
	// UpdateTimeEntry keeps the original's object references when req.Associations is nil.
	UpdateTimeEntry(ctx context.Context, req TimeEntryRequest, original TimeEntry) (*TimeEntry, error)
	DeleteTimeEntry(ctx context.Context, id string) error

	ExtractAssociations(entry TimeEntry, mappings []*entity.Mapping) []Association
}

// PrimaryAdapter adds the lookups only the primary service answers.
type PrimaryAdapter interface {
	Adapter
	ListRemovableObjects(ctx context.Context, from, to time.Time) ([]Object, error)
	GetObjectsByIDs(ctx context.Context, objectType entity.ObjectType, ids []string) ([]Object, error)
	MaxBatchSize() int
}

// Builder creates the adapter for one service definition.
type Builder interface {
	Build(def entity.ServiceDefinition) (Adapter, error)
}

// Error is a non-success response of an external service.
type Error struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Service, e.StatusCode, e.Message)
}

// IsAuthorization reports a rejected credential.
func (e *Error) IsAuthorization() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsAuthorization reports whether err carries a 401/403 from a service.
func IsAuthorization(err error) bool {
	var svcErr *Error
	return errors.As(err, &svcErr) && svcErr.IsAuthorization()
}
