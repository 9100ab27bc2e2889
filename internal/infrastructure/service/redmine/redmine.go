// Package redmine adapts the Redmine REST API. Redmine is the primary
// service: its projects, issues and activities are the ground truth.
package redmine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wekeepgrowing/timesync/internal/domain/entity"
	"github.com/wekeepgrowing/timesync/internal/domain/service"
	"github.com/wekeepgrowing/timesync/internal/infrastructure/service/client"
	"go.uber.org/zap"
)

const (
	pageSize     = 100
	maxBatchSize = 100
	dateLayout   = "2006-01-02"
)

var errReadOnly = errors.New("redmine objects are managed in redmine itself")

type Adapter struct {
	name              string
	client            *client.Client
	userID            string
	defaultActivityID string
	logger            *zap.Logger
}

// New creates the adapter. clientCfg carries the shared client tuning; the
// base URL and credentials come from the service definition.
func New(def entity.ServiceDefinition, clientCfg client.Config, logger *zap.Logger) (*Adapter, error) {
	if def.Config.APIURL == "" {
		return nil, fmt.Errorf("redmine service %q has no api_url", def.Name)
	}
	apiKey := def.APIKey

	clientCfg.Service = def.Name
	clientCfg.BaseURL = def.Config.APIURL
	clientCfg.Authorize = func(req *http.Request) {
		req.Header.Set("X-Redmine-API-Key", apiKey)
	}
	clientCfg.Logger = logger

	userID := def.Config.UserID
	if userID == "" {
		userID = "me"
	}

	return &Adapter{
		name:              def.Name,
		client:            client.New(clientCfg),
		userID:            userID,
		defaultActivityID: def.Config.DefaultActivityID,
		logger:            logger.With(zap.String("service", def.Name)),
	}, nil
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Capabilities() service.Capabilities {
	return service.Capabilities{
		IsPrimaryCapable:                    true,
		SupportsInferredAssociationAsTarget: true,
	}
}

func (a *Adapter) MaxBatchSize() int { return maxBatchSize }

// FullName is the plain object name in redmine.
func (a *Adapter) FullName(primary service.Object) string {
	return primary.Name
}

func (a *Adapter) ListObjects(ctx context.Context, since *time.Time) ([]service.Object, error) {
	projects, err := a.listProjects(ctx, since)
	if err != nil {
		return nil, err
	}

	query := url.Values{"status_id": {"*"}}
	if since != nil {
		query.Set("updated_on", ">="+since.UTC().Format(time.RFC3339))
	}
	issues, err := a.listIssues(ctx, query)
	if err != nil {
		return nil, err
	}

	activities, err := a.listActivities(ctx)
	if err != nil {
		return nil, err
	}

	objects := make([]service.Object, 0, len(projects)+len(issues)+len(activities))
	objects = append(objects, projects...)
	objects = append(objects, issues...)
	return append(objects, activities...), nil
}

// ListRemovableObjects returns issues closed within [from, to].
func (a *Adapter) ListRemovableObjects(ctx context.Context, from, to time.Time) ([]service.Object, error) {
	return a.listIssues(ctx, url.Values{
		"status_id":  {"closed"},
		"updated_on": {fmt.Sprintf("><%s|%s", from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))},
	})
}

func (a *Adapter) GetObjectsByIDs(ctx context.Context, objectType entity.ObjectType, ids []string) ([]service.Object, error) {
	if objectType != entity.ObjectTypeIssue {
		return nil, fmt.Errorf("batch lookup of %s objects is not supported", objectType)
	}
	if len(ids) > maxBatchSize {
		return nil, fmt.Errorf("batch of %d ids exceeds %d", len(ids), maxBatchSize)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return a.listIssues(ctx, url.Values{
		"status_id": {"*"},
		"issue_id":  {strings.Join(ids, ",")},
	})
}

func (a *Adapter) CreateObject(ctx context.Context, primary service.Object) (*service.Object, error) {
	return nil, errReadOnly
}

func (a *Adapter) UpdateObject(ctx context.Context, id string, primary service.Object) (*service.Object, error) {
	return nil, errReadOnly
}

func (a *Adapter) DeleteObject(ctx context.Context, id string, objectType entity.ObjectType) error {
	return errReadOnly
}

func (a *Adapter) ListTimeEntries(ctx context.Context, filter service.TimeEntryFilter) ([]service.TimeEntry, error) {
	query := url.Values{"user_id": {a.userID}}
	if filter.Since != nil {
		query.Set("from", filter.Since.Format(dateLayout))
	}
	if filter.Until != nil {
		query.Set("to", filter.Until.Format(dateLayout))
	}
	switch filter.ObjectType {
	case entity.ObjectTypeIssue:
		query.Set("issue_id", filter.ObjectID)
	case entity.ObjectTypeProject:
		query.Set("project_id", filter.ObjectID)
	}

	var entries []service.TimeEntry
	for offset := 0; ; offset += pageSize {
		query.Set("limit", strconv.Itoa(pageSize))
		query.Set("offset", strconv.Itoa(offset))

		var page timeEntryList
		if err := a.client.Get(ctx, "/time_entries.json", query, &page); err != nil {
			return nil, err
		}
		for _, te := range page.TimeEntries {
			entries = append(entries, te.toEntry(a.name))
		}
		if offset+pageSize >= page.TotalCount {
			return entries, nil
		}
	}
}

func (a *Adapter) GetTimeEntry(ctx context.Context, id string, since *time.Time) (*service.TimeEntry, error) {
	var resp timeEntryEnvelope
	err := a.client.Get(ctx, "/time_entries/"+id+".json", nil, &resp)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	entry := resp.TimeEntry.toEntry(a.name)
	return &entry, nil
}

// CreateTimeEntry returns nil when the request names neither an issue nor a project.
func (a *Adapter) CreateTimeEntry(ctx context.Context, req service.TimeEntryRequest) (*service.TimeEntry, error) {
	payload, ok := a.payloadFor(req, nil)
	if !ok {
		a.logger.Debug("Time entry has no issue or project in redmine, not created")
		return nil, nil
	}

	var resp timeEntryEnvelope
	if err := a.client.Post(ctx, "/time_entries.json", timeEntryRequest{TimeEntry: payload}, &resp); err != nil {
		return nil, err
	}
	entry := resp.TimeEntry.toEntry(a.name)
	return &entry, nil
}

func (a *Adapter) UpdateTimeEntry(ctx context.Context, req service.TimeEntryRequest, original service.TimeEntry) (*service.TimeEntry, error) {
	payload, ok := a.payloadFor(req, &original)
	if !ok {
		return nil, fmt.Errorf("time entry %s has no issue or project", original.ID)
	}

	if err := a.client.Put(ctx, "/time_entries/"+original.ID+".json", timeEntryRequest{TimeEntry: payload}, nil); err != nil {
		return nil, err
	}

	updated, err := a.GetTimeEntry(ctx, original.ID, nil)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, fmt.Errorf("time entry %s disappeared after update", original.ID)
	}
	return updated, nil
}

func (a *Adapter) DeleteTimeEntry(ctx context.Context, id string) error {
	return a.client.Delete(ctx, "/time_entries/"+id+".json")
}

// ExtractAssociations maps the entry's own references. Redmine ids are primary ids.
func (a *Adapter) ExtractAssociations(entry service.TimeEntry, mappings []*entity.Mapping) []service.Association {
	associations := make([]service.Association, 0, len(entry.ObjectRefs))
	for _, ref := range entry.ObjectRefs {
		associations = append(associations, service.Association{
			PrimaryObjectID:   ref.ID,
			PrimaryObjectType: ref.Type,
		})
	}
	return associations
}

// payloadFor resolves associations into redmine ids. Without associations the
// original's references are kept.
func (a *Adapter) payloadFor(req service.TimeEntryRequest, original *service.TimeEntry) (*timeEntryPayload, bool) {
	payload := &timeEntryPayload{
		SpentOn:  req.Start.Format(dateLayout),
		Hours:    float64(req.DurationMs) / float64(time.Hour/time.Millisecond),
		Comments: truncateComment(req.Text),
	}

	refs := make(map[entity.ObjectType]string)
	if req.Associations == nil && original != nil {
		for _, ref := range original.ObjectRefs {
			refs[ref.Type] = ref.ID
		}
	}
	index := entity.IndexMappings(req.Mappings)
	for _, assoc := range req.Associations {
		id := assoc.PrimaryObjectID
		if m := index[assoc.Key()]; m != nil {
			if obj := m.ObjectFor(a.name); obj != nil {
				id = obj.ID
			}
		}
		if _, taken := refs[assoc.PrimaryObjectType]; !taken {
			refs[assoc.PrimaryObjectType] = id
		}
	}

	payload.IssueID = refs[entity.ObjectTypeIssue]
	if payload.IssueID == "" {
		payload.ProjectID = refs[entity.ObjectTypeProject]
	}
	payload.ActivityID = refs[entity.ObjectTypeActivity]
	if payload.ActivityID == "" {
		payload.ActivityID = a.defaultActivityID
	}

	return payload, payload.IssueID != "" || payload.ProjectID != ""
}

// truncateComment keeps the first 1024 characters.
func truncateComment(text string) string {
	const maxComment = 1024
	if utf8.RuneCountInString(text) <= maxComment {
		return text
	}
	return string([]rune(text)[:maxComment])
}
