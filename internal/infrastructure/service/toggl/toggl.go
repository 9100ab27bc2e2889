// Package toggl adapts the Toggl Track v9 API. Projects map to toggl
// projects; issues, activities and tags map to toggl tags.
package toggl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wekeepgrowing/timesync/internal/domain/entity"
	"github.com/wekeepgrowing/timesync/internal/domain/service"
	"github.com/wekeepgrowing/timesync/internal/infrastructure/service/client"
	"go.uber.org/zap"
)

const (
	defaultAPIURL = "https://api.track.toggl.com/api/v9"
	createdWith   = "timesync"

	projectPageSize = 200
)

// issueReference matches "#123" style issue ids in descriptions.
var issueReference = regexp.MustCompile(`#(\d+)\b`)

type Adapter struct {
	name        string
	client      *client.Client
	workspaceID int64
	logger      *zap.Logger
	now         func() time.Time
}

func New(def entity.ServiceDefinition, clientCfg client.Config, logger *zap.Logger) (*Adapter, error) {
	workspaceID, err := strconv.ParseInt(def.Config.WorkspaceID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("toggl service %q needs a numeric workspace_id: %w", def.Name, err)
	}

	baseURL := def.Config.APIURL
	if baseURL == "" {
		baseURL = defaultAPIURL
	}
	apiToken := def.APIKey

	clientCfg.Service = def.Name
	clientCfg.BaseURL = baseURL
	clientCfg.Authorize = func(req *http.Request) {
		req.SetBasicAuth(apiToken, "api_token")
	}
	clientCfg.Logger = logger

	return &Adapter{
		name:        def.Name,
		client:      client.New(clientCfg),
		workspaceID: workspaceID,
		logger:      logger.With(zap.String("service", def.Name)),
		now:         time.Now,
	}, nil
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Capabilities() service.Capabilities {
	return service.Capabilities{
		SupportsInferredAssociationAsSource: true,
		SupportsArchiveAnnotation:           true,
	}
}

// FullName renders "<name> (<type>)" so tags of different kinds never collide.
func (a *Adapter) FullName(primary service.Object) string {
	return fmt.Sprintf("%s (%s)", primary.Name, primary.Type)
}

func (a *Adapter) ListObjects(ctx context.Context, since *time.Time) ([]service.Object, error) {
	var projects []project
	for page := 1; ; page++ {
		var batch []project
		query := url.Values{
			"active":   {"both"},
			"per_page": {strconv.Itoa(projectPageSize)},
			"page":     {strconv.Itoa(page)},
		}
		if err := a.client.Get(ctx, a.workspacePath("projects"), query, &batch); err != nil {
			return nil, err
		}
		projects = append(projects, batch...)
		if len(batch) < projectPageSize {
			break
		}
	}
	var tags []tag
	if err := a.client.Get(ctx, a.workspacePath("tags"), nil, &tags); err != nil {
		return nil, err
	}

	objects := make([]service.Object, 0, len(projects)+len(tags))
	for _, p := range projects {
		if since == nil || !p.At.Before(*since) {
			objects = append(objects, p.toObject())
		}
	}
	for _, t := range tags {
		if since == nil || !t.At.Before(*since) {
			objects = append(objects, t.toObject())
		}
	}
	return objects, nil
}

func (a *Adapter) CreateObject(ctx context.Context, primary service.Object) (*service.Object, error) {
	name := a.FullName(primary)
	if primary.Type == entity.ObjectTypeProject {
		var created project
		if err := a.client.Post(ctx, a.workspacePath("projects"), projectPayload{Name: name, Active: true}, &created); err != nil {
			return nil, err
		}
		obj := created.toObject()
		return &obj, nil
	}

	var created tag
	if err := a.client.Post(ctx, a.workspacePath("tags"), tagPayload{Name: name, WorkspaceID: a.workspaceID}, &created); err != nil {
		return nil, err
	}
	obj := created.toObject()
	return &obj, nil
}

func (a *Adapter) UpdateObject(ctx context.Context, id string, primary service.Object) (*service.Object, error) {
	name := a.FullName(primary)
	if primary.Type == entity.ObjectTypeProject {
		var updated project
		if err := a.client.Put(ctx, a.workspacePath("projects", id), projectPayload{Name: name, Active: true}, &updated); err != nil {
			return nil, err
		}
		obj := updated.toObject()
		return &obj, nil
	}

	var updated tag
	if err := a.client.Put(ctx, a.workspacePath("tags", id), tagPayload{Name: name, WorkspaceID: a.workspaceID}, &updated); err != nil {
		return nil, err
	}
	obj := updated.toObject()
	return &obj, nil
}

func (a *Adapter) DeleteObject(ctx context.Context, id string, objectType entity.ObjectType) error {
	if objectType == entity.ObjectTypeProject {
		return a.client.Delete(ctx, a.workspacePath("projects", id))
	}
	return a.client.Delete(ctx, a.workspacePath("tags", id))
}

func (a *Adapter) ListTimeEntries(ctx context.Context, filter service.TimeEntryFilter) ([]service.TimeEntry, error) {
	since := a.now().AddDate(0, 0, -90)
	if filter.Since != nil {
		since = *filter.Since
	}
	until := a.now().Add(24 * time.Hour)
	if filter.Until != nil {
		until = *filter.Until
	}

	var raw []timeEntry
	query := url.Values{
		"start_date": {since.UTC().Format(time.RFC3339)},
		"end_date":   {until.UTC().Format(time.RFC3339)},
	}
	if err := a.client.Get(ctx, "/me/time_entries", query, &raw); err != nil {
		return nil, err
	}

	entries := make([]service.TimeEntry, 0, len(raw))
	for _, te := range raw {
		if te.Duration < 0 || te.WorkspaceID != a.workspaceID {
			// running timers and other workspaces are not synced
			continue
		}
		if filter.ObjectID != "" && !te.references(filter.ObjectID, filter.ObjectType) {
			continue
		}
		entries = append(entries, te.toEntry(a.name))
	}
	return entries, nil
}

// GetTimeEntry searches the window starting at since when given and falls
// back to fetching the entry directly.
func (a *Adapter) GetTimeEntry(ctx context.Context, id string, since *time.Time) (*service.TimeEntry, error) {
	if since != nil {
		entries, err := a.ListTimeEntries(ctx, service.TimeEntryFilter{Since: since})
		if err != nil {
			return nil, err
		}
		for i := range entries {
			if entries[i].ID == id {
				return &entries[i], nil
			}
		}
		// the listing only reaches back to since, older entries need a direct read
	}

	var te timeEntry
	if err := a.client.Get(ctx, "/me/time_entries/"+id, nil, &te); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	entry := te.toEntry(a.name)
	return &entry, nil
}

func (a *Adapter) CreateTimeEntry(ctx context.Context, req service.TimeEntryRequest) (*service.TimeEntry, error) {
	payload := a.payloadFor(req, nil)

	var created timeEntry
	if err := a.client.Post(ctx, a.workspacePath("time_entries"), payload, &created); err != nil {
		return nil, err
	}
	entry := created.toEntry(a.name)
	return &entry, nil
}

func (a *Adapter) UpdateTimeEntry(ctx context.Context, req service.TimeEntryRequest, original service.TimeEntry) (*service.TimeEntry, error) {
	payload := a.payloadFor(req, &original)

	var updated timeEntry
	if err := a.client.Put(ctx, a.workspacePath("time_entries", original.ID), payload, &updated); err != nil {
		return nil, err
	}
	entry := updated.toEntry(a.name)
	return &entry, nil
}

func (a *Adapter) DeleteTimeEntry(ctx context.Context, id string) error {
	return a.client.Delete(ctx, a.workspacePath("time_entries", id))
}

// ExtractAssociations resolves the project and tags through the mappings and
// infers issues from "#123" references in the description.
func (a *Adapter) ExtractAssociations(entry service.TimeEntry, mappings []*entity.Mapping) []service.Association {
	seen := make(map[entity.MappingKey]struct{})
	var associations []service.Association
	add := func(assoc service.Association) {
		if _, ok := seen[assoc.Key()]; ok {
			return
		}
		seen[assoc.Key()] = struct{}{}
		associations = append(associations, assoc)
	}

	for _, ref := range entry.ObjectRefs {
		if m := a.findMapping(mappings, ref); m != nil {
			add(service.Association{PrimaryObjectID: m.PrimaryObjectID, PrimaryObjectType: m.PrimaryObjectType})
		}
	}

	index := entity.IndexMappings(mappings)
	for _, match := range issueReference.FindAllStringSubmatch(entry.Text, -1) {
		key := entity.MappingKey{ID: match[1], Type: entity.ObjectTypeIssue}
		_, mapped := index[key]
		add(service.Association{PrimaryObjectID: key.ID, PrimaryObjectType: key.Type, Inferred: !mapped})
	}
	return associations
}

// findMapping resolves a project or tag reference. Project and tag ids are
// separate sequences, so a tag never matches a project mapping.
func (a *Adapter) findMapping(mappings []*entity.Mapping, ref service.ObjectRef) *entity.Mapping {
	if ref.Type == entity.ObjectTypeProject {
		return entity.FindByServiceObject(mappings, a.name, ref.ID, entity.ObjectTypeProject)
	}
	for _, m := range mappings {
		obj := m.ObjectFor(a.name)
		if obj != nil && obj.ID == ref.ID && obj.Type != entity.ObjectTypeProject {
			return m
		}
	}
	return nil
}

func (a *Adapter) payloadFor(req service.TimeEntryRequest, original *service.TimeEntry) timeEntryPayload {
	durationSec := req.DurationMs / 1000
	payload := timeEntryPayload{
		CreatedWith: createdWith,
		Description: req.Text,
		Start:       req.Start.UTC(),
		Stop:        req.Start.Add(time.Duration(durationSec) * time.Second).UTC(),
		Duration:    durationSec,
		WorkspaceID: a.workspaceID,
		TagIDs:      []int64{},
	}

	if req.Associations == nil && original != nil {
		for _, ref := range original.ObjectRefs {
			id, err := strconv.ParseInt(ref.ID, 10, 64)
			if err != nil {
				continue
			}
			if ref.Type == entity.ObjectTypeProject {
				payload.ProjectID = &id
			} else {
				payload.TagIDs = append(payload.TagIDs, id)
			}
		}
		return payload
	}

	index := entity.IndexMappings(req.Mappings)
	for _, assoc := range req.Associations {
		m := index[assoc.Key()]
		if m == nil {
			continue
		}
		obj := m.ObjectFor(a.name)
		if obj == nil {
			continue
		}
		id, err := strconv.ParseInt(obj.ID, 10, 64)
		if err != nil {
			a.logger.Warn("Ignoring non numeric toggl id", zap.String("id", obj.ID))
			continue
		}
		if obj.Type == entity.ObjectTypeProject {
			if payload.ProjectID == nil {
				payload.ProjectID = &id
			}
			continue
		}
		payload.TagIDs = append(payload.TagIDs, id)
	}
	return payload
}

func (a *Adapter) workspacePath(parts ...string) string {
	return fmt.Sprintf("/workspaces/%d/%s", a.workspaceID, strings.Join(parts, "/"))
}
