package redmine

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/wekeepgrowing/timesync/internal/domain/entity"
	"github.com/wekeepgrowing/timesync/internal/domain/service"
)

type idName struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
}

type project struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	UpdatedOn time.Time `json:"updated_on"`
}

type projectList struct {
	Projects   []project `json:"projects"`
	TotalCount int       `json:"total_count"`
}

type issue struct {
	ID        int       `json:"id"`
	Subject   string    `json:"subject"`
	UpdatedOn time.Time `json:"updated_on"`
}

type issueList struct {
	Issues     []issue `json:"issues"`
	TotalCount int     `json:"total_count"`
}

type activityList struct {
	Activities []struct {
		ID     int    `json:"id"`
		Name   string `json:"name"`
		Active bool   `json:"active"`
	} `json:"time_entry_activities"`
}

type timeEntry struct {
	ID        int       `json:"id"`
	Project   *idName   `json:"project,omitempty"`
	Issue     *idName   `json:"issue,omitempty"`
	Activity  *idName   `json:"activity,omitempty"`
	Hours     float64   `json:"hours"`
	Comments  string    `json:"comments"`
	SpentOn   string    `json:"spent_on"`
	CreatedOn time.Time `json:"created_on"`
	UpdatedOn time.Time `json:"updated_on"`
}

type timeEntryList struct {
	TimeEntries []timeEntry `json:"time_entries"`
	TotalCount  int         `json:"total_count"`
}

type timeEntryPayload struct {
	IssueID    string  `json:"issue_id,omitempty"`
	ProjectID  string  `json:"project_id,omitempty"`
	ActivityID string  `json:"activity_id,omitempty"`
	SpentOn    string  `json:"spent_on"`
	Hours      float64 `json:"hours"`
	Comments   string  `json:"comments"`
}

type timeEntryEnvelope struct {
	TimeEntry timeEntry `json:"time_entry"`
}

type timeEntryRequest struct {
	TimeEntry *timeEntryPayload `json:"time_entry"`
}

// toEntry converts the entry. Redmine only stores a day and hours, so the
// copy starts at midnight UTC of the spent day.
func (te timeEntry) toEntry(serviceName string) service.TimeEntry {
	start, err := time.Parse(dateLayout, te.SpentOn)
	if err != nil {
		start = te.CreatedOn
	}
	duration := time.Duration(te.Hours * float64(time.Hour))

	var refs []service.ObjectRef
	if te.Project != nil {
		refs = append(refs, service.ObjectRef{ID: strconv.Itoa(te.Project.ID), Type: entity.ObjectTypeProject})
	}
	if te.Issue != nil {
		refs = append(refs, service.ObjectRef{ID: strconv.Itoa(te.Issue.ID), Type: entity.ObjectTypeIssue})
	}
	if te.Activity != nil {
		refs = append(refs, service.ObjectRef{ID: strconv.Itoa(te.Activity.ID), Type: entity.ObjectTypeActivity})
	}

	return service.TimeEntry{
		ID:          strconv.Itoa(te.ID),
		Service:     serviceName,
		Text:        te.Comments,
		Start:       start,
		End:         start.Add(duration),
		DurationMs:  duration.Milliseconds(),
		LastUpdated: te.UpdatedOn,
		ObjectRefs:  refs,
	}
}

func (a *Adapter) listProjects(ctx context.Context, since *time.Time) ([]service.Object, error) {
	var objects []service.Object
	query := url.Values{"limit": {strconv.Itoa(pageSize)}}
	for offset := 0; ; offset += pageSize {
		query.Set("offset", strconv.Itoa(offset))

		var page projectList
		if err := a.client.Get(ctx, "/projects.json", query, &page); err != nil {
			return nil, err
		}
		for _, p := range page.Projects {
			if since != nil && p.UpdatedOn.Before(*since) {
				continue
			}
			objects = append(objects, service.Object{
				ID:          strconv.Itoa(p.ID),
				Name:        p.Name,
				Type:        entity.ObjectTypeProject,
				LastUpdated: p.UpdatedOn,
			})
		}
		if offset+pageSize >= page.TotalCount {
			return objects, nil
		}
	}
}

func (a *Adapter) listIssues(ctx context.Context, query url.Values) ([]service.Object, error) {
	var objects []service.Object
	query.Set("limit", strconv.Itoa(pageSize))
	for offset := 0; ; offset += pageSize {
		query.Set("offset", strconv.Itoa(offset))

		var page issueList
		if err := a.client.Get(ctx, "/issues.json", query, &page); err != nil {
			return nil, err
		}
		for _, i := range page.Issues {
			objects = append(objects, service.Object{
				ID:          strconv.Itoa(i.ID),
				Name:        i.Subject,
				Type:        entity.ObjectTypeIssue,
				LastUpdated: i.UpdatedOn,
			})
		}
		if offset+pageSize >= page.TotalCount {
			return objects, nil
		}
	}
}

// listActivities has no update filter in redmine; every active activity is returned.
func (a *Adapter) listActivities(ctx context.Context) ([]service.Object, error) {
	var list activityList
	if err := a.client.Get(ctx, "/enumerations/time_entry_activities.json", nil, &list); err != nil {
		return nil, err
	}

	objects := make([]service.Object, 0, len(list.Activities))
	for _, act := range list.Activities {
		if !act.Active {
			continue
		}
		objects = append(objects, service.Object{
			ID:   strconv.Itoa(act.ID),
			Name: act.Name,
			Type: entity.ObjectTypeActivity,
		})
	}
	return objects, nil
}
