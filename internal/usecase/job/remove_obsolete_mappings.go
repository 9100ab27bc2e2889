package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wekeepgrowing/timesync/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/timesync/internal/domain/errors"
	"github.com/wekeepgrowing/timesync/internal/domain/service"
	"go.uber.org/zap"
)

var errAnnotationUnsupported = errors.New("archive annotation is not supported")

// removeObsoleteMappings retires Mappings whose primary object was closed or
// deleted, archiving the time entries booked on them.
type removeObsoleteMappings struct {
	deps   Dependencies
	user   *entity.User
	logger *zap.Logger

	session  *session
	primary  service.PrimaryAdapter
	degraded bool
}

func (r *removeObsoleteMappings) Run(ctx context.Context, rec *Recorder) bool {
	startedAt := r.deps.now()

	s, err := openSession(r.user, r.deps.Services)
	if err != nil {
		rec.Internal(err)
		return false
	}
	primary, isPrimary := s.primary.(service.PrimaryAdapter)
	if !isPrimary {
		rec.Internal(fmt.Errorf("service %s does not support obsolete object lookups", s.primary.Name()))
		return false
	}
	r.session = s
	r.primary = primary

	from := startedAt.AddDate(0, 0, -r.deps.Settings.RemovalWindowDays)
	if last := r.user.RemoveObsoleteMappingsJob.LastSuccessfullyDone; last != nil && last.After(from) {
		from = *last
	}

	obsolete, err := r.collect(ctx, from, startedAt)
	if err != nil {
		rec.Fetch(primary.Name(), err)
		return false
	}
	r.logger.Info("Retiring obsolete mappings", zap.Int("count", len(obsolete)))

	ok := true
	retired := make(map[entity.MappingKey]struct{}, len(obsolete))
	for _, m := range obsolete {
		if r.retire(ctx, rec, m) {
			retired[m.Key()] = struct{}{}
		} else {
			ok = false
		}
	}

	kept := make([]*entity.Mapping, 0, len(r.user.Mappings))
	for _, m := range r.user.Mappings {
		if _, gone := retired[m.Key()]; !gone {
			kept = append(kept, m)
		}
	}
	r.user.Mappings = kept

	if err := r.deps.Users.ReplaceMappings(ctx, r.user.ID, r.user.Mappings); err != nil {
		rec.Internal(fmt.Errorf("store mappings: %w", err))
		return false
	}
	if !ok || r.degraded {
		return false
	}
	return advanceWatermark(ctx, r.deps, r.user, entity.JobTypeRemoveObsoleteMappings, startedAt, rec)
}

// collect returns the deduplicated Mappings whose primary object was closed
// within [from, to] or no longer exists.
func (r *removeObsoleteMappings) collect(ctx context.Context, from, to time.Time) ([]*entity.Mapping, error) {
	index := entity.IndexMappings(r.user.Mappings)
	seen := make(map[entity.MappingKey]struct{})
	var obsolete []*entity.Mapping
	mark := func(key entity.MappingKey) {
		m := index[key]
		if m == nil {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		obsolete = append(obsolete, m)
	}

	closed, err := r.primary.ListRemovableObjects(ctx, from, to)
	if err != nil {
		return nil, &domainErrors.FetchError{Service: r.primary.Name(), Err: err}
	}
	for _, obj := range closed {
		mark(obj.Key())
	}

	var issueIDs []string
	for _, m := range r.user.Mappings {
		if m.PrimaryObjectType == entity.ObjectTypeIssue {
			issueIDs = append(issueIDs, m.PrimaryObjectID)
		}
	}
	batchSize := r.deps.Settings.ObjectBatchSize
	if limit := r.primary.MaxBatchSize(); limit > 0 && (batchSize <= 0 || batchSize > limit) {
		batchSize = limit
	}
	if batchSize <= 0 {
		batchSize = len(issueIDs)
	}
	for start := 0; start < len(issueIDs); start += batchSize {
		end := start + batchSize
		if end > len(issueIDs) {
			end = len(issueIDs)
		}
		batch := issueIDs[start:end]
		found, err := r.primary.GetObjectsByIDs(ctx, entity.ObjectTypeIssue, batch)
		if err != nil {
			return nil, &domainErrors.FetchError{Service: r.primary.Name(), Err: err}
		}
		present := make(map[string]struct{}, len(found))
		for _, obj := range found {
			present[obj.ID] = struct{}{}
		}
		for _, id := range batch {
			if _, ok := present[id]; !ok {
				mark(entity.MappingKey{ID: id, Type: entity.ObjectTypeIssue})
			}
		}
	}
	return obsolete, nil
}

// retire archives the time entries of an issue Mapping and deletes the
// secondary objects. It reports whether the Mapping may be dropped.
func (r *removeObsoleteMappings) retire(ctx context.Context, rec *Recorder, m *entity.Mapping) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			rec.Operation("", fmt.Errorf("retire %s %s: panic: %v", m.PrimaryObjectType, m.PrimaryObjectID, p))
			ok = false
		}
	}()

	ok = true
	if m.PrimaryObjectType == entity.ObjectTypeIssue && !r.archive(ctx, rec, m) {
		ok = false
	}

	for _, sec := range r.session.secondaries {
		mo := m.ObjectFor(sec.Name())
		if mo == nil {
			continue
		}
		err := sec.DeleteObject(ctx, mo.ID, mo.Type)
		if err != nil && !errors.Is(err, service.ErrNotFound) {
			rec.Operation(sec.Name(), fmt.Errorf("delete %s %s: %w", mo.Type, mo.ID, err))
			ok = false
			continue
		}
		m.RemoveObject(sec.Name())
	}

	if ok {
		r.logger.Info("Mapping retired",
			zap.String("object_id", m.PrimaryObjectID),
			zap.String("object_type", string(m.PrimaryObjectType)))
	}
	return ok
}

// archive marks the TESOs of every entry booked on the issue archived and
// annotates their copies with the issue name.
func (r *removeObsoleteMappings) archive(ctx context.Context, rec *Recorder, m *entity.Mapping) bool {
	entries, err := r.primary.ListTimeEntries(ctx, service.TimeEntryFilter{
		ObjectID:   m.PrimaryObjectID,
		ObjectType: entity.ObjectTypeIssue,
	})
	if err != nil {
		rec.Fetch(r.primary.Name(), &domainErrors.FetchError{Service: r.primary.Name(), Err: err})
		return false
	}

	ok := true
	for _, entry := range entries {
		teso, err := r.deps.TimeEntries.FindByServiceEntry(ctx, r.user.ID, r.primary.Name(), entry.ID)
		if err != nil {
			rec.Internal(fmt.Errorf("look up time entry %s: %w", entry.ID, err))
			ok = false
			continue
		}
		if teso == nil || teso.Archived {
			continue
		}

		annotated := true
		for _, steo := range teso.ServiceTimeEntryObjects {
			if steo.Service == r.primary.Name() {
				continue
			}
			adapter := r.session.adapter(steo.Service)
			if adapter == nil {
				continue
			}
			if !adapter.Capabilities().SupportsArchiveAnnotation {
				rec.Operation(steo.Service, fmt.Errorf("time entry %s: %w", steo.ID, errAnnotationUnsupported))
				r.degraded = true
				continue
			}
			if !r.annotate(ctx, rec, adapter, steo.ID, m.Name) {
				annotated = false
			}
		}
		if !annotated {
			ok = false
			continue
		}

		if err := r.deps.TimeEntries.Archive(ctx, teso.ID); err != nil {
			rec.Internal(fmt.Errorf("archive synced time entry %s: %w", teso.ID, err))
			ok = false
		}
	}
	return ok
}

// annotate appends " [name]" to the copy's description once.
func (r *removeObsoleteMappings) annotate(ctx context.Context, rec *Recorder, adapter service.Adapter, id, name string) bool {
	entry, err := adapter.GetTimeEntry(ctx, id, nil)
	if err != nil {
		rec.Operation(adapter.Name(), fmt.Errorf("load time entry %s: %w", id, err))
		return false
	}
	if entry == nil {
		return true
	}

	suffix := " [" + name + "]"
	if strings.HasSuffix(entry.Text, suffix) {
		return true
	}
	req := service.RequestFrom(entry, nil, r.user.Mappings)
	req.Text = entry.Text + suffix
	if _, err := adapter.UpdateTimeEntry(ctx, req, *entry); err != nil {
		rec.Operation(adapter.Name(), fmt.Errorf("annotate time entry %s: %w", id, err))
		return false
	}
	return true
}
