package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wekeepgrowing/timesync/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/timesync/internal/domain/errors"
	"github.com/wekeepgrowing/timesync/internal/domain/service"
	"go.uber.org/zap"
)

// entryKey identifies a live time entry within one run.
type entryKey struct {
	service string
	id      string
}

// timeEntrySync makes every synced time entry exist, with the same content,
// in each service its associations qualify it for.
type timeEntrySync struct {
	deps     Dependencies
	user     *entity.User
	followUp FollowUpRequester
	logger   *zap.Logger

	session         *session
	mappings        map[entity.MappingKey]*entity.Mapping
	entries         map[entryKey]*service.TimeEntry
	history         map[string]bool
	windowStart     time.Time
	historyStart    time.Time
	needsConfigSync bool
}

func (t *timeEntrySync) Run(ctx context.Context, rec *Recorder) bool {
	if t.user.ConfigSyncJob.LastSuccessfullyDone == nil {
		rec.Internal(domainErrors.ErrConfigNotSynced)
		return false
	}
	startedAt := t.deps.now()

	s, err := openSession(t.user, t.deps.Services)
	if err != nil {
		rec.Internal(err)
		return false
	}
	t.session = s
	t.mappings = entity.IndexMappings(t.user.Mappings)
	t.windowStart = t.user.SyncWindowStart(startedAt, t.deps.Settings.DefaultDaysToSync)
	t.historyStart = t.windowStart.AddDate(0, 0, -t.deps.Settings.HistoryLookbackDays)
	t.entries = make(map[entryKey]*service.TimeEntry)
	t.history = make(map[string]bool)

	var order []entryKey
	for _, adapter := range s.all() {
		list, err := adapter.ListTimeEntries(ctx, service.TimeEntryFilter{Since: &t.windowStart})
		if err != nil {
			rec.Fetch(adapter.Name(), &domainErrors.FetchError{Service: adapter.Name(), Err: err})
			return false
		}
		for i := range list {
			entry := &list[i]
			entry.Service = adapter.Name()
			key := entryKey{service: adapter.Name(), id: entry.ID}
			if _, dup := t.entries[key]; !dup {
				order = append(order, key)
			}
			t.entries[key] = entry
		}
	}

	tesos, err := t.deps.TimeEntries.FindByUser(ctx, t.user.ID, t.historyStart)
	if err != nil {
		rec.Internal(fmt.Errorf("load synced time entries: %w", err))
		return false
	}
	claimed := make(map[entryKey]struct{})
	for _, teso := range tesos {
		for _, steo := range teso.ServiceTimeEntryObjects {
			claimed[entryKey{service: steo.Service, id: steo.ID}] = struct{}{}
		}
	}

	t.logger.Info("Reconciling time entries",
		zap.Time("window_start", t.windowStart),
		zap.Int("entries", len(order)),
		zap.Int("synced", len(tesos)))

	ok := true
	for _, teso := range tesos {
		if teso.Archived || teso.Date.Before(t.historyStart) {
			continue
		}
		if !t.reconcile(ctx, rec, teso) {
			ok = false
		}
	}
	for _, key := range order {
		if _, done := claimed[key]; done {
			continue
		}
		if !t.syncNew(ctx, rec, t.entries[key]) {
			ok = false
		}
	}

	if t.needsConfigSync {
		t.requestConfigSync(ctx)
	}
	if !ok {
		return false
	}
	return advanceWatermark(ctx, t.deps, t.user, entity.JobTypeTimeEntrySync, startedAt, rec)
}

// reconcile repairs one TESO. Only the TESO's own STEO list is mutated.
func (t *timeEntrySync) reconcile(ctx context.Context, rec *Recorder, teso *entity.TimeEntrySyncedObject) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			rec.Operation("", fmt.Errorf("reconcile time entry %s: panic: %v", teso.ID, r))
			ok = false
		}
	}()

	if err := teso.Validate(); err != nil {
		rec.Consistency(domainErrors.NewConsistencyError("%v", err))
		return false
	}
	origin := *teso.Origin()
	if t.session.adapter(origin.Service) == nil {
		t.logger.Warn("Origin service of time entry is no longer configured",
			zap.String("teso_id", teso.ID.String()), zap.String("service", origin.Service))
		return true
	}

	live := make(map[string]*service.TimeEntry, len(teso.ServiceTimeEntryObjects))
	for _, steo := range teso.ServiceTimeEntryObjects {
		adapter := t.session.adapter(steo.Service)
		if adapter == nil {
			continue
		}
		entry, err := t.resolve(ctx, adapter, steo.ID)
		if err != nil {
			rec.Fetch(steo.Service, &domainErrors.FetchError{Service: steo.Service, Err: err})
			return false
		}
		if entry != nil {
			live[steo.Service] = entry
		}
	}

	originEntry := live[origin.Service]
	if originEntry == nil {
		return t.retire(ctx, rec, teso, live)
	}
	if originEntry.Start.Before(t.windowStart) {
		return true
	}

	// The newest live copy is authoritative, ties keep the origin.
	authority := originEntry
	for _, steo := range teso.ServiceTimeEntryObjects {
		if entry := live[steo.Service]; entry != nil && entry.LastUpdated.After(authority.LastUpdated) {
			authority = entry
		}
	}
	source := t.session.adapter(authority.Service)
	associations := source.ExtractAssociations(*authority, t.user.Mappings)
	t.noteInferred(associations)

	ok = true
	changed := false
	if authority.LastUpdated.After(teso.LastUpdated) {
		t.logger.Info("Time entry drifted, rebuilding copies",
			zap.String("teso_id", teso.ID.String()),
			zap.String("authority", authority.Service))
		if authority.Service != origin.Service {
			teso.SetOrigin(authority.Service)
			changed = true
		}
		for _, steo := range append([]entity.ServiceTimeEntryObject(nil), teso.ServiceTimeEntryObjects...) {
			adapter := t.session.adapter(steo.Service)
			if steo.Service == authority.Service || adapter == nil {
				continue
			}
			if live[steo.Service] != nil {
				if !t.deleteCopy(ctx, rec, adapter, steo.ID) {
					ok = false
					continue
				}
				delete(live, steo.Service)
			}
			if !t.replaceCopy(ctx, rec, teso, adapter, authority, associations, live) {
				ok = false
			}
			changed = true
		}
	} else {
		for _, steo := range append([]entity.ServiceTimeEntryObject(nil), teso.ServiceTimeEntryObjects...) {
			adapter := t.session.adapter(steo.Service)
			if adapter == nil || live[steo.Service] != nil {
				continue
			}
			t.logger.Info("Copy of time entry vanished, re-creating",
				zap.String("teso_id", teso.ID.String()), zap.String("service", steo.Service))
			if !t.replaceCopy(ctx, rec, teso, adapter, authority, associations, live) {
				ok = false
			}
			changed = true
		}
	}

	for _, adapter := range t.session.all() {
		if teso.ObjectFor(adapter.Name()) != nil || !t.qualifies(adapter, associations) {
			continue
		}
		created, good := t.copyTo(ctx, rec, adapter, authority, associations)
		if !good {
			ok = false
			continue
		}
		if created == nil {
			continue
		}
		teso.SetObject(entity.ServiceTimeEntryObject{Service: adapter.Name(), ID: created.ID})
		live[adapter.Name()] = created
		changed = true
	}

	if ok {
		for _, entry := range live {
			if entry.LastUpdated.After(teso.LastUpdated) {
				teso.LastUpdated = entry.LastUpdated
				changed = true
			}
		}
	}
	if !changed {
		return ok
	}
	if err := t.deps.TimeEntries.Replace(ctx, teso); err != nil {
		rec.Internal(fmt.Errorf("store synced time entry %s: %w", teso.ID, err))
		return false
	}
	return ok
}

// retire handles a deleted origin: every other copy goes, then the TESO.
// Copies that could not be deleted stay attached so the next run retries.
func (t *timeEntrySync) retire(ctx context.Context, rec *Recorder, teso *entity.TimeEntrySyncedObject, live map[string]*service.TimeEntry) bool {
	t.logger.Info("Origin of time entry was deleted, removing copies",
		zap.String("teso_id", teso.ID.String()))

	ok := true
	for _, steo := range append([]entity.ServiceTimeEntryObject(nil), teso.ServiceTimeEntryObjects...) {
		if steo.IsOrigin {
			continue
		}
		adapter := t.session.adapter(steo.Service)
		if adapter == nil {
			continue
		}
		if live[steo.Service] != nil && !t.deleteCopy(ctx, rec, adapter, steo.ID) {
			ok = false
			continue
		}
		teso.RemoveObject(steo.Service)
	}

	if ok {
		if err := t.deps.TimeEntries.Delete(ctx, teso.ID); err != nil {
			rec.Internal(fmt.Errorf("delete synced time entry %s: %w", teso.ID, err))
			return false
		}
		return true
	}
	if err := t.deps.TimeEntries.Replace(ctx, teso); err != nil {
		rec.Internal(fmt.Errorf("store synced time entry %s: %w", teso.ID, err))
	}
	return false
}

// syncNew copies an entry nobody has claimed yet into every qualifying service.
func (t *timeEntrySync) syncNew(ctx context.Context, rec *Recorder, entry *service.TimeEntry) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			rec.Operation(entry.Service, fmt.Errorf("sync time entry %s: panic: %v", entry.ID, r))
			ok = false
		}
	}()

	existing, err := t.deps.TimeEntries.FindByServiceEntry(ctx, t.user.ID, entry.Service, entry.ID)
	if err != nil {
		rec.Internal(fmt.Errorf("look up time entry %s/%s: %w", entry.Service, entry.ID, err))
		return false
	}
	if existing != nil {
		return true
	}

	origin := t.session.adapter(entry.Service)
	associations := origin.ExtractAssociations(*entry, t.user.Mappings)
	if len(associations) == 0 && !origin.Capabilities().SupportsInferredAssociationAsSource {
		return true
	}

	var targets []service.Adapter
	for _, adapter := range t.session.all() {
		if adapter.Name() != entry.Service && t.qualifies(adapter, associations) {
			targets = append(targets, adapter)
		}
	}
	if len(targets) == 0 {
		return true
	}
	t.noteInferred(associations)

	teso := entity.NewTimeEntrySyncedObject(t.user.ID,
		entity.ServiceTimeEntryObject{Service: entry.Service, ID: entry.ID},
		entry.Start, entry.LastUpdated)

	ok = true
	for _, adapter := range targets {
		created, good := t.copyTo(ctx, rec, adapter, entry, associations)
		if !good {
			ok = false
			continue
		}
		if created == nil {
			continue
		}
		teso.SetObject(entity.ServiceTimeEntryObject{Service: adapter.Name(), ID: created.ID})
		if created.LastUpdated.After(teso.LastUpdated) {
			teso.LastUpdated = created.LastUpdated
		}
	}

	if len(teso.ServiceTimeEntryObjects) < 2 {
		if ok {
			rec.Consistency(domainErrors.NewConsistencyError(
				"time entry %s/%s could not be copied to any service", entry.Service, entry.ID))
		}
		return false
	}
	if err := t.deps.TimeEntries.Create(ctx, teso); err != nil {
		rec.Internal(fmt.Errorf("store synced time entry for %s/%s: %w", entry.Service, entry.ID, err))
		return false
	}
	t.logger.Debug("Time entry synced",
		zap.String("teso_id", teso.ID.String()),
		zap.String("service", entry.Service),
		zap.String("entry_id", entry.ID),
		zap.Int("copies", len(teso.ServiceTimeEntryObjects)-1))
	return ok
}

// resolve returns the live entry. A miss in the window listing loads the
// history listing of the adapter once, then falls back to a direct lookup.
func (t *timeEntrySync) resolve(ctx context.Context, adapter service.Adapter, id string) (*service.TimeEntry, error) {
	key := entryKey{service: adapter.Name(), id: id}
	if entry, found := t.entries[key]; found {
		return entry, nil
	}
	if !t.history[adapter.Name()] {
		if err := t.loadHistory(ctx, adapter); err != nil {
			return nil, err
		}
		if entry, found := t.entries[key]; found {
			return entry, nil
		}
	}

	entry, err := adapter.GetTimeEntry(ctx, id, nil)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if entry != nil {
		entry.Service = adapter.Name()
		t.entries[key] = entry
	}
	return entry, nil
}

// loadHistory indexes the entries between the history start and the window
// start. They are never synced as new entries.
func (t *timeEntrySync) loadHistory(ctx context.Context, adapter service.Adapter) error {
	list, err := adapter.ListTimeEntries(ctx, service.TimeEntryFilter{Since: &t.historyStart, Until: &t.windowStart})
	if err != nil {
		return err
	}
	for i := range list {
		entry := &list[i]
		entry.Service = adapter.Name()
		key := entryKey{service: adapter.Name(), id: entry.ID}
		if _, found := t.entries[key]; !found {
			t.entries[key] = entry
		}
	}
	t.history[adapter.Name()] = true
	return nil
}

// qualifies reports whether the target should hold a copy of an entry with
// the given associations.
func (t *timeEntrySync) qualifies(target service.Adapter, associations []service.Association) bool {
	inferredTarget := target.Capabilities().SupportsInferredAssociationAsTarget
	for _, association := range associations {
		if m := t.mappings[association.Key()]; m != nil && m.ObjectFor(target.Name()) != nil {
			return true
		}
		if association.Inferred && inferredTarget {
			return true
		}
	}
	return false
}

// replaceCopy creates a new copy for an attached service and points its STEO at it.
func (t *timeEntrySync) replaceCopy(ctx context.Context, rec *Recorder, teso *entity.TimeEntrySyncedObject, adapter service.Adapter, src *service.TimeEntry, associations []service.Association, live map[string]*service.TimeEntry) bool {
	created, ok := t.copyTo(ctx, rec, adapter, src, associations)
	if !ok {
		return false
	}
	if created == nil {
		teso.RemoveObject(adapter.Name())
		return true
	}
	teso.SetObject(entity.ServiceTimeEntryObject{Service: adapter.Name(), ID: created.ID})
	live[adapter.Name()] = created
	return true
}

// copyTo writes src into the adapter's service. A nil entry without failure
// means the service cannot hold it.
func (t *timeEntrySync) copyTo(ctx context.Context, rec *Recorder, adapter service.Adapter, src *service.TimeEntry, associations []service.Association) (*service.TimeEntry, bool) {
	created, err := adapter.CreateTimeEntry(ctx, service.RequestFrom(src, associations, t.user.Mappings))
	if err != nil {
		rec.Operation(adapter.Name(), fmt.Errorf("copy time entry %s/%s: %w", src.Service, src.ID, err))
		return nil, false
	}
	if created != nil {
		created.Service = adapter.Name()
	}
	return created, true
}

func (t *timeEntrySync) deleteCopy(ctx context.Context, rec *Recorder, adapter service.Adapter, id string) bool {
	err := adapter.DeleteTimeEntry(ctx, id)
	if err != nil && !errors.Is(err, service.ErrNotFound) {
		rec.Operation(adapter.Name(), fmt.Errorf("delete time entry %s: %w", id, err))
		return false
	}
	return true
}

func (t *timeEntrySync) noteInferred(associations []service.Association) {
	for _, association := range associations {
		if association.Inferred {
			t.needsConfigSync = true
			return
		}
	}
}

func (t *timeEntrySync) requestConfigSync(ctx context.Context) {
	if t.followUp == nil {
		return
	}
	if err := t.followUp.EnqueueNow(ctx, t.user.ID, entity.JobTypeConfigSync, entity.JobOriginInternal); err != nil {
		t.logger.Warn("Failed to request config sync", zap.Error(err))
		return
	}
	t.logger.Info("Requested config sync for inferred associations")
}
