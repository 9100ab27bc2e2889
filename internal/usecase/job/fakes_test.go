package job_test

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/wekeepgrowing/timesync/internal/domain/entity"
	"github.com/wekeepgrowing/timesync/internal/domain/service"
)

var issueRef = regexp.MustCompile(`#(\d+)`)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeService is an in-memory service. Its time entries reference objects by
// the service's own ids.
type fakeService struct {
	name       string
	caps       service.Capabilities
	clock      *fakeClock
	suffixed   bool // renders "name (type)"
	directRefs bool // refs are primary ids
	needsRefs  bool // refuses entries without object refs
	refuses    bool // never holds copies
	maxBatch   int

	mu        sync.Mutex
	seq       int
	objects   map[string]service.Object
	entries   map[string]service.TimeEntry
	removable []service.Object

	listErr         error
	listEntriesErr  error
	createObjectErr map[string]error
	deleteObjectErr map[string]error
	deleteEntryErr  map[string]error

	createdObjects int
	updatedObjects int
	deletedObjects int
	createdEntries int
	updatedEntries int
	deletedEntries int
	entryListings  int
	lookups        int
}

func newFakeService(name string, caps service.Capabilities, clock *fakeClock) *fakeService {
	return &fakeService{
		name:            name,
		caps:            caps,
		clock:           clock,
		maxBatch:        2,
		objects:         map[string]service.Object{},
		entries:         map[string]service.TimeEntry{},
		createObjectErr: map[string]error{},
		deleteObjectErr: map[string]error{},
		deleteEntryErr:  map[string]error{},
	}
}

func notFound(serviceName string) error {
	return &service.Error{Service: serviceName, StatusCode: http.StatusNotFound, Message: "not found"}
}

func (f *fakeService) nextID() string {
	f.seq++
	return f.name + "-" + strconv.Itoa(f.seq)
}

func (f *fakeService) putObject(obj service.Object) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[obj.ID] = obj
}

func (f *fakeService) removeObject(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, id)
}

func (f *fakeService) object(id string) (service.Object, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[id]
	return obj, ok
}

func (f *fakeService) putEntry(entry service.TimeEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.Service = f.name
	f.entries[entry.ID] = entry
}

func (f *fakeService) removeEntry(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
}

func (f *fakeService) entry(id string) (service.TimeEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[id]
	return entry, ok
}

func (f *fakeService) entryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Capabilities() service.Capabilities { return f.caps }

func (f *fakeService) MaxBatchSize() int { return f.maxBatch }

func (f *fakeService) FullName(primary service.Object) string {
	if f.suffixed {
		return fmt.Sprintf("%s (%s)", primary.Name, primary.Type)
	}
	return primary.Name
}

func (f *fakeService) ListObjects(ctx context.Context, since *time.Time) ([]service.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	objects := make([]service.Object, 0, len(f.objects))
	for _, obj := range f.objects {
		objects = append(objects, obj)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].ID < objects[j].ID })
	return objects, nil
}

func (f *fakeService) CreateObject(ctx context.Context, primary service.Object) (*service.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createObjectErr[primary.ID]; err != nil {
		return nil, err
	}
	obj := service.Object{ID: f.nextID(), Name: f.FullName(primary), Type: primary.Type, LastUpdated: f.clock.Now()}
	f.objects[obj.ID] = obj
	f.createdObjects++
	return &obj, nil
}

func (f *fakeService) UpdateObject(ctx context.Context, id string, primary service.Object) (*service.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[id]
	if !ok {
		return nil, notFound(f.name)
	}
	obj.Name = f.FullName(primary)
	obj.LastUpdated = f.clock.Now()
	f.objects[id] = obj
	f.updatedObjects++
	return &obj, nil
}

func (f *fakeService) DeleteObject(ctx context.Context, id string, objectType entity.ObjectType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteObjectErr[id]; err != nil {
		return err
	}
	if _, ok := f.objects[id]; !ok {
		return notFound(f.name)
	}
	delete(f.objects, id)
	f.deletedObjects++
	return nil
}

func (f *fakeService) ListRemovableObjects(ctx context.Context, from, to time.Time) ([]service.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var objects []service.Object
	for _, obj := range f.removable {
		if !obj.LastUpdated.Before(from) && !obj.LastUpdated.After(to) {
			objects = append(objects, obj)
		}
	}
	return objects, nil
}

func (f *fakeService) GetObjectsByIDs(ctx context.Context, objectType entity.ObjectType, ids []string) ([]service.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(ids) > f.maxBatch {
		return nil, fmt.Errorf("batch of %d exceeds %d", len(ids), f.maxBatch)
	}
	var found []service.Object
	for _, id := range ids {
		if obj, ok := f.objects[id]; ok && obj.Type == objectType {
			found = append(found, obj)
		}
	}
	for _, obj := range f.removable {
		for _, id := range ids {
			if obj.ID == id {
				found = append(found, obj)
			}
		}
	}
	return found, nil
}

func (f *fakeService) ListTimeEntries(ctx context.Context, filter service.TimeEntryFilter) ([]service.TimeEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entryListings++
	if f.listEntriesErr != nil {
		return nil, f.listEntriesErr
	}
	var entries []service.TimeEntry
	for _, entry := range f.entries {
		if filter.Since != nil && entry.Start.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && entry.Start.After(*filter.Until) {
			continue
		}
		if filter.ObjectID != "" && !hasRef(entry, filter.ObjectID) {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func hasRef(entry service.TimeEntry, id string) bool {
	for _, ref := range entry.ObjectRefs {
		if ref.ID == id {
			return true
		}
	}
	return false
}

func (f *fakeService) GetTimeEntry(ctx context.Context, id string, since *time.Time) (*service.TimeEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	entry, ok := f.entries[id]
	if !ok || (since != nil && entry.Start.Before(*since)) {
		return nil, nil
	}
	return &entry, nil
}

func (f *fakeService) CreateTimeEntry(ctx context.Context, req service.TimeEntryRequest) (*service.TimeEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	refs := f.refsFor(req)
	if f.refuses || (f.needsRefs && len(refs) == 0) {
		return nil, nil
	}
	entry := service.TimeEntry{
		ID:          f.nextID(),
		Service:     f.name,
		Text:        req.Text,
		Start:       req.Start,
		End:         req.End,
		DurationMs:  req.DurationMs,
		LastUpdated: f.clock.Now(),
		ObjectRefs:  refs,
	}
	f.entries[entry.ID] = entry
	f.createdEntries++
	return &entry, nil
}

func (f *fakeService) UpdateTimeEntry(ctx context.Context, req service.TimeEntryRequest, original service.TimeEntry) (*service.TimeEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[original.ID]
	if !ok {
		return nil, notFound(f.name)
	}
	entry.Text = req.Text
	entry.Start = req.Start
	entry.End = req.End
	entry.DurationMs = req.DurationMs
	if req.Associations != nil {
		entry.ObjectRefs = f.refsFor(req)
	}
	entry.LastUpdated = f.clock.Now()
	f.entries[entry.ID] = entry
	f.updatedEntries++
	return &entry, nil
}

func (f *fakeService) DeleteTimeEntry(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteEntryErr[id]; err != nil {
		return err
	}
	if _, ok := f.entries[id]; !ok {
		return notFound(f.name)
	}
	delete(f.entries, id)
	f.deletedEntries++
	return nil
}

func (f *fakeService) refsFor(req service.TimeEntryRequest) []service.ObjectRef {
	index := entity.IndexMappings(req.Mappings)
	var refs []service.ObjectRef
	for _, association := range req.Associations {
		if m := index[association.Key()]; m != nil {
			if obj := m.ObjectFor(f.name); obj != nil {
				refs = append(refs, service.ObjectRef{ID: obj.ID, Type: obj.Type})
				continue
			}
		}
		if association.Inferred && f.caps.SupportsInferredAssociationAsTarget {
			refs = append(refs, service.ObjectRef{ID: association.PrimaryObjectID, Type: association.PrimaryObjectType})
		}
	}
	return refs
}

func (f *fakeService) ExtractAssociations(entry service.TimeEntry, mappings []*entity.Mapping) []service.Association {
	index := entity.IndexMappings(mappings)
	var associations []service.Association
	for _, ref := range entry.ObjectRefs {
		if m := entity.FindByServiceObject(mappings, f.name, ref.ID, ref.Type); m != nil {
			associations = append(associations, service.Association{PrimaryObjectID: m.PrimaryObjectID, PrimaryObjectType: m.PrimaryObjectType})
			continue
		}
		if f.directRefs {
			associations = append(associations, service.Association{PrimaryObjectID: ref.ID, PrimaryObjectType: ref.Type})
		}
	}
	if f.caps.SupportsInferredAssociationAsSource {
		for _, match := range issueRef.FindAllStringSubmatch(entry.Text, -1) {
			key := entity.MappingKey{ID: match[1], Type: entity.ObjectTypeIssue}
			_, mapped := index[key]
			associations = append(associations, service.Association{PrimaryObjectID: key.ID, PrimaryObjectType: key.Type, Inferred: !mapped})
		}
	}
	return associations
}

type fakeBuilder struct {
	services map[string]service.Adapter
	panics   bool
}

func (b *fakeBuilder) Build(def entity.ServiceDefinition) (service.Adapter, error) {
	if b.panics {
		panic("adapter construction exploded")
	}
	adapter, ok := b.services[def.Name]
	if !ok {
		return nil, fmt.Errorf("unknown service %s", def.Name)
	}
	return adapter, nil
}

// memoryUsers stores copies so job runs never share state with the store.
type memoryUsers struct {
	mu           sync.Mutex
	users        map[uuid.UUID]*entity.User
	replaceCalls int
	replaceErr   error
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: map[uuid.UUID]*entity.User{}}
}

func (r *memoryUsers) FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return cloneUser(user), nil
}

func (r *memoryUsers) FindAll(ctx context.Context) ([]*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]*entity.User, 0, len(r.users))
	for _, user := range r.users {
		users = append(users, cloneUser(user))
	}
	return users, nil
}

func (r *memoryUsers) Save(ctx context.Context, user *entity.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = cloneUser(user)
	return nil
}

func (r *memoryUsers) ReplaceMappings(ctx context.Context, userID uuid.UUID, mappings []*entity.Mapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replaceCalls++
	if r.replaceErr != nil {
		return r.replaceErr
	}
	r.users[userID].Mappings = cloneMappings(mappings)
	return nil
}

func (r *memoryUsers) UpdateJobLastSuccessfullyDone(ctx context.Context, userID uuid.UUID, jobType entity.JobType, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[userID].Job(jobType).Advance(at)
	return nil
}

func (r *memoryUsers) get(id uuid.UUID) *entity.User {
	user, _ := r.FindByID(context.Background(), id)
	return user
}

func cloneUser(user *entity.User) *entity.User {
	c := *user
	c.ServiceDefinitions = append([]entity.ServiceDefinition(nil), user.ServiceDefinitions...)
	c.ConfigSyncJob = cloneJobDefinition(user.ConfigSyncJob)
	c.TimeEntrySyncJob = cloneJobDefinition(user.TimeEntrySyncJob)
	c.RemoveObsoleteMappingsJob = cloneJobDefinition(user.RemoveObsoleteMappingsJob)
	c.Mappings = cloneMappings(user.Mappings)
	return &c
}

func cloneJobDefinition(def entity.JobDefinition) entity.JobDefinition {
	if def.LastSuccessfullyDone != nil {
		at := *def.LastSuccessfullyDone
		def.LastSuccessfullyDone = &at
	}
	return def
}

func cloneMappings(mappings []*entity.Mapping) []*entity.Mapping {
	out := make([]*entity.Mapping, 0, len(mappings))
	for _, m := range mappings {
		c := *m
		c.MappingsObjects = append([]entity.MappingsObject(nil), m.MappingsObjects...)
		out = append(out, &c)
	}
	return out
}

type memoryTimeEntries struct {
	mu      sync.Mutex
	records map[uuid.UUID]*entity.TimeEntrySyncedObject
}

func newMemoryTimeEntries() *memoryTimeEntries {
	return &memoryTimeEntries{records: map[uuid.UUID]*entity.TimeEntrySyncedObject{}}
}

func cloneTESO(teso *entity.TimeEntrySyncedObject) *entity.TimeEntrySyncedObject {
	c := *teso
	c.ServiceTimeEntryObjects = append([]entity.ServiceTimeEntryObject(nil), teso.ServiceTimeEntryObjects...)
	return &c
}

func (r *memoryTimeEntries) Create(ctx context.Context, teso *entity.TimeEntrySyncedObject) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[teso.ID] = cloneTESO(teso)
	return nil
}

func (r *memoryTimeEntries) Replace(ctx context.Context, teso *entity.TimeEntrySyncedObject) error {
	return r.Create(ctx, teso)
}

func (r *memoryTimeEntries) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	return nil
}

func (r *memoryTimeEntries) Archive(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if teso, ok := r.records[id]; ok {
		teso.Archived = true
	}
	return nil
}

func (r *memoryTimeEntries) FindByUser(ctx context.Context, userID uuid.UUID, since time.Time) ([]*entity.TimeEntrySyncedObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.TimeEntrySyncedObject
	for _, teso := range r.records {
		if teso.UserID == userID && !teso.Date.Before(since) {
			out = append(out, cloneTESO(teso))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (r *memoryTimeEntries) FindByServiceEntry(ctx context.Context, userID uuid.UUID, serviceName, entryID string) (*entity.TimeEntrySyncedObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, teso := range r.records {
		if teso.UserID != userID {
			continue
		}
		if steo := teso.ObjectFor(serviceName); steo != nil && steo.ID == entryID {
			return cloneTESO(teso), nil
		}
	}
	return nil, nil
}

func (r *memoryTimeEntries) all() []*entity.TimeEntrySyncedObject {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.TimeEntrySyncedObject
	for _, teso := range r.records {
		out = append(out, cloneTESO(teso))
	}
	return out
}

type memoryJobLogs struct {
	mu   sync.Mutex
	logs map[uuid.UUID]entity.JobLog
}

func newMemoryJobLogs() *memoryJobLogs {
	return &memoryJobLogs{logs: map[uuid.UUID]entity.JobLog{}}
}

func (r *memoryJobLogs) Create(ctx context.Context, log *entity.JobLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs[log.ID] = *log
	return nil
}

func (r *memoryJobLogs) Update(ctx context.Context, log *entity.JobLog) error {
	return r.Create(ctx, log)
}

func (r *memoryJobLogs) FindByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*entity.JobLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.JobLog
	for _, log := range r.logs {
		if log.UserID == userID {
			l := log
			out = append(out, &l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.After(out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryJobLogs) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, log := range r.logs {
		if log.ScheduledAt.Before(before) {
			delete(r.logs, id)
			n++
		}
	}
	return n, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	channels []string
	messages []interface{}
}

func (p *recordingPublisher) Publish(ctx context.Context, channel string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	p.messages = append(p.messages, message)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type MockFollowUpRequester struct {
	mock.Mock
}

func (m *MockFollowUpRequester) EnqueueNow(ctx context.Context, userID uuid.UUID, jobType entity.JobType, origin entity.JobOrigin) error {
	args := m.Called(ctx, userID, jobType, origin)
	return args.Error(0)
}
