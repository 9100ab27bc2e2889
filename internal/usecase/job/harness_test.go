package job_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wekeepgrowing/timesync/internal/domain/entity"
	"github.com/wekeepgrowing/timesync/internal/domain/service"
	"github.com/wekeepgrowing/timesync/internal/usecase/job"
	"go.uber.org/zap"
)

var base = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type harness struct {
	clock     *fakeClock
	redmine   *fakeService
	toggl     *fakeService
	builder   *fakeBuilder
	users     *memoryUsers
	tesos     *memoryTimeEntries
	logs      *memoryJobLogs
	publisher *recordingPublisher
	factory   *job.Factory
	userID    uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := &fakeClock{now: base}
	redmine := newFakeService("redmine", service.Capabilities{
		IsPrimaryCapable:                    true,
		SupportsInferredAssociationAsTarget: true,
	}, clock)
	redmine.directRefs = true
	redmine.needsRefs = true

	toggl := newFakeService("toggl", service.Capabilities{
		SupportsInferredAssociationAsSource: true,
		SupportsArchiveAnnotation:           true,
	}, clock)
	toggl.suffixed = true

	h := &harness{
		clock:     clock,
		redmine:   redmine,
		toggl:     toggl,
		builder:   &fakeBuilder{services: map[string]service.Adapter{"redmine": redmine, "toggl": toggl}},
		users:     newMemoryUsers(),
		tesos:     newMemoryTimeEntries(),
		logs:      newMemoryJobLogs(),
		publisher: &recordingPublisher{},
		userID:    uuid.New(),
	}

	user := &entity.User{
		ID:           h.userID,
		Username:     "alice",
		RegisteredAt: base.AddDate(-1, 0, 0),
		DaysToSync:   14,
		ServiceDefinitions: []entity.ServiceDefinition{
			{Name: "redmine", IsPrimary: true},
			{Name: "toggl"},
		},
	}
	require.NoError(t, h.users.Save(context.Background(), user))

	h.factory = job.NewFactory(job.Dependencies{
		Users:       h.users,
		TimeEntries: h.tesos,
		JobLogs:     h.logs,
		Services:    h.builder,
		Publisher:   h.publisher,
		Settings: job.Settings{
			DefaultDaysToSync:   14,
			HistoryLookbackDays: 60,
			RemovalWindowDays:   30,
			ObjectBatchSize:     100,
			EventChannel:        "timesync:jobs",
		},
		Logger: zap.NewNop(),
		Clock:  clock.Now,
	})
	return h
}

func (h *harness) run(t *testing.T, jobType entity.JobType) (bool, entity.JobLog) {
	t.Helper()
	ctx := context.Background()

	user := h.users.get(h.userID)
	require.NotNil(t, user)
	log := entity.NewJobLog(user.ID, jobType, entity.JobOriginManual, h.clock.Now())
	require.NoError(t, h.logs.Create(ctx, log))

	j, err := h.factory.Build(user, log)
	require.NoError(t, err)
	ok := j.Start(ctx)
	return ok, *j.Log()
}

func (h *harness) user() *entity.User {
	return h.users.get(h.userID)
}

func (h *harness) mapping(t *testing.T, id string, objectType entity.ObjectType) *entity.Mapping {
	t.Helper()
	m := entity.IndexMappings(h.user().Mappings)[entity.MappingKey{ID: id, Type: objectType}]
	require.NotNil(t, m, "mapping %s/%s", objectType, id)
	return m
}

// syncConfig seeds the primary with a project and issue 42 and runs a
// successful config sync.
func (h *harness) syncConfig(t *testing.T) {
	t.Helper()
	h.redmine.putObject(service.Object{ID: "1", Name: "Alpha", Type: entity.ObjectTypeProject, LastUpdated: base.Add(-48 * time.Hour)})
	h.redmine.putObject(service.Object{ID: "42", Name: "Fix login", Type: entity.ObjectTypeIssue, LastUpdated: base.Add(-48 * time.Hour)})
	ok, log := h.run(t, entity.JobTypeConfigSync)
	require.True(t, ok, "config sync failed: %v", log.Errors)
}

// togglID returns the toggl object id of a primary object.
func (h *harness) togglID(t *testing.T, id string, objectType entity.ObjectType) string {
	t.Helper()
	mo := h.mapping(t, id, objectType).ObjectFor("toggl")
	require.NotNil(t, mo)
	return mo.ID
}

// syncRedmineEntry books r1 on issue 42 and syncs it to toggl.
func (h *harness) syncRedmineEntry(t *testing.T) *entity.TimeEntrySyncedObject {
	t.Helper()
	h.redmine.putEntry(service.TimeEntry{
		ID:          "r1",
		Text:        "login fix",
		Start:       base.Add(-48 * time.Hour),
		End:         base.Add(-47 * time.Hour),
		DurationMs:  int64(time.Hour / time.Millisecond),
		LastUpdated: base.Add(-47 * time.Hour),
		ObjectRefs:  []service.ObjectRef{{ID: "42", Type: entity.ObjectTypeIssue}},
	})
	ok, log := h.run(t, entity.JobTypeTimeEntrySync)
	require.True(t, ok, "time entry sync failed: %v", log.Errors)

	tesos := h.tesos.all()
	require.Len(t, tesos, 1)
	return tesos[0]
}
