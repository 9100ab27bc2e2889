package entity_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wekeepgrowing/timesync/internal/domain/entity"
)

func TestJobLogTransition(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("happy path", func(t *testing.T) {
		log := entity.NewJobLog(uuid.New(), entity.JobTypeConfigSync, entity.JobOriginManual, at)
		require.True(t, log.Transition(entity.JobStatusRunning, at))
		require.True(t, log.Transition(entity.JobStatusSuccessful, at.Add(time.Minute)))
		assert.Equal(t, entity.JobStatusSuccessful, log.Status)
		assert.Equal(t, at, *log.StartedAt)
		assert.Equal(t, at.Add(time.Minute), *log.CompletedAt)
	})

	t.Run("illegal transitions are no-ops", func(t *testing.T) {
		log := entity.NewJobLog(uuid.New(), entity.JobTypeConfigSync, entity.JobOriginManual, at)
		assert.False(t, log.Transition(entity.JobStatusSuccessful, at))
		assert.False(t, log.Transition(entity.JobStatusScheduled, at))
		assert.Equal(t, entity.JobStatusScheduled, log.Status)
		assert.Nil(t, log.CompletedAt)

		require.True(t, log.Transition(entity.JobStatusRunning, at))
		assert.False(t, log.Transition(entity.JobStatusRunning, at.Add(time.Second)))
		assert.Equal(t, at, *log.StartedAt)

		require.True(t, log.Transition(entity.JobStatusUnsuccessful, at))
		assert.False(t, log.Transition(entity.JobStatusSuccessful, at))
		assert.Equal(t, entity.JobStatusUnsuccessful, log.Status)
	})

	t.Run("fail before start", func(t *testing.T) {
		log := entity.NewJobLog(uuid.New(), entity.JobTypeConfigSync, entity.JobOriginManual, at)
		require.True(t, log.Fail("load user: timeout", at))
		assert.Equal(t, entity.JobStatusUnsuccessful, log.Status)
		assert.Equal(t, at, *log.StartedAt)
		assert.Equal(t, at, *log.CompletedAt)
		assert.Equal(t, []entity.JobError{{Category: entity.ErrorCategoryInternal, Message: "load user: timeout"}}, log.Errors)

		assert.False(t, log.Fail("again", at))
		assert.Len(t, log.Errors, 1)
	})
}

func TestJobDefinitionAdvance(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var def entity.JobDefinition

	assert.True(t, def.Advance(at))
	assert.False(t, def.Advance(at.Add(-time.Hour)))
	assert.False(t, def.Advance(at))
	assert.Equal(t, at, *def.LastSuccessfullyDone)
	assert.True(t, def.Advance(at.Add(time.Hour)))
	assert.Equal(t, at.Add(time.Hour), *def.LastSuccessfullyDone)
}

func TestUserValidate(t *testing.T) {
	tests := []struct {
		name    string
		defs    []entity.ServiceDefinition
		wantErr bool
	}{
		{"one primary", []entity.ServiceDefinition{{Name: "redmine", IsPrimary: true}, {Name: "toggl"}}, false},
		{"no primary", []entity.ServiceDefinition{{Name: "redmine"}, {Name: "toggl"}}, true},
		{"two primaries", []entity.ServiceDefinition{{Name: "redmine", IsPrimary: true}, {Name: "toggl", IsPrimary: true}}, true},
		{"duplicate name", []entity.ServiceDefinition{{Name: "redmine", IsPrimary: true}, {Name: "redmine"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := &entity.User{ID: uuid.New(), ServiceDefinitions: tt.defs}
			if tt.wantErr {
				assert.Error(t, user.Validate())
			} else {
				assert.NoError(t, user.Validate())
			}
		})
	}
}

func TestUserSyncWindowStart(t *testing.T) {
	now := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)

	user := &entity.User{RegisteredAt: now.AddDate(-1, 0, 0), DaysToSync: 5}
	assert.Equal(t, now.AddDate(0, 0, -5), user.SyncWindowStart(now, 14))

	user.DaysToSync = 0
	assert.Equal(t, now.AddDate(0, 0, -14), user.SyncWindowStart(now, 14))

	user.RegisteredAt = now.AddDate(0, 0, -2)
	assert.Equal(t, user.RegisteredAt, user.SyncWindowStart(now, 14))
}

func TestMappingObjects(t *testing.T) {
	m := &entity.Mapping{PrimaryObjectID: "1", PrimaryObjectType: entity.ObjectTypeProject}
	m.SetObject(entity.MappingsObject{Service: "redmine", ID: "1", Name: "Alpha"})
	m.SetObject(entity.MappingsObject{Service: "toggl", ID: "77", Name: "Alpha (project)"})
	m.SetObject(entity.MappingsObject{Service: "toggl", ID: "78", Name: "Alpha (project)"})

	require.Len(t, m.MappingsObjects, 2)
	assert.Equal(t, "78", m.ObjectFor("toggl").ID)

	found := entity.FindByServiceObject([]*entity.Mapping{m}, "toggl", "78", entity.ObjectTypeProject)
	assert.Same(t, m, found)
	assert.Nil(t, entity.FindByServiceObject([]*entity.Mapping{m}, "toggl", "78", entity.ObjectTypeTag))

	m.RemoveObject("toggl")
	assert.Nil(t, m.ObjectFor("toggl"))
	assert.Len(t, m.MappingsObjects, 1)
}

func TestTimeEntrySyncedObject(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	teso := entity.NewTimeEntrySyncedObject(uuid.New(), entity.ServiceTimeEntryObject{Service: "redmine", ID: "5"}, at, at)
	teso.SetObject(entity.ServiceTimeEntryObject{Service: "toggl", ID: "9"})

	require.NoError(t, teso.Validate())
	assert.Equal(t, "redmine", teso.Origin().Service)

	t.Run("set object keeps origin flag", func(t *testing.T) {
		teso.SetObject(entity.ServiceTimeEntryObject{Service: "redmine", ID: "6"})
		assert.True(t, teso.ObjectFor("redmine").IsOrigin)
		assert.Equal(t, "6", teso.Origin().ID)
	})

	t.Run("set origin moves the flag", func(t *testing.T) {
		teso.SetOrigin("toggl")
		assert.Equal(t, "toggl", teso.Origin().Service)
		assert.NoError(t, teso.Validate())
	})

	t.Run("duplicated service is a violation", func(t *testing.T) {
		broken := *teso
		broken.ServiceTimeEntryObjects = append([]entity.ServiceTimeEntryObject{}, teso.ServiceTimeEntryObjects...)
		broken.ServiceTimeEntryObjects = append(broken.ServiceTimeEntryObjects, entity.ServiceTimeEntryObject{Service: "toggl", ID: "10"})
		assert.Error(t, broken.Validate())
	})

	t.Run("missing origin is a violation", func(t *testing.T) {
		teso.RemoveObject("toggl")
		assert.Nil(t, teso.Origin())
		assert.Error(t, teso.Validate())
	})
}
