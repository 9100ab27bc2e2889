package job_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wekeepgrowing/timesync/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/timesync/internal/domain/errors"
	"github.com/wekeepgrowing/timesync/internal/domain/service"
	"github.com/wekeepgrowing/timesync/internal/usecase/job"
	"go.uber.org/zap"
)

func TestJob_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("successful run persists log and publishes events", func(t *testing.T) {
		h := newHarness(t)
		h.redmine.putObject(service.Object{ID: "1", Name: "Alpha", Type: entity.ObjectTypeProject})

		ok, log := h.run(t, entity.JobTypeConfigSync)

		require.True(t, ok)
		stored, err := h.logs.FindByUser(ctx, h.userID, 10)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, entity.JobStatusSuccessful, stored[0].Status)
		require.NotNil(t, stored[0].StartedAt)
		require.NotNil(t, stored[0].CompletedAt)
		assert.Equal(t, log.ID, stored[0].ID)

		require.Len(t, h.publisher.messages, 2)
		assert.Equal(t, []string{"timesync:jobs", "timesync:jobs"}, h.publisher.channels)
		running := h.publisher.messages[0].(job.Event)
		finished := h.publisher.messages[1].(job.Event)
		assert.Equal(t, string(entity.JobStatusRunning), running.Status)
		assert.Equal(t, string(entity.JobStatusSuccessful), finished.Status)
		assert.Equal(t, string(entity.JobTypeConfigSync), finished.Type)
		assert.Equal(t, h.userID.String(), finished.UserID)
	})

	t.Run("refuses a log that is not scheduled", func(t *testing.T) {
		h := newHarness(t)
		h.redmine.putObject(service.Object{ID: "1", Name: "Alpha", Type: entity.ObjectTypeProject})
		log := entity.NewJobLog(h.userID, entity.JobTypeConfigSync, entity.JobOriginManual, base)
		require.True(t, log.Transition(entity.JobStatusRunning, base))

		j, err := h.factory.Build(h.user(), log)
		require.NoError(t, err)

		assert.False(t, j.Start(ctx))
		assert.Equal(t, entity.JobStatusRunning, j.Log().Status)
		assert.Equal(t, 0, h.toggl.createdObjects)
		assert.Empty(t, h.publisher.messages)
	})

	t.Run("recovers from a panic", func(t *testing.T) {
		h := newHarness(t)
		h.builder.panics = true

		ok, log := h.run(t, entity.JobTypeConfigSync)

		require.False(t, ok)
		assert.Equal(t, entity.JobStatusUnsuccessful, log.Status)
		require.Len(t, log.Errors, 1)
		assert.Equal(t, entity.ErrorCategoryInternal, log.Errors[0].Category)
		assert.Contains(t, log.Errors[0].Message, "panic")
	})

	t.Run("rejects an invalid service set", func(t *testing.T) {
		h := newHarness(t)
		user := h.user()
		user.ServiceDefinitions[1].IsPrimary = true
		require.NoError(t, h.users.Save(ctx, user))

		ok, log := h.run(t, entity.JobTypeRemoveObsoleteMappings)

		require.False(t, ok)
		require.Len(t, log.Errors, 1)
		assert.Contains(t, log.Errors[0].Message, "more than one primary")
	})
}

func TestFactory_BuildUnknownType(t *testing.T) {
	h := newHarness(t)
	log := entity.NewJobLog(h.userID, entity.JobType("reindex"), entity.JobOriginManual, base)

	_, err := h.factory.Build(h.user(), log)

	assert.Error(t, err)
}

func TestRecorder_Classifies(t *testing.T) {
	tests := []struct {
		name     string
		record   func(*job.Recorder)
		category entity.ErrorCategory
		service  string
	}{
		{
			name: "operation",
			record: func(r *job.Recorder) {
				r.Operation("toggl", errors.New("boom"))
			},
			category: entity.ErrorCategoryOperation,
			service:  "toggl",
		},
		{
			name: "rejected credentials",
			record: func(r *job.Recorder) {
				r.Operation("toggl", &service.Error{Service: "toggl", StatusCode: http.StatusForbidden})
			},
			category: entity.ErrorCategoryAuthorization,
			service:  "toggl",
		},
		{
			name: "wrapped fetch failure",
			record: func(r *job.Recorder) {
				r.Operation("redmine", &domainErrors.FetchError{Service: "redmine", Err: errors.New("timeout")})
			},
			category: entity.ErrorCategoryFetch,
			service:  "redmine",
		},
		{
			name: "consistency",
			record: func(r *job.Recorder) {
				r.Internal(domainErrors.NewConsistencyError("two origins"))
			},
			category: entity.ErrorCategoryConsistency,
		},
		{
			name: "internal",
			record: func(r *job.Recorder) {
				r.Internal(errors.New("db down"))
			},
			category: entity.ErrorCategoryInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := job.NewRecorder(zap.NewNop())
			tt.record(rec)

			recorded := rec.Errors()
			require.Len(t, recorded, 1)
			assert.Equal(t, tt.category, recorded[0].Category)
			assert.Equal(t, tt.service, recorded[0].Service)
		})
	}
}

func TestNewEvent(t *testing.T) {
	log := entity.NewJobLog(uuid.New(), entity.JobTypeTimeEntrySync, entity.JobOriginInternal, base)
	log.Transition(entity.JobStatusRunning, base.Add(time.Second))

	event := job.NewEvent(log)

	assert.Equal(t, log.ID.String(), event.JobID)
	assert.Equal(t, "time-entry-sync", event.Type)
	assert.Equal(t, "internal", event.Origin)
	assert.Equal(t, "running", event.Status)
	assert.Nil(t, event.CompletedAt)
	assert.Equal(t, 0, event.ErrorCount)
}
