package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wekeepgrowing/timesync/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/timesync/internal/domain/errors"
	"go.uber.org/zap"
)

type MockJobController struct {
	mock.Mock
}

func (m *MockJobController) RunNow(ctx context.Context, userID uuid.UUID, jobType entity.JobType) error {
	args := m.Called(ctx, userID, jobType)
	return args.Error(0)
}

func (m *MockJobController) StartUser(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockJobController) StopUser(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockJobController) IsScheduled(userID uuid.UUID) bool {
	args := m.Called(userID)
	return args.Bool(0)
}

type MockJobLogRepository struct {
	mock.Mock
}

func (m *MockJobLogRepository) Create(ctx context.Context, log *entity.JobLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *MockJobLogRepository) Update(ctx context.Context, log *entity.JobLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *MockJobLogRepository) FindByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*entity.JobLog, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entity.JobLog), args.Error(1)
}

func (m *MockJobLogRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func newTestServer(jobs *MockJobController, logs *MockJobLogRepository) *echo.Echo {
	e := echo.New()
	e.Validator = NewRequestValidator()
	NewJobHandler(jobs, logs, zap.NewNop()).Register(e.Group("/api/v1"))
	return e
}

func serve(e *echo.Echo, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRunJob(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name       string
		jobType    string
		runErr     error
		expectCall bool
		status     int
		code       string
	}{
		{name: "queued", jobType: "config-sync", expectCall: true, status: http.StatusAccepted},
		{name: "unknown job type", jobType: "rebuild", status: http.StatusBadRequest, code: "INVALID_ARGUMENT"},
		{name: "user not found", jobType: "config-sync", runErr: domainErrors.ErrUserNotFound, expectCall: true, status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "config not synced", jobType: "time-entry-sync", runErr: domainErrors.ErrConfigNotSynced, expectCall: true, status: http.StatusConflict, code: "CONFLICT"},
		{name: "scheduler stopped", jobType: "remove-obsolete-mappings", runErr: domainErrors.ErrSchedulerStopped, expectCall: true, status: http.StatusServiceUnavailable, code: "UNAVAILABLE"},
		{name: "unexpected failure", jobType: "config-sync", runErr: errors.New("disk full"), expectCall: true, status: http.StatusInternalServerError, code: "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := new(MockJobController)
			if tt.expectCall {
				jobs.On("RunNow", mock.Anything, userID, entity.JobType(tt.jobType)).Return(tt.runErr)
			}
			e := newTestServer(jobs, new(MockJobLogRepository))

			rec := serve(e, http.MethodPost, "/api/v1/users/"+userID.String()+"/jobs/"+tt.jobType)

			assert.Equal(t, tt.status, rec.Code)
			if tt.code != "" {
				assert.Contains(t, rec.Body.String(), tt.code)
			}
			assert.NotContains(t, rec.Body.String(), "disk full")
			jobs.AssertExpectations(t)
		})
	}
}

func TestRunJobInvalidUserID(t *testing.T) {
	e := newTestServer(new(MockJobController), new(MockJobLogRepository))

	rec := serve(e, http.MethodPost, "/api/v1/users/not-a-uuid/jobs/config-sync")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchedule(t *testing.T) {
	userID := uuid.New()
	path := "/api/v1/users/" + userID.String() + "/schedule"

	t.Run("start", func(t *testing.T) {
		jobs := new(MockJobController)
		jobs.On("StartUser", mock.Anything, userID).Return(nil)

		rec := serve(newTestServer(jobs, nil), http.MethodPost, path)

		assert.Equal(t, http.StatusOK, rec.Code)
		var body scheduleResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.Scheduled)
	})

	t.Run("start twice", func(t *testing.T) {
		jobs := new(MockJobController)
		jobs.On("StartUser", mock.Anything, userID).Return(domainErrors.ErrAlreadyScheduled)

		rec := serve(newTestServer(jobs, nil), http.MethodPost, path)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("stop", func(t *testing.T) {
		jobs := new(MockJobController)
		jobs.On("StopUser", mock.Anything, userID).Return(nil)

		rec := serve(newTestServer(jobs, nil), http.MethodDelete, path)

		assert.Equal(t, http.StatusOK, rec.Code)
		var body scheduleResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body.Scheduled)
	})

	t.Run("stop unscheduled", func(t *testing.T) {
		jobs := new(MockJobController)
		jobs.On("StopUser", mock.Anything, userID).Return(domainErrors.ErrNotScheduled)

		rec := serve(newTestServer(jobs, nil), http.MethodDelete, path)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("status", func(t *testing.T) {
		jobs := new(MockJobController)
		jobs.On("IsScheduled", userID).Return(false)

		rec := serve(newTestServer(jobs, nil), http.MethodGet, path)

		assert.Equal(t, http.StatusOK, rec.Code)
		var body scheduleResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, userID.String(), body.UserID)
		assert.False(t, body.Scheduled)
	})
}

func TestListJobLogs(t *testing.T) {
	userID := uuid.New()
	path := "/api/v1/users/" + userID.String() + "/job-logs"

	t.Run("default limit", func(t *testing.T) {
		log := entity.NewJobLog(userID, entity.JobTypeConfigSync, entity.JobOriginManual, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
		logs := new(MockJobLogRepository)
		logs.On("FindByUser", mock.Anything, userID, defaultJobLogLimit).Return([]*entity.JobLog{log}, nil)

		rec := serve(newTestServer(nil, logs), http.MethodGet, path)

		assert.Equal(t, http.StatusOK, rec.Code)
		var body []jobLogResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body, 1)
		assert.Equal(t, log.ID.String(), body[0].ID)
		assert.Equal(t, entity.JobStatusScheduled, body[0].Status)
		logs.AssertExpectations(t)
	})

	t.Run("explicit limit", func(t *testing.T) {
		logs := new(MockJobLogRepository)
		logs.On("FindByUser", mock.Anything, userID, 5).Return([]*entity.JobLog{}, nil)

		rec := serve(newTestServer(nil, logs), http.MethodGet, path+"?limit=5")

		assert.Equal(t, http.StatusOK, rec.Code)
		logs.AssertExpectations(t)
	})

	t.Run("limit out of range", func(t *testing.T) {
		rec := serve(newTestServer(nil, new(MockJobLogRepository)), http.MethodGet, path+"?limit=1000")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("repository failure", func(t *testing.T) {
		logs := new(MockJobLogRepository)
		logs.On("FindByUser", mock.Anything, userID, defaultJobLogLimit).Return(nil, errors.New("connection reset"))

		rec := serve(newTestServer(nil, logs), http.MethodGet, path)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "connection reset")
	})
}
