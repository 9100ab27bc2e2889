package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/wekeepgrowing/timesync/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/timesync/internal/domain/errors"
	"github.com/wekeepgrowing/timesync/internal/domain/repository"
	appErrors "github.com/wekeepgrowing/timesync/pkg/errors"
	"go.uber.org/zap"
)

const defaultJobLogLimit = 50

// JobController is the part of the scheduler exposed over HTTP.
type JobController interface {
	RunNow(ctx context.Context, userID uuid.UUID, jobType entity.JobType) error
	StartUser(ctx context.Context, userID uuid.UUID) error
	StopUser(ctx context.Context, userID uuid.UUID) error
	IsScheduled(userID uuid.UUID) bool
}

type JobHandler struct {
	jobs    JobController
	jobLogs repository.JobLogRepository
	logger  *zap.Logger
}

func NewJobHandler(jobs JobController, jobLogs repository.JobLogRepository, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		jobs:    jobs,
		jobLogs: jobLogs,
		logger:  logger,
	}
}

type jobLogQuery struct {
	Limit int `query:"limit" validate:"omitempty,min=1,max=500"`
}

type scheduleResponse struct {
	UserID    string `json:"user_id"`
	Scheduled bool   `json:"scheduled"`
}

type jobLogResponse struct {
	ID          string            `json:"id"`
	Type        entity.JobType    `json:"type"`
	Origin      entity.JobOrigin  `json:"origin"`
	Status      entity.JobStatus  `json:"status"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Errors      []entity.JobError `json:"errors"`
}

// Register mounts the control plane routes on the given group.
func (h *JobHandler) Register(g *echo.Group) {
	users := g.Group("/users/:id")
	users.POST("/jobs/:type", h.RunJob)
	users.GET("/schedule", h.GetSchedule)
	users.POST("/schedule", h.StartSchedule)
	users.DELETE("/schedule", h.StopSchedule)
	users.GET("/job-logs", h.ListJobLogs)
}

// RunJob handles POST /api/v1/users/:id/jobs/:type
func (h *JobHandler) RunJob(c echo.Context) error {
	userID, err := parseUserID(c)
	if err != nil {
		return appErrors.ToHTTPError(err)
	}

	jobType := entity.JobType(c.Param("type"))
	if !jobType.Valid() {
		return appErrors.ToHTTPError(appErrors.NewAppError(appErrors.ErrInvalidArgument, "unknown job type", nil))
	}

	if err := h.jobs.RunNow(c.Request().Context(), userID, jobType); err != nil {
		h.logger.Warn("Failed to enqueue job",
			zap.String("user_id", userID.String()),
			zap.String("job_type", string(jobType)),
			zap.Error(err))
		return appErrors.ToHTTPError(toAppError(err))
	}

	return c.JSON(http.StatusAccepted, echo.Map{
		"user_id":  userID.String(),
		"job_type": jobType,
		"status":   entity.JobStatusScheduled,
	})
}

// GetSchedule handles GET /api/v1/users/:id/schedule
func (h *JobHandler) GetSchedule(c echo.Context) error {
	userID, err := parseUserID(c)
	if err != nil {
		return appErrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, scheduleResponse{UserID: userID.String(), Scheduled: h.jobs.IsScheduled(userID)})
}

// StartSchedule handles POST /api/v1/users/:id/schedule
func (h *JobHandler) StartSchedule(c echo.Context) error {
	userID, err := parseUserID(c)
	if err != nil {
		return appErrors.ToHTTPError(err)
	}
	if err := h.jobs.StartUser(c.Request().Context(), userID); err != nil {
		return appErrors.ToHTTPError(toAppError(err))
	}
	h.logger.Info("User schedule started", zap.String("user_id", userID.String()))
	return c.JSON(http.StatusOK, scheduleResponse{UserID: userID.String(), Scheduled: true})
}

// StopSchedule handles DELETE /api/v1/users/:id/schedule
func (h *JobHandler) StopSchedule(c echo.Context) error {
	userID, err := parseUserID(c)
	if err != nil {
		return appErrors.ToHTTPError(err)
	}
	if err := h.jobs.StopUser(c.Request().Context(), userID); err != nil {
		return appErrors.ToHTTPError(toAppError(err))
	}
	h.logger.Info("User schedule stopped", zap.String("user_id", userID.String()))
	return c.JSON(http.StatusOK, scheduleResponse{UserID: userID.String(), Scheduled: false})
}

// ListJobLogs handles GET /api/v1/users/:id/job-logs
func (h *JobHandler) ListJobLogs(c echo.Context) error {
	userID, err := parseUserID(c)
	if err != nil {
		return appErrors.ToHTTPError(err)
	}

	var query jobLogQuery
	if err := c.Bind(&query); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid query", "code": appErrors.ErrInvalidArgument})
	}
	if err := c.Validate(query); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "limit must be between 1 and 500", "code": appErrors.ErrInvalidArgument})
	}
	if query.Limit == 0 {
		query.Limit = defaultJobLogLimit
	}

	logs, err := h.jobLogs.FindByUser(c.Request().Context(), userID, query.Limit)
	if err != nil {
		appErrors.LogError(h.logger, err, "Failed to list job logs", zap.String("user_id", userID.String()))
		return appErrors.ToHTTPError(err)
	}

	result := make([]jobLogResponse, len(logs))
	for i, log := range logs {
		result[i] = jobLogResponse{
			ID:          log.ID.String(),
			Type:        log.Type,
			Origin:      log.Origin,
			Status:      log.Status,
			ScheduledAt: log.ScheduledAt,
			StartedAt:   log.StartedAt,
			CompletedAt: log.CompletedAt,
			Errors:      log.Errors,
		}
	}
	return c.JSON(http.StatusOK, result)
}

func parseUserID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, appErrors.NewAppError(appErrors.ErrInvalidArgument, "invalid user ID", err)
	}
	return id, nil
}

// toAppError maps scheduler errors onto application error codes.
func toAppError(err error) error {
	switch {
	case errors.Is(err, domainErrors.ErrUserNotFound):
		return appErrors.NotFound("user not found")
	case errors.Is(err, domainErrors.ErrNotScheduled):
		return appErrors.NotFound("jobs are not scheduled for user")
	case errors.Is(err, domainErrors.ErrAlreadyScheduled):
		return appErrors.Conflict("jobs are already scheduled for user")
	case errors.Is(err, domainErrors.ErrConfigNotSynced):
		return appErrors.Conflict("config sync has not completed successfully yet")
	case errors.Is(err, domainErrors.ErrSchedulerStopped):
		return appErrors.Unavailable("scheduler is not running", err)
	}
	return appErrors.Wrap(err, "job request failed")
}
