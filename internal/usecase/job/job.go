// Package job runs the reconciliation jobs of one user: config sync, time
// entry sync and removal of obsolete mappings.
package job

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/wekeepgrowing/timesync/internal/domain/entity"
	"github.com/wekeepgrowing/timesync/internal/domain/repository"
	"github.com/wekeepgrowing/timesync/internal/domain/service"
	"github.com/wekeepgrowing/timesync/pkg/messaging"
	"go.uber.org/zap"
)

// Settings tune the reconciliation windows.
type Settings struct {
	DefaultDaysToSync   int
	HistoryLookbackDays int
	RemovalWindowDays   int
	ObjectBatchSize     int
	EventChannel        string
}

// Dependencies are shared by every job built by a Factory.
type Dependencies struct {
	Users       repository.UserRepository
	TimeEntries repository.TimeEntrySyncedObjectRepository
	JobLogs     repository.JobLogRepository
	Services    service.Builder
	Publisher   messaging.Publisher
	Settings    Settings
	Logger      *zap.Logger
	Clock       func() time.Time
}

func (d Dependencies) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

// FollowUpRequester enqueues a job outside of the schedule.
type FollowUpRequester interface {
	EnqueueNow(ctx context.Context, userID uuid.UUID, jobType entity.JobType, origin entity.JobOrigin) error
}

// Logic is the job specific reconciliation. It reports true only when every
// operation it attempted succeeded.
type Logic interface {
	Run(ctx context.Context, rec *Recorder) bool
}

// Job binds one run of a Logic to a user snapshot and its JobLog.
type Job struct {
	user     *entity.User
	log      *entity.JobLog
	logic    Logic
	recorder *Recorder
	deps     Dependencies
	logger   *zap.Logger
}

func (j *Job) Log() *entity.JobLog { return j.log }

func (j *Job) User() *entity.User { return j.user }

func (j *Job) UserID() uuid.UUID { return j.user.ID }

func (j *Job) Type() entity.JobType { return j.log.Type }

func (j *Job) Origin() entity.JobOrigin { return j.log.Origin }

// Start runs the job once. It never panics and never returns an error: every
// failure ends up in the JobLog and in a false result.
func (j *Job) Start(ctx context.Context) bool {
	if !j.log.Transition(entity.JobStatusRunning, j.deps.now()) {
		j.logger.Warn("Job is not in scheduled state, ignoring start",
			zap.String("status", string(j.log.Status)))
		return false
	}
	j.persist(ctx)

	j.logger.Info("Job started")
	ok := j.run(ctx)

	status := entity.JobStatusUnsuccessful
	if ok {
		status = entity.JobStatusSuccessful
	}
	j.log.Errors = j.recorder.Errors()
	j.log.Transition(status, j.deps.now())
	j.persist(ctx)

	j.logger.Info("Job finished",
		zap.String("status", string(status)),
		zap.Int("errors", len(j.log.Errors)),
		zap.Duration("duration", j.log.CompletedAt.Sub(*j.log.StartedAt)))
	return ok
}

func (j *Job) run(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error("Job panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			j.recorder.Internal(fmt.Errorf("panic: %v", r))
			ok = false
		}
	}()
	return j.logic.Run(ctx, j.recorder)
}

// persist stores the JobLog and publishes the status change. Failures are
// logged only; they must not change the outcome of the run.
func (j *Job) persist(ctx context.Context) {
	if err := j.deps.JobLogs.Update(ctx, j.log); err != nil {
		j.logger.Error("Failed to persist job log", zap.Error(err))
	}
	if j.deps.Publisher == nil {
		return
	}
	if err := j.deps.Publisher.Publish(ctx, j.deps.Settings.EventChannel, NewEvent(j.log)); err != nil {
		j.logger.Warn("Failed to publish job event", zap.Error(err))
	}
}

// Factory builds jobs for users.
type Factory struct {
	deps     Dependencies
	followUp FollowUpRequester
}

func NewFactory(deps Dependencies) *Factory {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Factory{deps: deps}
}

// SetFollowUp wires the requester used for config syncs that a time entry
// sync asks for.
func (f *Factory) SetFollowUp(r FollowUpRequester) {
	f.followUp = r
}

// Build creates the job for log.Type bound to the user snapshot.
func (f *Factory) Build(user *entity.User, log *entity.JobLog) (*Job, error) {
	logger := f.deps.Logger.With(
		zap.String("user_id", user.ID.String()),
		zap.String("job_id", log.ID.String()),
		zap.String("job_type", string(log.Type)),
		zap.String("job_origin", string(log.Origin)),
	)

	var logic Logic
	switch log.Type {
	case entity.JobTypeConfigSync:
		logic = &configSync{deps: f.deps, user: user, logger: logger}
	case entity.JobTypeTimeEntrySync:
		logic = &timeEntrySync{deps: f.deps, user: user, followUp: f.followUp, logger: logger}
	case entity.JobTypeRemoveObsoleteMappings:
		logic = &removeObsoleteMappings{deps: f.deps, user: user, logger: logger}
	default:
		return nil, fmt.Errorf("unknown job type %q", log.Type)
	}

	return &Job{
		user:     user,
		log:      log,
		logic:    logic,
		recorder: NewRecorder(logger),
		deps:     f.deps,
		logger:   logger,
	}, nil
}

// advanceWatermark stores the new last success of jobType on full success.
func advanceWatermark(ctx context.Context, deps Dependencies, user *entity.User, jobType entity.JobType, at time.Time, rec *Recorder) bool {
	def := user.Job(jobType)
	if def == nil || !def.Advance(at) {
		return true
	}
	if err := deps.Users.UpdateJobLastSuccessfullyDone(ctx, user.ID, jobType, at); err != nil {
		rec.Internal(fmt.Errorf("store last success: %w", err))
		return false
	}
	return true
}
