// Package scheduler turns cron triggers and on-demand requests into job runs.
// Triggers only enqueue; a single pump runs the queue one job at a time.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/wekeepgrowing/timesync/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/timesync/internal/domain/errors"
	"github.com/wekeepgrowing/timesync/internal/domain/repository"
	"github.com/wekeepgrowing/timesync/internal/usecase/job"
	"go.uber.org/zap"
)

// Runnable is one built job run.
type Runnable interface {
	Start(ctx context.Context) bool
}

// JobFactory builds the run for a JobLog against a fresh user snapshot.
type JobFactory interface {
	Build(user *entity.User, log *entity.JobLog) (Runnable, error)
}

// JobFactoryFunc adapts a function to JobFactory.
type JobFactoryFunc func(user *entity.User, log *entity.JobLog) (Runnable, error)

func (f JobFactoryFunc) Build(user *entity.User, log *entity.JobLog) (Runnable, error) {
	return f(user, log)
}

// FromJobFactory adapts the job package factory.
func FromJobFactory(factory *job.Factory) JobFactory {
	return JobFactoryFunc(func(user *entity.User, log *entity.JobLog) (Runnable, error) {
		j, err := factory.Build(user, log)
		if err != nil {
			return nil, err
		}
		return j, nil
	})
}

type Options struct {
	PumpInterval        time.Duration
	JobLogRetentionDays int
	PurgeSchedule       string
}

type Scheduler struct {
	users   repository.UserRepository
	jobLogs repository.JobLogRepository
	factory JobFactory
	opts    Options
	logger  *zap.Logger
	now     func() time.Time

	cron     *cron.Cron
	registry *TriggerRegistry
	queue    *Queue
	locks    *KeyedMutex

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
}

func New(users repository.UserRepository, jobLogs repository.JobLogRepository, factory JobFactory, opts Options, logger *zap.Logger) *Scheduler {
	if opts.PumpInterval <= 0 {
		opts.PumpInterval = 5 * time.Second
	}
	return &Scheduler{
		users:   users,
		jobLogs: jobLogs,
		factory: factory,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger{logger: logger}),
			cron.WithChain(cron.Recover(cronLogger{logger: logger})),
		),
		registry: NewTriggerRegistry(),
		queue:    NewQueue(),
		locks:    NewKeyedMutex(),
	}
}

// Start installs the triggers of every stored user, the log purge and the pump.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	users, err := s.users.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	for _, user := range users {
		if err := s.install(user); err != nil {
			s.logger.Error("Failed to install triggers",
				zap.String("user_id", user.ID.String()), zap.Error(err))
		}
	}

	if s.opts.PurgeSchedule != "" && s.opts.JobLogRetentionDays > 0 {
		if _, err := s.cron.AddFunc(s.opts.PurgeSchedule, func() {
			if _, err := s.PurgeJobLogs(context.Background()); err != nil {
				s.logger.Error("Failed to purge job logs", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("install job log purge: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true
	s.cron.Start()
	go s.pump(runCtx)

	s.logger.Info("Scheduler started",
		zap.Int("users", s.registry.Len()),
		zap.Duration("pump_interval", s.opts.PumpInterval))
	return nil
}

// Stop ends triggering and waits for the job in progress. When ctx expires
// first the running job's context is cancelled.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	select {
	case <-s.done:
	case <-ctx.Done():
		s.cancel()
		<-s.done
	}
	<-cronDone.Done()
	s.cancel()
	s.logger.Info("Scheduler stopped", zap.Int("queued", s.queue.Len()))
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// StartUser installs the cron triggers of a user.
func (s *Scheduler) StartUser(ctx context.Context, userID uuid.UUID) error {
	if !s.Running() {
		return domainErrors.ErrSchedulerStopped
	}
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return err
	}
	if s.registry.IsInstalled(userID) {
		return domainErrors.ErrAlreadyScheduled
	}
	return s.install(user)
}

// StopUser removes the triggers of a user. Queued and running jobs are not affected.
func (s *Scheduler) StopUser(ctx context.Context, userID uuid.UUID) error {
	if _, err := s.findUser(ctx, userID); err != nil {
		return err
	}
	ids, ok := s.registry.Uninstall(userID)
	if !ok {
		return domainErrors.ErrNotScheduled
	}
	for _, id := range ids {
		s.cron.Remove(id)
	}
	s.logger.Info("Triggers uninstalled", zap.String("user_id", userID.String()))
	return nil
}

func (s *Scheduler) IsScheduled(userID uuid.UUID) bool {
	return s.registry.IsInstalled(userID)
}

// RunNow enqueues a manual run. A time entry sync needs a completed config sync.
func (s *Scheduler) RunNow(ctx context.Context, userID uuid.UUID, jobType entity.JobType) error {
	if !s.Running() {
		return domainErrors.ErrSchedulerStopped
	}
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return err
	}
	if jobType == entity.JobTypeTimeEntrySync && user.ConfigSyncJob.LastSuccessfullyDone == nil {
		return domainErrors.ErrConfigNotSynced
	}
	return s.enqueue(ctx, user.ID, jobType, entity.JobOriginManual)
}

// EnqueueNow enqueues a run outside of the schedule.
func (s *Scheduler) EnqueueNow(ctx context.Context, userID uuid.UUID, jobType entity.JobType, origin entity.JobOrigin) error {
	if !s.Running() {
		return domainErrors.ErrSchedulerStopped
	}
	if _, err := s.findUser(ctx, userID); err != nil {
		return err
	}
	return s.enqueue(ctx, userID, jobType, origin)
}

// Fire handles a cron trigger. The user is re-read so a deleted user
// produces nothing, and without a stored JobLog nothing is enqueued.
func (s *Scheduler) Fire(ctx context.Context, userID uuid.UUID, jobType entity.JobType) {
	logger := s.logger.With(zap.String("user_id", userID.String()), zap.String("job_type", string(jobType)))

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		logger.Error("Failed to load user for trigger", zap.Error(err))
		return
	}
	if user == nil {
		logger.Warn("Trigger fired for unknown user")
		return
	}
	if err := s.enqueue(ctx, user.ID, jobType, entity.JobOriginScheduled); err != nil {
		logger.Error("Failed to enqueue scheduled job", zap.Error(err))
	}
}

// PumpOnce drains the queue, running each job with one retry. It returns the
// number of queued jobs handled.
func (s *Scheduler) PumpOnce(ctx context.Context) int {
	handled := 0
	for {
		select {
		case <-s.stop:
			return handled
		default:
		}
		log, ok := s.queue.Pop()
		if !ok {
			return handled
		}
		s.execute(ctx, log)
		handled++
	}
}

// PurgeJobLogs deletes logs older than the retention period.
func (s *Scheduler) PurgeJobLogs(ctx context.Context) (int64, error) {
	before := s.now().AddDate(0, 0, -s.opts.JobLogRetentionDays)
	n, err := s.jobLogs.DeleteOlderThan(ctx, before)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Job logs purged", zap.Int64("deleted", n), zap.Time("before", before))
	return n, nil
}

func (s *Scheduler) pump(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.PumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.PumpOnce(ctx)
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) enqueue(ctx context.Context, userID uuid.UUID, jobType entity.JobType, origin entity.JobOrigin) error {
	if !jobType.Valid() {
		return fmt.Errorf("unknown job type %q", jobType)
	}
	log := entity.NewJobLog(userID, jobType, origin, s.now())
	if err := s.jobLogs.Create(ctx, log); err != nil {
		return fmt.Errorf("create job log: %w", err)
	}
	s.queue.Push(log)
	s.logger.Debug("Job enqueued",
		zap.String("user_id", userID.String()),
		zap.String("job_type", string(jobType)),
		zap.String("job_origin", string(origin)),
		zap.String("job_id", log.ID.String()))
	return nil
}

// execute runs a queued job under the user's lock and retries a failure
// once with a rebuilt job.
func (s *Scheduler) execute(ctx context.Context, log *entity.JobLog) {
	unlock := s.locks.Lock(log.UserID)
	defer unlock()

	if s.attempt(ctx, log) {
		return
	}

	retry := entity.NewJobLog(log.UserID, log.Type, log.Origin, s.now())
	if err := s.jobLogs.Create(ctx, retry); err != nil {
		s.logger.Error("Failed to create job log for retry",
			zap.String("job_id", log.ID.String()), zap.Error(err))
		return
	}
	s.logger.Info("Retrying failed job",
		zap.String("job_id", log.ID.String()),
		zap.String("retry_job_id", retry.ID.String()))
	s.attempt(ctx, retry)
}

// attempt reports false only for a run worth retrying. A job that cannot
// start is closed as unsuccessful so its log never stays scheduled.
func (s *Scheduler) attempt(ctx context.Context, log *entity.JobLog) bool {
	user, err := s.users.FindByID(ctx, log.UserID)
	if err != nil {
		s.logger.Error("Failed to load user for job", zap.String("job_id", log.ID.String()), zap.Error(err))
		s.fail(ctx, log, fmt.Errorf("load user: %w", err))
		return false
	}
	if user == nil {
		s.logger.Warn("Dropping job of deleted user", zap.String("job_id", log.ID.String()))
		s.fail(ctx, log, domainErrors.ErrUserNotFound)
		return true
	}

	run, err := s.factory.Build(user, log)
	if err != nil {
		s.logger.Error("Failed to build job", zap.String("job_id", log.ID.String()), zap.Error(err))
		s.fail(ctx, log, err)
		return true
	}
	return run.Start(ctx)
}

func (s *Scheduler) fail(ctx context.Context, log *entity.JobLog, cause error) {
	if !log.Fail(cause.Error(), s.now()) {
		return
	}
	if err := s.jobLogs.Update(ctx, log); err != nil {
		s.logger.Error("Failed to persist job log", zap.String("job_id", log.ID.String()), zap.Error(err))
	}
}

func (s *Scheduler) findUser(ctx context.Context, userID uuid.UUID) (*entity.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, domainErrors.ErrUserNotFound
	}
	return user, nil
}

// install adds one cron entry per scheduled job type and replaces any
// entries the user had before.
func (s *Scheduler) install(user *entity.User) error {
	var ids []cron.EntryID
	for _, jobType := range entity.JobTypes {
		spec := user.Job(jobType).Schedule
		if spec == "" {
			continue
		}
		userID, jobType := user.ID, jobType
		id, err := s.cron.AddFunc(spec, func() {
			s.Fire(context.Background(), userID, jobType)
		})
		if err != nil {
			for _, added := range ids {
				s.cron.Remove(added)
			}
			return fmt.Errorf("schedule %s %q: %w", jobType, spec, err)
		}
		ids = append(ids, id)
	}

	for _, old := range s.registry.Install(user.ID, ids) {
		s.cron.Remove(old)
	}
	s.logger.Info("Triggers installed",
		zap.String("user_id", user.ID.String()),
		zap.Int("triggers", len(ids)))
	return nil
}
