package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wekeepgrowing/timesync/internal/domain/entity"
	"github.com/wekeepgrowing/timesync/internal/domain/model"
	"github.com/wekeepgrowing/timesync/internal/domain/repository"
	"gorm.io/gorm"
)

type jobLogRepository struct {
	db *gorm.DB
}

func NewJobLogRepository(db *gorm.DB) repository.JobLogRepository {
	return &jobLogRepository{db: db}
}

func (r *jobLogRepository) Create(ctx context.Context, log *entity.JobLog) error {
	return r.db.WithContext(ctx).Create(jobLogToModel(log)).Error
}

func (r *jobLogRepository) Update(ctx context.Context, log *entity.JobLog) error {
	return r.db.WithContext(ctx).Save(jobLogToModel(log)).Error
}

func (r *jobLogRepository) FindByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*entity.JobLog, error) {
	var rows []model.JobLog
	query := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("scheduled_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]*entity.JobLog, 0, len(rows))
	for i := range rows {
		result = append(result, jobLogToEntity(&rows[i]))
	}
	return result, nil
}

func (r *jobLogRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("scheduled_at < ?", before).Delete(&model.JobLog{})
	return result.RowsAffected, result.Error
}

func jobLogToEntity(m *model.JobLog) *entity.JobLog {
	errs := make([]entity.JobError, 0, len(m.Errors))
	for _, e := range m.Errors {
		errs = append(errs, entity.JobError{
			Category: entity.ErrorCategory(e.Category),
			Service:  e.Service,
			Message:  e.Message,
		})
	}
	return &entity.JobLog{
		ID:          m.ID,
		UserID:      m.UserID,
		Type:        entity.JobType(m.Type),
		Origin:      entity.JobOrigin(m.Origin),
		Status:      entity.JobStatus(m.Status),
		ScheduledAt: m.ScheduledAt,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		Errors:      errs,
	}
}

func jobLogToModel(e *entity.JobLog) *model.JobLog {
	errs := make([]model.JobError, 0, len(e.Errors))
	for _, err := range e.Errors {
		errs = append(errs, model.JobError{
			Category: string(err.Category),
			Service:  err.Service,
			Message:  err.Message,
		})
	}
	return &model.JobLog{
		ID:          e.ID,
		UserID:      e.UserID,
		Type:        string(e.Type),
		Origin:      string(e.Origin),
		Status:      string(e.Status),
		ScheduledAt: e.ScheduledAt,
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
		Errors:      errs,
	}
}
