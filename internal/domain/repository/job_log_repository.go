package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wekeepgrowing/timesync/internal/domain/entity"
)

type JobLogRepository interface {
	Create(ctx context.Context, log *entity.JobLog) error
	Update(ctx context.Context, log *entity.JobLog) error
	// FindByUser returns the newest logs first.
	FindByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*entity.JobLog, error)
	// DeleteOlderThan purges logs scheduled before the given time.
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}
