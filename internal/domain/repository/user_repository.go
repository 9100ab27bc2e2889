package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wekeepgrowing/timesync/internal/domain/entity"
)

type UserRepository interface {
	// FindByID returns nil without error when the user does not exist.
	FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error)
	FindAll(ctx context.Context) ([]*entity.User, error)
	Save(ctx context.Context, user *entity.User) error
	// ReplaceMappings replaces the whole mapping list of the user.
	ReplaceMappings(ctx context.Context, userID uuid.UUID, mappings []*entity.Mapping) error
	// UpdateJobLastSuccessfullyDone only ever moves the watermark forward.
	UpdateJobLastSuccessfullyDone(ctx context.Context, userID uuid.UUID, jobType entity.JobType, at time.Time) error
}
