package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wekeepgrowing/timesync/internal/domain/entity"
)

type TimeEntrySyncedObjectRepository interface {
	Create(ctx context.Context, teso *entity.TimeEntrySyncedObject) error
	Replace(ctx context.Context, teso *entity.TimeEntrySyncedObject) error
	Delete(ctx context.Context, id uuid.UUID) error
	Archive(ctx context.Context, id uuid.UUID) error
	// FindByUser returns the records dated at or after since, archived ones included.
	FindByUser(ctx context.Context, userID uuid.UUID, since time.Time) ([]*entity.TimeEntrySyncedObject, error)
	// FindByServiceEntry finds the record holding the given remote entry, nil if none.
	FindByServiceEntry(ctx context.Context, userID uuid.UUID, service, entryID string) (*entity.TimeEntrySyncedObject, error)
}
