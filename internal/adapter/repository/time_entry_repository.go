package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/wekeepgrowing/timesync/internal/domain/entity"
	"github.com/wekeepgrowing/timesync/internal/domain/model"
	"github.com/wekeepgrowing/timesync/internal/domain/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type timeEntryRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewTimeEntrySyncedObjectRepository(db *gorm.DB, logger *zap.Logger) repository.TimeEntrySyncedObjectRepository {
	return &timeEntryRepository{
		db:     db,
		logger: logger,
	}
}

func (r *timeEntryRepository) Create(ctx context.Context, teso *entity.TimeEntrySyncedObject) error {
	return r.db.WithContext(ctx).Create(tesoToModel(teso)).Error
}

func (r *timeEntryRepository) Replace(ctx context.Context, teso *entity.TimeEntrySyncedObject) error {
	return r.db.WithContext(ctx).Save(tesoToModel(teso)).Error
}

func (r *timeEntryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.TimeEntrySyncedObject{}).Error
}

func (r *timeEntryRepository) Archive(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&model.TimeEntrySyncedObject{}).
		Where("id = ?", id).
		Update("archived", true).Error
}

func (r *timeEntryRepository) FindByUser(ctx context.Context, userID uuid.UUID, since time.Time) ([]*entity.TimeEntrySyncedObject, error) {
	var rows []model.TimeEntrySyncedObject
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND date >= ?", userID, since).
		Order("date").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make([]*entity.TimeEntrySyncedObject, 0, len(rows))
	for i := range rows {
		result = append(result, tesoToEntity(&rows[i]))
	}
	return result, nil
}

func (r *timeEntryRepository) FindByServiceEntry(ctx context.Context, userID uuid.UUID, service, entryID string) (*entity.TimeEntrySyncedObject, error) {
	contains, err := steoContainment(service, entryID)
	if err != nil {
		return nil, err
	}

	var row model.TimeEntrySyncedObject
	err = r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("service_time_entry_objects @> ?::jsonb", contains).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return tesoToEntity(&row), nil
}

// steoContainment renders the jsonb containment operand matching one STEO.
func steoContainment(service, entryID string) (string, error) {
	payload, err := json.Marshal([]map[string]string{{"service": service, "id": entryID}})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func tesoToEntity(m *model.TimeEntrySyncedObject) *entity.TimeEntrySyncedObject {
	objects := make([]entity.ServiceTimeEntryObject, 0, len(m.ServiceTimeEntryObjects))
	for _, o := range m.ServiceTimeEntryObjects {
		objects = append(objects, entity.ServiceTimeEntryObject{
			Service:  o.Service,
			ID:       o.ID,
			IsOrigin: o.IsOrigin,
		})
	}
	return &entity.TimeEntrySyncedObject{
		ID:                      m.ID,
		UserID:                  m.UserID,
		LastUpdated:             m.LastUpdated,
		Date:                    m.Date,
		Archived:                m.Archived,
		ServiceTimeEntryObjects: objects,
	}
}

func tesoToModel(e *entity.TimeEntrySyncedObject) *model.TimeEntrySyncedObject {
	objects := make([]model.ServiceTimeEntryObject, 0, len(e.ServiceTimeEntryObjects))
	for _, o := range e.ServiceTimeEntryObjects {
		objects = append(objects, model.ServiceTimeEntryObject{
			Service:  o.Service,
			ID:       o.ID,
			IsOrigin: o.IsOrigin,
		})
	}
	return &model.TimeEntrySyncedObject{
		ID:                      e.ID,
		UserID:                  e.UserID,
		LastUpdated:             e.LastUpdated,
		Date:                    e.Date,
		Archived:                e.Archived,
		ServiceTimeEntryObjects: objects,
	}
}
