package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wekeepgrowing/timesync/internal/domain/entity"
	"github.com/wekeepgrowing/timesync/internal/domain/model"
	"github.com/wekeepgrowing/timesync/internal/domain/repository"
	"github.com/wekeepgrowing/timesync/internal/infrastructure/crypto"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type userRepository struct {
	db     *gorm.DB
	box    crypto.SecretBox
	logger *zap.Logger
}

func NewUserRepository(db *gorm.DB, box crypto.SecretBox, logger *zap.Logger) repository.UserRepository {
	return &userRepository{
		db:     db,
		box:    box,
		logger: logger,
	}
}

func (r *userRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Preload("Mappings").Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return userToEntity(&user, r.box)
}

func (r *userRepository) FindAll(ctx context.Context) ([]*entity.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).Preload("Mappings").Order("registered_at").Find(&users).Error; err != nil {
		return nil, err
	}

	result := make([]*entity.User, 0, len(users))
	for i := range users {
		user, err := userToEntity(&users[i], r.box)
		if err != nil {
			r.logger.Error("Skipping unreadable user",
				zap.String("user_id", users[i].ID.String()),
				zap.Error(err))
			continue
		}
		result = append(result, user)
	}
	return result, nil
}

// Save upserts the user row. Mappings are written through ReplaceMappings.
func (r *userRepository) Save(ctx context.Context, user *entity.User) error {
	m, err := userToModel(user, r.box)
	if err != nil {
		return err
	}
	m.Mappings = nil

	return r.db.WithContext(ctx).Omit(clause.Associations).Save(m).Error
}

func (r *userRepository) ReplaceMappings(ctx context.Context, userID uuid.UUID, mappings []*entity.Mapping) error {
	rows := make([]model.Mapping, 0, len(mappings))
	for _, m := range mappings {
		rows = append(rows, mappingToModel(userID, m))
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&model.Mapping{}).Error; err != nil {
			return fmt.Errorf("failed to clear mappings: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 200).Error; err != nil {
			return fmt.Errorf("failed to insert mappings: %w", err)
		}
		return nil
	})
}

func (r *userRepository) UpdateJobLastSuccessfullyDone(ctx context.Context, userID uuid.UUID, jobType entity.JobType, at time.Time) error {
	column, ok := model.WatermarkColumn(string(jobType))
	if !ok {
		return fmt.Errorf("unknown job type %q", jobType)
	}

	result := r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Where(fmt.Sprintf("%s IS NULL OR %s < ?", column, column), at).
		Update(column, at)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		r.logger.Debug("Watermark not advanced",
			zap.String("user_id", userID.String()),
			zap.String("job_type", string(jobType)),
			zap.Time("at", at))
	}
	return nil
}

// userToEntity converts a model.User to entity.User, decrypting API keys
func userToEntity(m *model.User, box crypto.SecretBox) (*entity.User, error) {
	defs := make([]entity.ServiceDefinition, 0, len(m.ServiceDefinitions))
	for _, d := range m.ServiceDefinitions {
		apiKey, err := box.Open(d.EncryptedAPIKey, d.APIKeyNonce)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt api key of service %s: %w", d.Name, err)
		}
		defs = append(defs, entity.ServiceDefinition{
			Name:      d.Name,
			IsPrimary: d.IsPrimary,
			APIKey:    apiKey,
			Config: entity.ServiceConfig{
				APIURL:            d.APIURL,
				WorkspaceID:       d.WorkspaceID,
				UserID:            d.ExternalUserID,
				DefaultActivityID: d.DefaultActivityID,
			},
		})
	}

	mappings := make([]*entity.Mapping, 0, len(m.Mappings))
	for i := range m.Mappings {
		mappings = append(mappings, mappingToEntity(&m.Mappings[i]))
	}

	return &entity.User{
		ID:                 m.ID,
		Username:           m.Username,
		RegisteredAt:       m.RegisteredAt,
		DaysToSync:         m.DaysToSync,
		ServiceDefinitions: defs,
		ConfigSyncJob: entity.JobDefinition{
			Schedule:             m.ConfigSyncSchedule,
			LastSuccessfullyDone: m.ConfigSyncLastSuccess,
		},
		TimeEntrySyncJob: entity.JobDefinition{
			Schedule:             m.TimeEntrySyncSchedule,
			LastSuccessfullyDone: m.TimeEntrySyncLastSuccess,
		},
		RemoveObsoleteMappingsJob: entity.JobDefinition{
			Schedule:             m.RemoveObsoleteMappingsSchedule,
			LastSuccessfullyDone: m.RemoveObsoleteMappingsLastSuccess,
		},
		Mappings: mappings,
	}, nil
}

// userToModel converts an entity.User to model.User, encrypting API keys
func userToModel(e *entity.User, box crypto.SecretBox) (*model.User, error) {
	defs := make([]model.ServiceDefinition, 0, len(e.ServiceDefinitions))
	for _, d := range e.ServiceDefinitions {
		sealed, nonce, err := box.Seal(d.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt api key of service %s: %w", d.Name, err)
		}
		defs = append(defs, model.ServiceDefinition{
			Name:              d.Name,
			IsPrimary:         d.IsPrimary,
			EncryptedAPIKey:   sealed,
			APIKeyNonce:       nonce,
			APIURL:            d.Config.APIURL,
			WorkspaceID:       d.Config.WorkspaceID,
			ExternalUserID:    d.Config.UserID,
			DefaultActivityID: d.Config.DefaultActivityID,
		})
	}

	mappings := make([]model.Mapping, 0, len(e.Mappings))
	for _, m := range e.Mappings {
		mappings = append(mappings, mappingToModel(e.ID, m))
	}

	return &model.User{
		ID:                                e.ID,
		Username:                          e.Username,
		RegisteredAt:                      e.RegisteredAt,
		DaysToSync:                        e.DaysToSync,
		ServiceDefinitions:                defs,
		ConfigSyncSchedule:                e.ConfigSyncJob.Schedule,
		ConfigSyncLastSuccess:             e.ConfigSyncJob.LastSuccessfullyDone,
		TimeEntrySyncSchedule:             e.TimeEntrySyncJob.Schedule,
		TimeEntrySyncLastSuccess:          e.TimeEntrySyncJob.LastSuccessfullyDone,
		RemoveObsoleteMappingsSchedule:    e.RemoveObsoleteMappingsJob.Schedule,
		RemoveObsoleteMappingsLastSuccess: e.RemoveObsoleteMappingsJob.LastSuccessfullyDone,
		Mappings:                          mappings,
	}, nil
}

func mappingToEntity(m *model.Mapping) *entity.Mapping {
	objects := make([]entity.MappingsObject, 0, len(m.MappingsObjects))
	for _, o := range m.MappingsObjects {
		objects = append(objects, entity.MappingsObject{
			Service:     o.Service,
			ID:          o.ID,
			Name:        o.Name,
			Type:        entity.ObjectType(o.Type),
			LastUpdated: o.LastUpdated,
		})
	}
	return &entity.Mapping{
		PrimaryObjectID:   m.PrimaryObjectID,
		PrimaryObjectType: entity.ObjectType(m.PrimaryObjectType),
		Name:              m.Name,
		MappingsObjects:   objects,
	}
}

func mappingToModel(userID uuid.UUID, e *entity.Mapping) model.Mapping {
	objects := make([]model.MappingsObject, 0, len(e.MappingsObjects))
	for _, o := range e.MappingsObjects {
		objects = append(objects, model.MappingsObject{
			Service:     o.Service,
			ID:          o.ID,
			Name:        o.Name,
			Type:        string(o.Type),
			LastUpdated: o.LastUpdated,
		})
	}
	return model.Mapping{
		UserID:            userID,
		PrimaryObjectID:   e.PrimaryObjectID,
		PrimaryObjectType: string(e.PrimaryObjectType),
		Name:              e.Name,
		MappingsObjects:   objects,
	}
}
