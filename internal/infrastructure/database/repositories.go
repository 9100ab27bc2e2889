package database

import (
	"github.com/wekeepgrowing/timesync/internal/adapter/repository"
	domainRepo "github.com/wekeepgrowing/timesync/internal/domain/repository"
	"github.com/wekeepgrowing/timesync/internal/infrastructure/crypto"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Repositories holds all repository instances
type Repositories struct {
	User      domainRepo.UserRepository
	TimeEntry domainRepo.TimeEntrySyncedObjectRepository
	JobLog    domainRepo.JobLogRepository
}

// NewRepositories creates new repository instances with database connection
func NewRepositories(db *gorm.DB, box crypto.SecretBox, logger *zap.Logger) *Repositories {
	return &Repositories{
		User:      repository.NewUserRepository(db, box, logger),
		TimeEntry: repository.NewTimeEntrySyncedObjectRepository(db, logger),
		JobLog:    repository.NewJobLogRepository(db),
	}
}
