package job

import (
	"sync"

	"github.com/wekeepgrowing/timesync/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/timesync/internal/domain/errors"
	"github.com/wekeepgrowing/timesync/internal/domain/service"
	"go.uber.org/zap"
)

// Recorder collects the errors of one run.
type Recorder struct {
	mu     sync.Mutex
	errors []entity.JobError
	logger *zap.Logger
}

func NewRecorder(logger *zap.Logger) *Recorder {
	return &Recorder{errors: []entity.JobError{}, logger: logger}
}

// Fetch records a failure to read authoritative data.
func (r *Recorder) Fetch(serviceName string, err error) {
	r.add(entity.ErrorCategoryFetch, serviceName, err)
}

// Operation records a failed create, update or delete.
func (r *Recorder) Operation(serviceName string, err error) {
	r.add(entity.ErrorCategoryOperation, serviceName, err)
}

func (r *Recorder) Consistency(err error) {
	r.add(entity.ErrorCategoryConsistency, "", err)
}

func (r *Recorder) Internal(err error) {
	r.add(entity.ErrorCategoryInternal, "", err)
}

// Errors returns a copy of the recorded errors.
func (r *Recorder) Errors() []entity.JobError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entity.JobError{}, r.errors...)
}

// add classifies err; rejected credentials and consistency violations keep
// their own category whatever the call site.
func (r *Recorder) add(category entity.ErrorCategory, serviceName string, err error) {
	switch {
	case service.IsAuthorization(err):
		category = entity.ErrorCategoryAuthorization
	case domainErrors.IsConsistency(err):
		category = entity.ErrorCategoryConsistency
	case domainErrors.IsFetch(err):
		category = entity.ErrorCategoryFetch
	}

	r.logger.Warn("Job operation failed",
		zap.String("category", string(category)),
		zap.String("service", serviceName),
		zap.Error(err))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, entity.JobError{
		Category: category,
		Service:  serviceName,
		Message:  err.Error(),
	})
}
