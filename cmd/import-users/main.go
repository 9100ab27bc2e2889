package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/wekeepgrowing/timesync/internal/config"
	"github.com/wekeepgrowing/timesync/internal/domain/entity"
	"github.com/wekeepgrowing/timesync/internal/infrastructure/crypto"
	"github.com/wekeepgrowing/timesync/internal/infrastructure/database"
	"github.com/wekeepgrowing/timesync/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("usage: %s <users.yaml>", os.Args[0])
	}
	path := os.Args[1]

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	zapLogger, err := logger.NewZapLogger(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: "stdout",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	users, err := loadUsersFromYAML(path, time.Now())
	if err != nil {
		zapLogger.Fatal("Failed to load users", zap.String("path", path), zap.Error(err))
	}

	// Initialize database connection
	db, err := database.NewConnection(&cfg.Database, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, zapLogger); err != nil {
			zapLogger.Error("Failed to close database connection", zap.Error(err))
		}
	}()

	// Run migrations
	if err := database.Migrate(db, zapLogger); err != nil {
		zapLogger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	box, err := crypto.NewAESSecretBox(cfg.Crypto.Key)
	if err != nil {
		zapLogger.Fatal("Failed to initialize secret box", zap.Error(err))
	}
	repos := database.NewRepositories(db, box, zapLogger)

	ctx := context.Background()
	imported := 0
	for _, user := range users {
		existing, err := repos.User.FindByID(ctx, user.ID)
		if err != nil {
			zapLogger.Error("Failed to look up user", zap.String("user_id", user.ID.String()), zap.Error(err))
			continue
		}
		if existing != nil {
			keepState(user, existing)
		}
		if err := repos.User.Save(ctx, user); err != nil {
			zapLogger.Error("Failed to save user",
				zap.String("user_id", user.ID.String()),
				zap.String("username", user.Username),
				zap.Error(err))
			continue
		}
		zapLogger.Info("User imported",
			zap.String("user_id", user.ID.String()),
			zap.String("username", user.Username),
			zap.Bool("updated", existing != nil))
		imported++
	}

	zapLogger.Info("Import completed",
		zap.Int("users_in_file", len(users)),
		zap.Int("users_imported", imported))
}

// keepState carries the registration time and job watermarks of an already
// stored user over to the re-imported definition.
func keepState(user, existing *entity.User) {
	user.RegisteredAt = existing.RegisteredAt
	for _, jobType := range entity.JobTypes {
		user.Job(jobType).LastSuccessfullyDone = existing.Job(jobType).LastSuccessfullyDone
	}
}
