package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	handlers "github.com/wekeepgrowing/timesync/internal/adapter/handler/http"
	"github.com/wekeepgrowing/timesync/internal/config"
	"github.com/wekeepgrowing/timesync/internal/infrastructure/database"
	"github.com/wekeepgrowing/timesync/internal/middleware/auth"
	"github.com/wekeepgrowing/timesync/pkg/logger"
	"go.uber.org/zap"
)

var operatorRoles = []string{"operator", "admin"}

// Scheduler is what the control plane needs from the job scheduler.
type Scheduler interface {
	handlers.JobController
	Running() bool
}

type Server struct {
	config    *config.Config
	logger    *zap.Logger
	echo      *echo.Echo
	repos     *database.Repositories
	scheduler Scheduler
}

func NewServer(cfg *config.Config, log *zap.Logger, repos *database.Repositories, scheduler Scheduler) *Server {
	e := echo.New()
	e.Validator = handlers.NewRequestValidator()

	logger.WithEchoLogger(e, log)

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(logger.NewEchoRequestLogger(log))
	e.Use(middleware.Recover())

	s := &Server{
		config:    cfg,
		logger:    log,
		echo:      e,
		repos:     repos,
		scheduler: scheduler,
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.HTTP.Host, s.config.Server.HTTP.Port)
	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Health check
	s.echo.GET("/health", func(c echo.Context) error {
		status := http.StatusOK
		state := "healthy"
		if !s.scheduler.Running() {
			status = http.StatusServiceUnavailable
			state = "scheduler stopped"
		}
		return c.JSON(status, map[string]string{
			"status":  state,
			"service": s.config.Service.Name,
		})
	})

	jwtConfig := auth.JWTConfig{
		Secret:    s.config.JWT.Secret,
		Logger:    s.logger,
		SkipPaths: []string{"/health"},
	}

	// Protected routes (require JWT authentication and an operator role)
	v1 := s.echo.Group("/api/v1", auth.JWTMiddleware(jwtConfig), auth.RequireRole(operatorRoles...))

	jobHandler := handlers.NewJobHandler(s.scheduler, s.repos.JobLog, s.logger)
	jobHandler.Register(v1)
}
