package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ghvault/internal/handler/api"
	"ghvault/internal/middleware"
	"ghvault/internal/repository"
	"ghvault/internal/scheduler"
	"ghvault/internal/vault"
)

// Setup configures all routes for the Echo server.
func Setup(
	e *echo.Echo,
	db *gorm.DB,
	sched *scheduler.Scheduler,
	credVault *vault.Vault,
	triggerDeduper middleware.TriggerDeduper,
	apiKey string,
	logger *zap.Logger,
) {
	// Global middleware
	e.Use(echomw.Recover())
	e.Use(middleware.CORS())

	taskHandler := api.NewTaskHandler(
		repository.NewTaskRepository(db),
		repository.NewExecutionLogRepository(db),
		sched,
		triggerDeduper,
		logger,
	)
	accountHandler := api.NewAccountHandler(
		repository.NewAccountRepository(db),
		credVault,
		logger,
	)

	// Health endpoint stays unauthenticated for probes.
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"scheduler": sched.Status(),
		})
	})

	apiGroup := e.Group("/api")
	apiGroup.Use(middleware.APIAuth(apiKey))

	apiGroup.GET("/tasks", taskHandler.List)
	apiGroup.GET("/tasks/:id", taskHandler.Get)
	apiGroup.POST("/tasks/:id/run", taskHandler.Run)
	apiGroup.POST("/tasks/:id/toggle", taskHandler.Toggle)
	apiGroup.GET("/tasks/:id/logs", taskHandler.Logs)

	apiGroup.GET("/accounts", accountHandler.List)
	apiGroup.GET("/accounts/totp", accountHandler.TOTP)
}
