package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"ghvault/internal/middleware"
	"ghvault/internal/models"
	"ghvault/internal/repository"
	"ghvault/internal/scheduler"
)

// TaskHandler serves the scheduled task endpoints.
type TaskHandler struct {
	tasks   *repository.TaskRepository
	logs    *repository.ExecutionLogRepository
	sched   *scheduler.Scheduler
	deduper middleware.TriggerDeduper
	logger  *zap.Logger
}

func NewTaskHandler(tasks *repository.TaskRepository, logs *repository.ExecutionLogRepository, sched *scheduler.Scheduler, deduper middleware.TriggerDeduper, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, logs: logs, sched: sched, deduper: deduper, logger: logger}
}

// List returns all tasks.
func (h *TaskHandler) List(c echo.Context) error {
	tasks, err := h.tasks.FindAll()
	if err != nil {
		h.logger.Error("Failed to list tasks", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "failed to load tasks")
	}
	return successResponse(c, "ok", tasks)
}

// Get returns one task.
func (h *TaskHandler) Get(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid task id")
	}
	task, err := h.tasks.FindByID(id)
	if err != nil {
		h.logger.Error("Failed to load task", zap.Uint("task_id", id), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "failed to load task")
	}
	if task == nil {
		return errorResponse(c, http.StatusNotFound, "task not found")
	}
	return successResponse(c, "ok", task)
}

// Run queues a manual run of the task.
func (h *TaskHandler) Run(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid task id")
	}

	if h.deduper != nil {
		seen, err := h.deduper.Seen(c.Request().Context(), id)
		if err != nil {
			h.logger.Warn("Trigger dedup check failed", zap.Uint("task_id", id), zap.Error(err))
		} else if seen {
			return errorResponse(c, http.StatusTooManyRequests, "task was just triggered")
		}
	}

	switch err := h.sched.Trigger(id); {
	case err == nil:
		return jsonResponse(c, http.StatusAccepted, true, "run started", map[string]interface{}{"task_id": id})
	case errors.Is(err, scheduler.ErrNotFound):
		return errorResponse(c, http.StatusNotFound, "task not found")
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		return errorResponse(c, http.StatusConflict, "task is already running")
	case errors.Is(err, scheduler.ErrAtCapacity):
		return errorResponse(c, http.StatusServiceUnavailable, "all worker slots are busy")
	case errors.Is(err, scheduler.ErrStopped):
		return errorResponse(c, http.StatusServiceUnavailable, "scheduler is shutting down")
	default:
		h.logger.Error("Manual trigger failed", zap.Uint("task_id", id), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "trigger failed")
	}
}

type toggleRequest struct {
	Active bool `json:"active"`
}

// Toggle flips a task's active flag.
func (h *TaskHandler) Toggle(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid task id")
	}
	var req toggleRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid request body")
	}

	switch err := h.sched.Toggle(id, req.Active); {
	case err == nil:
		return successResponse(c, "ok", map[string]interface{}{"task_id": id, "is_active": req.Active})
	case errors.Is(err, scheduler.ErrNotFound):
		return errorResponse(c, http.StatusNotFound, "task not found")
	case errors.Is(err, scheduler.ErrStopped):
		return errorResponse(c, http.StatusServiceUnavailable, "scheduler is shutting down")
	default:
		h.logger.Error("Toggle failed", zap.Uint("task_id", id), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "toggle failed")
	}
}

// Logs returns the most recent execution logs for a task, newest first.
func (h *TaskHandler) Logs(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid task id")
	}
	task, err := h.tasks.FindByID(id)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, "failed to load task")
	}
	if task == nil {
		return errorResponse(c, http.StatusNotFound, "task not found")
	}

	limit := queryInt(c, "limit", 20)
	logs, err := h.logs.FindByTask(id, limit)
	if err != nil {
		h.logger.Error("Failed to load logs", zap.Uint("task_id", id), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "failed to load logs")
	}
	if logs == nil {
		logs = []models.TaskExecutionLog{}
	}
	return successResponse(c, "ok", logs)
}
