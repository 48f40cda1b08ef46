package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"ghvault/internal/models"
)

// TaskRepository handles scheduled task database operations.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// FindAll returns all tasks ordered by id.
func (r *TaskRepository) FindAll() ([]models.ScheduledTask, error) {
	var tasks []models.ScheduledTask
	if err := r.db.Order("id").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// FindByID returns a task, or nil when it does not exist.
func (r *TaskRepository) FindByID(id uint) (*models.ScheduledTask, error) {
	var task models.ScheduledTask
	if err := r.db.First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// DueTasks returns active tasks whose next run is at or before now,
// including tasks that never had a next run computed.
func (r *TaskRepository) DueTasks(now time.Time) ([]models.ScheduledTask, error) {
	var tasks []models.ScheduledTask
	err := r.db.
		Where("is_active = ?", true).
		Where("next_run_time IS NULL OR next_run_time <= ?", now).
		Order("next_run_time").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// Create inserts a new task.
func (r *TaskRepository) Create(task *models.ScheduledTask) error {
	return r.db.Create(task).Error
}

// Update updates task fields.
func (r *TaskRepository) Update(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.ScheduledTask{}).Where("id = ?", id).Updates(updates).Error
}

// SetActive flips the active flag.
func (r *TaskRepository) SetActive(id uint, active bool) error {
	return r.db.Model(&models.ScheduledTask{}).Where("id = ?", id).
		Update("is_active", active).Error
}

// UpdateNextRun stores the next fire time.
func (r *TaskRepository) UpdateNextRun(id uint, next time.Time) error {
	return r.db.Model(&models.ScheduledTask{}).Where("id = ?", id).
		Update("next_run_time", next).Error
}

// RecordRun stores the outcome of a finished run and bumps the counters.
func (r *TaskRepository) RecordRun(taskID uint, lastRun time.Time, nextRun *time.Time, result string, success bool) error {
	updates := map[string]interface{}{
		"last_run_time": lastRun,
		"last_result":   result,
		"run_count":     gorm.Expr("run_count + 1"),
	}
	if nextRun != nil {
		updates["next_run_time"] = *nextRun
	}
	if success {
		updates["success_count"] = gorm.Expr("success_count + 1")
	} else {
		updates["error_count"] = gorm.Expr("error_count + 1")
	}
	return r.db.Model(&models.ScheduledTask{}).Where("id = ?", taskID).Updates(updates).Error
}
