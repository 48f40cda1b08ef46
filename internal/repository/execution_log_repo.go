package repository

import (
	"time"

	"gorm.io/gorm"

	"ghvault/internal/models"
)

// ExecutionLogRepository handles task execution log database operations.
type ExecutionLogRepository struct {
	db *gorm.DB
}

func NewExecutionLogRepository(db *gorm.DB) *ExecutionLogRepository {
	return &ExecutionLogRepository{db: db}
}

// Append inserts a running log row for a run that just started.
func (r *ExecutionLogRepository) Append(entry *models.TaskExecutionLog) error {
	return r.db.Create(entry).Error
}

// Seal stores the terminal state of a run.
func (r *ExecutionLogRepository) Seal(entry *models.TaskExecutionLog) error {
	return r.db.Model(&models.TaskExecutionLog{}).Where("id = ?", entry.ID).Updates(map[string]interface{}{
		"status":         entry.Status,
		"result_message": entry.ResultMessage,
		"error_details":  entry.ErrorDetails,
		"execution_data": entry.ExecutionData,
		"end_time":       entry.EndTime,
		"duration":       entry.Duration,
	}).Error
}

// FindByTask returns the most recent logs for a task, newest first.
func (r *ExecutionLogRepository) FindByTask(taskID uint, limit int) ([]models.TaskExecutionLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	var logs []models.TaskExecutionLog
	err := r.db.Where("task_id = ?", taskID).
		Order("start_time DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// PruneBefore deletes sealed logs older than the cutoff and returns how
// many rows were removed.
func (r *ExecutionLogRepository) PruneBefore(cutoff time.Time) (int64, error) {
	res := r.db.Where("start_time < ? AND status <> ?", cutoff, models.LogStatusRunning).
		Delete(&models.TaskExecutionLog{})
	return res.RowsAffected, res.Error
}

// SealStaleRunning marks running rows older than the cutoff as failed.
// Rows like this are left behind by a crash; no worker will ever seal
// them.
func (r *ExecutionLogRepository) SealStaleRunning(cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	res := r.db.Model(&models.TaskExecutionLog{}).
		Where("status = ? AND start_time < ?", models.LogStatusRunning, cutoff).
		Updates(map[string]interface{}{
			"status":         models.LogStatusFailed,
			"result_message": "interrupted: process terminated before the run was sealed",
			"end_time":       now,
		})
	return res.RowsAffected, res.Error
}
