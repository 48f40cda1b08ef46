package models

import "time"

// Execution log statuses.
const (
	LogStatusRunning = "running"
	LogStatusSuccess = "success"
	LogStatusFailed  = "failed"
)

// Trigger sources for a task run.
const (
	TriggerCron   = "cron"
	TriggerManual = "manual"
)

// TaskExecutionLog records one run of a scheduled task. A row is inserted
// with status "running" before the first account is attempted and sealed
// exactly once with a terminal status when the run ends, however it ends.
type TaskExecutionLog struct {
	ID            uint       `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TaskID        uint       `gorm:"column:task_id;index:idx_execution_logs_task" json:"task_id"`
	RunID         string     `gorm:"column:run_id;size:36" json:"run_id"`
	Trigger       string     `gorm:"column:trigger_source;size:20" json:"trigger"`
	StartTime     time.Time  `gorm:"column:start_time" json:"start_time"`
	EndTime       *time.Time `gorm:"column:end_time" json:"end_time"`
	Duration      float64    `gorm:"column:duration" json:"duration"`
	Status        string     `gorm:"column:status;size:20;index:idx_execution_logs_status" json:"status"`
	ResultMessage string     `gorm:"column:result_message;type:text" json:"result_message"`
	ErrorDetails  string     `gorm:"column:error_details;type:text" json:"error_details"`
	ExecutionData string     `gorm:"column:execution_data;type:longtext" json:"execution_data"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (TaskExecutionLog) TableName() string {
	return "task_execution_logs"
}
