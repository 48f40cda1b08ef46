package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Task types dispatched to login strategies.
const (
	TaskTypeOAuthLogin   = "github_oauth_login"
	TaskTypeWebsiteLogin = "website_login"
)

// ScheduledTask is a cron-driven automation task owned by the scheduler.
// Definitions are created through the external CRUD API; the scheduler and
// executor only mutate run statistics, timestamps and the active flag.
type ScheduledTask struct {
	ID             uint       `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name           string     `gorm:"column:name;size:100" json:"name"`
	Description    string     `gorm:"column:description;type:text" json:"description"`
	TaskType       string     `gorm:"column:task_type;size:50;index:idx_scheduled_tasks_type" json:"task_type"`
	CronExpression string     `gorm:"column:cron_expression;size:100" json:"cron_expression"`
	Timezone       string     `gorm:"column:timezone;size:64" json:"timezone"`
	TaskParams     string     `gorm:"column:task_params;type:longtext" json:"task_params"`
	IsActive       bool       `gorm:"column:is_active;default:true;index:idx_scheduled_tasks_active" json:"is_active"`
	LastRunTime    *time.Time `gorm:"column:last_run_time" json:"last_run_time"`
	NextRunTime    *time.Time `gorm:"column:next_run_time;index:idx_scheduled_tasks_next_run" json:"next_run_time"`
	LastResult     string     `gorm:"column:last_result;size:500" json:"last_result"`
	RunCount       int        `gorm:"column:run_count;default:0" json:"run_count"`
	SuccessCount   int        `gorm:"column:success_count;default:0" json:"success_count"`
	ErrorCount     int        `gorm:"column:error_count;default:0" json:"error_count"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (ScheduledTask) TableName() string {
	return "scheduled_tasks"
}

// TaskParams is the decoded task_params payload shared by all task types.
type TaskParams struct {
	TargetWebsite string `json:"target_website"`
	AccountIDs    []uint `json:"account_ids"`
	RetryCount    int    `json:"retry_count"`

	// Optional per-task overrides, in seconds. Zero means "use the
	// configured defaults".
	AccountTimeoutSeconds int `json:"account_timeout_seconds,omitempty"`
	TaskTimeoutSeconds    int `json:"task_timeout_seconds,omitempty"`
}

// legacyTaskParams accepts the field name used by old task rows.
type legacyTaskParams struct {
	GitHubAccountIDs []uint `json:"github_account_ids"`
}

// ParseTaskParams decodes and validates a task_params JSON document.
func ParseTaskParams(raw string) (*TaskParams, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("task_params is empty")
	}

	var params TaskParams
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("invalid task_params: %w", err)
	}

	if len(params.AccountIDs) == 0 {
		var legacy legacyTaskParams
		if err := json.Unmarshal([]byte(raw), &legacy); err == nil {
			params.AccountIDs = legacy.GitHubAccountIDs
		}
	}

	if strings.TrimSpace(params.TargetWebsite) == "" {
		return nil, fmt.Errorf("task_params missing target_website")
	}
	if len(params.AccountIDs) == 0 {
		return nil, fmt.Errorf("task_params missing account ids")
	}
	if params.RetryCount < 0 {
		params.RetryCount = 0
	}

	return &params, nil
}
