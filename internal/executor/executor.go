// Package executor runs one scheduled task end to end: decrypt the
// accounts, drive the login strategy per account with retries, and seal
// an execution log exactly once no matter how the run ends.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ghvault/internal/config"
	"ghvault/internal/login"
	"ghvault/internal/models"
	"ghvault/internal/scheduler"
)

// Incremental backoff between retries of the same account.
const (
	retryBackoffStep = 2 * time.Second
	retryBackoffCap  = 30 * time.Second
)

// TaskStore persists the run statistics of a task.
type TaskStore interface {
	RecordRun(taskID uint, lastRun time.Time, nextRun *time.Time, result string, success bool) error
	SetActive(id uint, active bool) error
}

// AccountStore loads credential accounts.
type AccountStore interface {
	FindByIDs(ids []uint) ([]models.CredentialAccount, error)
}

// LogStore persists execution logs.
type LogStore interface {
	Append(entry *models.TaskExecutionLog) error
	Seal(entry *models.TaskExecutionLog) error
}

// Decrypter opens encrypted credential columns.
type Decrypter interface {
	Decrypt(token string) (string, error)
}

// Notifier reports failed runs to operators.
type Notifier interface {
	NotifyFailure(taskName, message string)
}

// Executor implements scheduler.Runner.
type Executor struct {
	cfg      config.SchedulerConfig
	registry *login.Registry
	vault    Decrypter
	tasks    TaskStore
	accounts AccountStore
	logs     LogStore
	notifier Notifier
	logger   *zap.Logger

	backoffStep time.Duration
	backoffCap  time.Duration
}

func New(cfg config.SchedulerConfig, registry *login.Registry, vault Decrypter, tasks TaskStore, accounts AccountStore, logs LogStore, notifier Notifier, logger *zap.Logger) *Executor {
	return &Executor{
		cfg:         cfg,
		registry:    registry,
		vault:       vault,
		tasks:       tasks,
		accounts:    accounts,
		logs:        logs,
		notifier:    notifier,
		logger:      logger,
		backoffStep: retryBackoffStep,
		backoffCap:  retryBackoffCap,
	}
}

// Run executes the task. The context carries the scheduler's lifetime;
// cancellation interrupts in-flight attempts and the run is sealed as
// failed with a shutdown marker.
func (e *Executor) Run(ctx context.Context, task *models.ScheduledTask, trigger string) {
	start := time.Now().UTC()
	entry := &models.TaskExecutionLog{
		TaskID:    task.ID,
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartTime: start,
		Status:    models.LogStatusRunning,
	}
	if err := e.logs.Append(entry); err != nil {
		e.logger.Error("Failed to open execution log", zap.Uint("task_id", task.ID), zap.Error(err))
	}

	sealed := false
	seal := func(status, result, errorDetails, executionData string) {
		if sealed {
			return
		}
		sealed = true
		end := time.Now().UTC()
		entry.Status = status
		entry.ResultMessage = truncate(result, 500)
		entry.ErrorDetails = errorDetails
		entry.ExecutionData = executionData
		entry.EndTime = &end
		entry.Duration = end.Sub(start).Seconds()
		if err := e.logs.Seal(entry); err != nil {
			e.logger.Error("Failed to seal execution log", zap.Uint("task_id", task.ID), zap.Error(err))
		}

		e.recordRun(task, start, entry.ResultMessage, status == models.LogStatusSuccess)

		if status != models.LogStatusSuccess && e.notifier != nil {
			e.notifier.NotifyFailure(task.Name, entry.ResultMessage)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic during task execution",
				zap.Uint("task_id", task.ID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			seal(models.LogStatusFailed, "panic during execution", fmt.Sprintf("%v", r), "")
		}
	}()

	e.logger.Info("Task run started",
		zap.Uint("task_id", task.ID),
		zap.String("name", task.Name),
		zap.String("run_id", entry.RunID),
		zap.String("trigger", trigger))

	params, err := models.ParseTaskParams(task.TaskParams)
	if err != nil {
		seal(models.LogStatusFailed, "configuration error: "+err.Error(), err.Error(), "")
		return
	}
	strategy, err := e.registry.Get(task.TaskType)
	if err != nil {
		seal(models.LogStatusFailed, "configuration error: "+err.Error(), err.Error(), "")
		return
	}

	accounts, err := e.accounts.FindByIDs(params.AccountIDs)
	if err != nil {
		seal(models.LogStatusFailed, "failed to load accounts: "+err.Error(), err.Error(), "")
		return
	}
	byID := make(map[uint]*models.CredentialAccount, len(accounts))
	for i := range accounts {
		byID[accounts[i].ID] = &accounts[i]
	}
	if len(byID) == 0 {
		seal(models.LogStatusFailed,
			"configuration error: none of the configured account ids match stored accounts",
			fmt.Sprintf("[%s] no accounts resolved", login.KindConfiguration), "")
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, e.taskTimeout(params))
	defer cancel()

	outcomes := make([]login.Outcome, 0, len(params.AccountIDs))
	for _, id := range params.AccountIDs {
		if taskCtx.Err() != nil {
			outcomes = append(outcomes, skippedOutcome(id, byID, taskCtx.Err()))
			continue
		}

		account, ok := byID[id]
		if !ok {
			outcomes = append(outcomes, login.Outcome{
				AccountID: id,
				Status:    login.StatusSkipped,
				Err:       &login.Error{Kind: login.KindConfiguration, Message: fmt.Sprintf("account %d not found", id)},
			})
			continue
		}

		outcomes = append(outcomes, e.runAccount(taskCtx, strategy, account, params))
	}

	status, result := summarize(outcomes)
	data, _ := json.Marshal(map[string]interface{}{
		"run_id":   entry.RunID,
		"trigger":  trigger,
		"target":   params.TargetWebsite,
		"outcomes": outcomes,
	})
	seal(status, result, errorDetails(outcomes), string(data))

	e.logger.Info("Task run finished",
		zap.Uint("task_id", task.ID),
		zap.String("run_id", entry.RunID),
		zap.String("status", status),
		zap.Float64("duration_s", entry.Duration))
}

// runAccount decrypts one account and drives the strategy with retries.
// Plaintext credentials live only inside this call.
func (e *Executor) runAccount(ctx context.Context, strategy login.Strategy, account *models.CredentialAccount, params *models.TaskParams) (out login.Outcome) {
	started := time.Now()
	defer func() { out.Duration = time.Since(started).Seconds() }()

	creds := login.Credentials{AccountID: account.ID, Username: account.Username}

	password, err := e.vault.Decrypt(account.EncryptedPassword)
	if err != nil {
		out = login.Outcome{AccountID: account.ID, Username: account.Username, Status: login.StatusFailed}
		out.Err = &login.Error{Kind: login.KindConfiguration, Message: "stored password cannot be decrypted"}
		return out
	}
	creds.Password = password

	if account.HasTOTP() {
		secret, err := e.vault.Decrypt(account.EncryptedTOTPSecret)
		if err != nil {
			out = login.Outcome{AccountID: account.ID, Username: account.Username, Status: login.StatusFailed}
			out.Err = &login.Error{Kind: login.KindConfiguration, Message: "stored passcode secret cannot be decrypted"}
			return out
		}
		creds.TOTPSecret = secret
	}

	attempts := e.attemptBudget(params)
	accountTimeout := e.accountTimeout(params)

	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, accountTimeout)
		out = strategy.Execute(attemptCtx, creds, params.TargetWebsite)
		cancel()
		out.Attempts = attempt

		if out.Err == nil || !out.Err.Retryable() {
			break
		}
		if attempt == attempts {
			break
		}

		backoff := time.Duration(attempt) * e.backoffStep
		if backoff > e.backoffCap {
			backoff = e.backoffCap
		}
		e.logger.Warn("Login attempt failed, retrying",
			zap.Uint("account_id", account.ID),
			zap.String("username", account.Username),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.String("error", out.Err.Error()))

		select {
		case <-ctx.Done():
			out.Err = login.Classify(ctx.Err())
			return out
		case <-time.After(backoff):
		}
	}
	return out
}

func (e *Executor) recordRun(task *models.ScheduledTask, lastRun time.Time, result string, success bool) {
	var nextRun *time.Time
	next, err := scheduler.NextRun(task.CronExpression, task.Timezone, time.Now().UTC())
	if err != nil {
		// Park the task. Leaving the old next_run_time in place would
		// keep it due and redispatch it on every tick; re-activation
		// revalidates the expression.
		e.logger.Error("Cannot compute next run, deactivating task",
			zap.Uint("task_id", task.ID),
			zap.String("cron", task.CronExpression),
			zap.Error(err))
		if derr := e.tasks.SetActive(task.ID, false); derr != nil {
			e.logger.Error("Failed to deactivate task", zap.Uint("task_id", task.ID), zap.Error(derr))
		}
	} else {
		nextRun = &next
	}
	if err := e.tasks.RecordRun(task.ID, lastRun, nextRun, result, success); err != nil {
		e.logger.Error("Failed to record run statistics", zap.Uint("task_id", task.ID), zap.Error(err))
	}
}

func (e *Executor) attemptBudget(params *models.TaskParams) int {
	if params.RetryCount > 0 {
		return params.RetryCount
	}
	if e.cfg.RetryCount > 0 {
		return e.cfg.RetryCount
	}
	return 1
}

func (e *Executor) accountTimeout(params *models.TaskParams) time.Duration {
	if params.AccountTimeoutSeconds > 0 {
		return time.Duration(params.AccountTimeoutSeconds) * time.Second
	}
	return e.cfg.AccountTimeout
}

func (e *Executor) taskTimeout(params *models.TaskParams) time.Duration {
	if params.TaskTimeoutSeconds > 0 {
		return time.Duration(params.TaskTimeoutSeconds) * time.Second
	}
	return e.cfg.TaskTimeout
}

func skippedOutcome(id uint, byID map[uint]*models.CredentialAccount, cause error) login.Outcome {
	out := login.Outcome{AccountID: id, Status: login.StatusSkipped, Err: login.Classify(cause)}
	if account, ok := byID[id]; ok {
		out.Username = account.Username
	}
	return out
}

// summarize folds per-account outcomes into the task status and result
// message. A run succeeds only when every account ended authenticated.
func summarize(outcomes []login.Outcome) (string, string) {
	succeeded := 0
	var lines []string
	for _, out := range outcomes {
		switch out.Status {
		case login.StatusSuccess, login.StatusAlreadyAuthenticated:
			succeeded++
			line := fmt.Sprintf("- %s: %s", out.Username, out.Status)
			if out.Artifact != nil && out.Artifact.Balance != "" {
				line += " (balance " + out.Artifact.Balance + ")"
			}
			lines = append(lines, line)
		default:
			name := out.Username
			if name == "" {
				name = fmt.Sprintf("account %d", out.AccountID)
			}
			lines = append(lines, fmt.Sprintf("- %s: %s (%s)", name, out.Status, out.ErrorMessage()))
		}
	}

	result := fmt.Sprintf("%d/%d succeeded\n%s", succeeded, len(outcomes), strings.Join(lines, "\n"))
	if succeeded == len(outcomes) && len(outcomes) > 0 {
		return models.LogStatusSuccess, result
	}
	return models.LogStatusFailed, result
}

func errorDetails(outcomes []login.Outcome) string {
	var details []string
	for _, out := range outcomes {
		if out.Err == nil {
			continue
		}
		name := out.Username
		if name == "" {
			name = fmt.Sprintf("account %d", out.AccountID)
		}
		details = append(details, fmt.Sprintf("%s: [%s] %s", name, out.Err.Kind, out.Err.Message))
	}
	return strings.Join(details, "\n")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
