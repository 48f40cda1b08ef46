package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"ghvault/internal/config"
	"ghvault/internal/login"
	"ghvault/internal/models"
)

type fakeVault struct{}

func (fakeVault) Decrypt(token string) (string, error) {
	if plain, ok := strings.CutPrefix(token, "enc:"); ok {
		return plain, nil
	}
	return "", fmt.Errorf("verification failed")
}

type recordedRun struct {
	taskID  uint
	nextRun *time.Time
	result  string
	success bool
}

type fakeTasks struct {
	mu          sync.Mutex
	records     []recordedRun
	deactivated []uint
}

func (f *fakeTasks) RecordRun(taskID uint, lastRun time.Time, nextRun *time.Time, result string, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, recordedRun{taskID: taskID, nextRun: nextRun, result: result, success: success})
	return nil
}

func (f *fakeTasks) SetActive(id uint, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !active {
		f.deactivated = append(f.deactivated, id)
	}
	return nil
}

func (f *fakeTasks) wasDeactivated(id uint) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, got := range f.deactivated {
		if got == id {
			return true
		}
	}
	return false
}

func (f *fakeTasks) last(t *testing.T) recordedRun {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.records) == 0 {
		t.Fatal("no run was recorded")
	}
	return f.records[len(f.records)-1]
}

type fakeAccounts struct {
	accounts []models.CredentialAccount
}

func (f *fakeAccounts) FindByIDs(ids []uint) ([]models.CredentialAccount, error) {
	var found []models.CredentialAccount
	for _, account := range f.accounts {
		for _, id := range ids {
			if account.ID == id {
				found = append(found, account)
			}
		}
	}
	return found, nil
}

type fakeLogs struct {
	mu       sync.Mutex
	appended int
	sealed   []models.TaskExecutionLog
}

func (f *fakeLogs) Append(entry *models.TaskExecutionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended++
	entry.ID = uint(f.appended)
	return nil
}

func (f *fakeLogs) Seal(entry *models.TaskExecutionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sealed = append(f.sealed, *entry)
	return nil
}

func (f *fakeLogs) lastSealed(t *testing.T) models.TaskExecutionLog {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sealed) == 0 {
		t.Fatal("log was never sealed")
	}
	return f.sealed[len(f.sealed)-1]
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) NotifyFailure(taskName, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, taskName+": "+message)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// scriptedStrategy returns canned outcomes per username.
type scriptedStrategy struct {
	mu      sync.Mutex
	calls   map[string]int
	outcome func(creds login.Credentials, call int) login.Outcome
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) Execute(ctx context.Context, creds login.Credentials, _ string) login.Outcome {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[creds.Username]++
	call := s.calls[creds.Username]
	s.mu.Unlock()
	return s.outcome(creds, call)
}

func (s *scriptedStrategy) callCount(username string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[username]
}

func successOutcome(creds login.Credentials) login.Outcome {
	return login.Outcome{
		AccountID: creds.AccountID,
		Username:  creds.Username,
		Status:    login.StatusSuccess,
		Artifact:  &login.SessionArtifact{Method: login.MethodHTTP, LoginTime: time.Now().UTC()},
	}
}

func failedOutcome(creds login.Credentials, kind login.Kind, msg string) login.Outcome {
	return login.Outcome{
		AccountID: creds.AccountID,
		Username:  creds.Username,
		Status:    login.StatusFailed,
		Err:       &login.Error{Kind: kind, Message: msg},
	}
}

type harness struct {
	executor *Executor
	strategy *scriptedStrategy
	tasks    *fakeTasks
	logs     *fakeLogs
	notifier *fakeNotifier
}

func newHarness(outcome func(login.Credentials, int) login.Outcome) *harness {
	strategy := &scriptedStrategy{outcome: outcome}
	registry := login.NewRegistry()
	registry.Register(models.TaskTypeWebsiteLogin, strategy)

	tasks := &fakeTasks{}
	logs := &fakeLogs{}
	notifier := &fakeNotifier{}
	accounts := &fakeAccounts{accounts: []models.CredentialAccount{
		{ID: 1, Username: "alice", EncryptedPassword: "enc:pw1", EncryptedTOTPSecret: "enc:GEZDGNBV"},
		{ID: 2, Username: "bob", EncryptedPassword: "enc:pw2"},
		{ID: 3, Username: "carol", EncryptedPassword: "garbage"},
	}}

	cfg := config.SchedulerConfig{
		RetryCount:     3,
		AccountTimeout: 5 * time.Second,
		TaskTimeout:    time.Minute,
	}
	executor := New(cfg, registry, fakeVault{}, tasks, accounts, logs, notifier, zap.NewNop())
	executor.backoffStep = time.Millisecond
	executor.backoffCap = 5 * time.Millisecond
	return &harness{
		executor: executor,
		strategy: strategy,
		tasks:    tasks,
		logs:     logs,
		notifier: notifier,
	}
}

func testTask(accountIDs string) *models.ScheduledTask {
	return &models.ScheduledTask{
		ID:             7,
		Name:           "nightly check-in",
		TaskType:       models.TaskTypeWebsiteLogin,
		CronExpression: "*/5 * * * *",
		TaskParams:     fmt.Sprintf(`{"target_website":"https://example.com","account_ids":[%s]}`, accountIDs),
		IsActive:       true,
	}
}

func TestRunAllAccountsSucceed(t *testing.T) {
	h := newHarness(func(creds login.Credentials, _ int) login.Outcome {
		if creds.Password == "" {
			t.Error("strategy received empty password")
		}
		return successOutcome(creds)
	})

	h.executor.Run(context.Background(), testTask("1,2"), models.TriggerCron)

	sealed := h.logs.lastSealed(t)
	if sealed.Status != models.LogStatusSuccess {
		t.Fatalf("log status = %q, want success (result %q)", sealed.Status, sealed.ResultMessage)
	}
	if !strings.HasPrefix(sealed.ResultMessage, "2/2 succeeded") {
		t.Fatalf("result = %q, want 2/2 succeeded prefix", sealed.ResultMessage)
	}
	if sealed.EndTime == nil || sealed.Duration < 0 {
		t.Fatal("sealed log missing end time or duration")
	}

	rec := h.tasks.last(t)
	if !rec.success {
		t.Fatal("run not recorded as success")
	}
	if rec.nextRun == nil || !rec.nextRun.After(time.Now().UTC().Add(-time.Second)) {
		t.Fatalf("next run not advanced: %v", rec.nextRun)
	}
	if h.notifier.count() != 0 {
		t.Fatal("success must not notify")
	}

	var data map[string]json.RawMessage
	if err := json.Unmarshal([]byte(sealed.ExecutionData), &data); err != nil {
		t.Fatalf("execution data is not JSON: %v", err)
	}
	if string(data["trigger"]) != `"cron"` {
		t.Fatalf("execution data trigger = %s", data["trigger"])
	}
}

func TestRunPartialFailureFailsTask(t *testing.T) {
	h := newHarness(func(creds login.Credentials, _ int) login.Outcome {
		if creds.Username == "bob" {
			return failedOutcome(creds, login.KindInvalidCredentials, "target rejected credentials")
		}
		return successOutcome(creds)
	})

	h.executor.Run(context.Background(), testTask("1,2"), models.TriggerCron)

	sealed := h.logs.lastSealed(t)
	if sealed.Status != models.LogStatusFailed {
		t.Fatalf("log status = %q, want failed", sealed.Status)
	}
	if !strings.HasPrefix(sealed.ResultMessage, "1/2 succeeded") {
		t.Fatalf("result = %q, want 1/2 succeeded prefix", sealed.ResultMessage)
	}
	if !strings.Contains(sealed.ErrorDetails, "invalid_credentials") {
		t.Fatalf("error details = %q, want invalid_credentials", sealed.ErrorDetails)
	}

	// Deterministic rejection: exactly one attempt, no retries.
	if n := h.strategy.callCount("bob"); n != 1 {
		t.Fatalf("bob attempted %d times, want 1", n)
	}
	// A failing account does not stop later accounts.
	if n := h.strategy.callCount("alice"); n != 1 {
		t.Fatalf("alice attempted %d times, want 1", n)
	}
	if h.notifier.count() != 1 {
		t.Fatalf("notifications = %d, want 1", h.notifier.count())
	}
}

func TestExecutionDataCarriesPerAccountErrors(t *testing.T) {
	h := newHarness(func(creds login.Credentials, _ int) login.Outcome {
		if creds.Username == "bob" {
			return failedOutcome(creds, login.KindInvalidCredentials, "target rejected credentials")
		}
		return successOutcome(creds)
	})

	h.executor.Run(context.Background(), testTask("1,2"), models.TriggerCron)

	var data struct {
		Outcomes []struct {
			Username     string  `json:"username"`
			Status       string  `json:"status"`
			Duration     float64 `json:"duration_s"`
			ErrorKind    string  `json:"error_kind"`
			ErrorMessage string  `json:"error_message"`
		} `json:"outcomes"`
	}
	sealed := h.logs.lastSealed(t)
	if err := json.Unmarshal([]byte(sealed.ExecutionData), &data); err != nil {
		t.Fatalf("execution data is not JSON: %v", err)
	}
	if len(data.Outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(data.Outcomes))
	}
	for _, out := range data.Outcomes {
		switch out.Username {
		case "alice":
			if out.Status != login.StatusSuccess || out.ErrorKind != "" {
				t.Fatalf("alice outcome = %+v, want clean success", out)
			}
		case "bob":
			if out.Status != login.StatusFailed {
				t.Fatalf("bob status = %q, want failed", out.Status)
			}
			if out.ErrorKind != string(login.KindInvalidCredentials) {
				t.Fatalf("bob error kind = %q, want invalid_credentials", out.ErrorKind)
			}
			if out.ErrorMessage == "" {
				t.Fatal("bob outcome lost its error message")
			}
		default:
			t.Fatalf("unexpected outcome for %q", out.Username)
		}
		if out.Duration < 0 {
			t.Fatalf("duration = %f, want >= 0", out.Duration)
		}
	}
}

func TestRunRetriesTransientFailures(t *testing.T) {
	h := newHarness(func(creds login.Credentials, call int) login.Outcome {
		if call < 3 {
			return failedOutcome(creds, login.KindNetwork, "connection reset")
		}
		return successOutcome(creds)
	})

	h.executor.Run(context.Background(), testTask("2"), models.TriggerCron)

	if n := h.strategy.callCount("bob"); n != 3 {
		t.Fatalf("attempts = %d, want 3", n)
	}
	sealed := h.logs.lastSealed(t)
	if sealed.Status != models.LogStatusSuccess {
		t.Fatalf("log status = %q, want success after retry", sealed.Status)
	}
}

func TestRunInvalidParamsFailsFast(t *testing.T) {
	h := newHarness(func(creds login.Credentials, _ int) login.Outcome {
		t.Error("strategy must not run for invalid params")
		return successOutcome(creds)
	})

	task := testTask("1")
	task.TaskParams = `{"retry_count": 2}`
	h.executor.Run(context.Background(), task, models.TriggerCron)

	sealed := h.logs.lastSealed(t)
	if sealed.Status != models.LogStatusFailed {
		t.Fatalf("log status = %q, want failed", sealed.Status)
	}
	if !strings.Contains(sealed.ResultMessage, "configuration error") {
		t.Fatalf("result = %q, want configuration error", sealed.ResultMessage)
	}
}

func TestRunUndecryptableCredentials(t *testing.T) {
	h := newHarness(func(creds login.Credentials, _ int) login.Outcome {
		t.Error("strategy must not see undecryptable accounts")
		return successOutcome(creds)
	})

	h.executor.Run(context.Background(), testTask("3"), models.TriggerCron)

	sealed := h.logs.lastSealed(t)
	if sealed.Status != models.LogStatusFailed {
		t.Fatalf("log status = %q, want failed", sealed.Status)
	}
	if strings.Contains(sealed.ResultMessage, "garbage") || strings.Contains(sealed.ErrorDetails, "garbage") {
		t.Fatal("sealed log leaks ciphertext")
	}
	if !strings.Contains(sealed.ErrorDetails, "cannot be decrypted") {
		t.Fatalf("error details = %q", sealed.ErrorDetails)
	}
}

func TestRunNoResolvableAccountsFailsFast(t *testing.T) {
	h := newHarness(func(creds login.Credentials, _ int) login.Outcome {
		t.Error("strategy must not run when no account resolves")
		return successOutcome(creds)
	})

	h.executor.Run(context.Background(), testTask("41,42"), models.TriggerCron)

	sealed := h.logs.lastSealed(t)
	if sealed.Status != models.LogStatusFailed {
		t.Fatalf("log status = %q, want failed", sealed.Status)
	}
	if !strings.Contains(sealed.ResultMessage, "configuration error") {
		t.Fatalf("result = %q, want configuration error", sealed.ResultMessage)
	}
	if !strings.Contains(sealed.ErrorDetails, string(login.KindConfiguration)) {
		t.Fatalf("error details = %q, want configuration kind", sealed.ErrorDetails)
	}
}

func TestUnschedulableCronParksTask(t *testing.T) {
	h := newHarness(func(creds login.Credentials, _ int) login.Outcome {
		return successOutcome(creds)
	})

	task := testTask("1")
	task.CronExpression = "not a cron"
	h.executor.Run(context.Background(), task, models.TriggerCron)

	rec := h.tasks.last(t)
	if rec.nextRun != nil {
		t.Fatalf("next run = %v for an unschedulable expression, want nil", rec.nextRun)
	}
	if !h.tasks.wasDeactivated(task.ID) {
		t.Fatal("task with an unschedulable cron expression stayed active and due")
	}
}

func TestRunMissingAccountSkipped(t *testing.T) {
	h := newHarness(func(creds login.Credentials, _ int) login.Outcome {
		return successOutcome(creds)
	})

	h.executor.Run(context.Background(), testTask("1,42"), models.TriggerCron)

	sealed := h.logs.lastSealed(t)
	if sealed.Status != models.LogStatusFailed {
		t.Fatalf("log status = %q, want failed when an account is missing", sealed.Status)
	}
	if !strings.Contains(sealed.ResultMessage, "account 42") {
		t.Fatalf("result = %q, want a line for account 42", sealed.ResultMessage)
	}
}

func TestRunShutdownSealsLog(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(func(creds login.Credentials, _ int) login.Outcome {
		cancel()
		<-ctx.Done()
		out := failedOutcome(creds, login.KindShutdown, "interrupted by shutdown")
		return out
	})

	h.executor.Run(ctx, testTask("1,2"), models.TriggerCron)

	sealed := h.logs.lastSealed(t)
	if sealed.Status != models.LogStatusFailed {
		t.Fatalf("log status = %q, want failed", sealed.Status)
	}
	if sealed.EndTime == nil {
		t.Fatal("interrupted run was not sealed")
	}
	if !strings.Contains(sealed.ErrorDetails, "shutdown") {
		t.Fatalf("error details = %q, want shutdown marker", sealed.ErrorDetails)
	}
	// Later accounts are skipped, not attempted.
	if n := h.strategy.callCount("bob"); n != 0 {
		t.Fatalf("bob attempted %d times after shutdown, want 0", n)
	}
}

func TestRunPanicIsSealed(t *testing.T) {
	h := newHarness(func(creds login.Credentials, _ int) login.Outcome {
		panic("boom")
	})

	h.executor.Run(context.Background(), testTask("1"), models.TriggerCron)

	sealed := h.logs.lastSealed(t)
	if sealed.Status != models.LogStatusFailed {
		t.Fatalf("log status = %q, want failed", sealed.Status)
	}
	if !strings.Contains(sealed.ResultMessage, "panic") {
		t.Fatalf("result = %q, want panic marker", sealed.ResultMessage)
	}
	rec := h.tasks.last(t)
	if rec.success {
		t.Fatal("panicked run recorded as success")
	}
}

func TestResultMessageTruncated(t *testing.T) {
	h := newHarness(func(creds login.Credentials, _ int) login.Outcome {
		return failedOutcome(creds, login.KindUnexpectedPage, strings.Repeat("x", 2000))
	})

	task := testTask("1")
	task.TaskParams = `{"target_website":"https://example.com","account_ids":[1],"retry_count":1}`
	h.executor.Run(context.Background(), task, models.TriggerCron)

	sealed := h.logs.lastSealed(t)
	if len(sealed.ResultMessage) > 500 {
		t.Fatalf("result message length = %d, want <= 500", len(sealed.ResultMessage))
	}
}
