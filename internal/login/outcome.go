// Package login implements the two-tier login engine: a lightweight HTTP
// strategy that drives login forms directly, and a browser strategy that
// takes over when the target serves an anti-automation challenge.
package login

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Per-account outcome statuses.
const (
	StatusSuccess              = "success"
	StatusAlreadyAuthenticated = "already_authenticated"
	StatusFailed               = "failed"
	StatusSkipped              = "skipped"
)

// Login methods recorded in session artifacts.
const (
	MethodHTTP    = "http"
	MethodBrowser = "browser"
)

// Credentials is the decrypted material for one login attempt. Values
// live only for the duration of the attempt and are never logged.
type Credentials struct {
	AccountID  uint
	Username   string
	Password   string
	TOTPSecret string
}

// SessionArtifact captures proof of an authenticated session without
// storing the session itself.
type SessionArtifact struct {
	Method      string    `json:"method"`
	FinalURL    string    `json:"final_url"`
	CookieCount int       `json:"cookie_count"`
	CookieNames []string  `json:"cookie_names,omitempty"`
	Balance     string    `json:"balance,omitempty"`
	LoginTime   time.Time `json:"login_time"`
}

// Outcome is the result of executing a strategy for one account.
type Outcome struct {
	AccountID uint             `json:"account_id"`
	Username  string           `json:"username"`
	Status    string           `json:"status"`
	Attempts  int              `json:"attempts"`
	Duration  float64          `json:"duration_s,omitempty"`
	Artifact  *SessionArtifact `json:"artifact,omitempty"`
	Err       *Error           `json:"-"`
}

// MarshalJSON flattens the error into kind and message fields so the
// per-account breakdown stored with execution logs keeps the failure
// taxonomy. The error value itself stays out of the wire shape.
func (o Outcome) MarshalJSON() ([]byte, error) {
	type plain Outcome
	view := struct {
		plain
		ErrorKind    Kind   `json:"error_kind,omitempty"`
		ErrorMessage string `json:"error_message,omitempty"`
	}{plain: plain(o)}
	if o.Err != nil {
		view.ErrorKind = o.Err.Kind
		view.ErrorMessage = o.Err.Message
	}
	return json.Marshal(view)
}

// ErrorMessage renders the outcome's error for logs and result lines.
func (o Outcome) ErrorMessage() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Strategy performs one complete login attempt for one account against
// one target website.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, creds Credentials, targetURL string) Outcome
}

// Registry maps task types to login strategies. Registration happens at
// startup; lookups are read-only afterwards but locked anyway so tests
// can register fakes concurrently.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register binds a task type to a strategy, replacing any previous binding.
func (r *Registry) Register(taskType string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[taskType] = s
}

// Get returns the strategy for a task type.
func (r *Registry) Get(taskType string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[taskType]
	if !ok {
		return nil, fmt.Errorf("no login strategy registered for task type %q (known: %v)", taskType, r.known())
	}
	return s, nil
}

func (r *Registry) known() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
