package login

import (
	"context"

	"go.uber.org/zap"

	"ghvault/internal/config"
	"ghvault/internal/models"
)

// Engine chains the HTTP tier with the browser tier. The browser runs
// only when the HTTP tier was blocked by an anti-automation challenge;
// every other failure is returned as-is.
type Engine struct {
	primary  Strategy
	fallback Strategy
	logger   *zap.Logger
}

func NewEngine(primary, fallback Strategy, logger *zap.Logger) *Engine {
	return &Engine{primary: primary, fallback: fallback, logger: logger}
}

func (e *Engine) Name() string {
	return "two-tier"
}

func (e *Engine) Execute(ctx context.Context, creds Credentials, targetURL string) Outcome {
	out := e.primary.Execute(ctx, creds, targetURL)
	if out.Err == nil || out.Err.Kind != KindAntiAutomation || e.fallback == nil {
		return out
	}

	e.logger.Info("escalating to browser strategy",
		zap.Uint("account_id", creds.AccountID),
		zap.String("username", creds.Username),
		zap.String("reason", out.Err.Message))

	escalated := e.fallback.Execute(ctx, creds, targetURL)
	escalated.Attempts += out.Attempts
	return escalated
}

// SetupRegistry wires the default strategies for every known task type.
func SetupRegistry(cfg *config.Config, logger *zap.Logger) *Registry {
	registry := NewRegistry()

	for taskType, oauth := range map[string]bool{
		models.TaskTypeOAuthLogin:   true,
		models.TaskTypeWebsiteLogin: false,
	} {
		http := NewLightweight(cfg.HTTP.UserAgent, cfg.HTTP.Timeout, oauth, logger.Named("login.http"))
		browser := NewBrowser(cfg.Browser.PoolSize, cfg.Browser.WaitWindow, cfg.Browser.Headless, cfg.HTTP.UserAgent, oauth, logger.Named("login.browser"))
		registry.Register(taskType, NewEngine(http, browser, logger.Named("login.engine")))
	}
	return registry
}
