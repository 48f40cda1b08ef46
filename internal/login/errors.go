package login

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies a login failure. Kinds drive retry decisions and the
// escalation from the HTTP strategy to the browser strategy.
type Kind string

const (
	KindConfiguration      Kind = "configuration_error"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindTOTPRejected       Kind = "totp_rejected"
	KindAntiAutomation     Kind = "anti_automation_blocked"
	KindTimeout            Kind = "timeout"
	KindNetwork            Kind = "network_error"
	KindUnexpectedPage     Kind = "unexpected_page"
	KindShutdown           Kind = "shutdown_interrupted"
)

// Error is a classified login failure. Message must never contain
// credential material; callers construct messages from page state and
// usernames only.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Retryable reports whether another attempt with the same credentials
// could plausibly succeed. Deterministic rejections are not retried.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindNetwork, KindUnexpectedPage:
		return true
	default:
		return false
	}
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: err}
}

// Classify normalizes an arbitrary error into a login Error. Context
// cancellation maps to shutdown, deadline expiry to timeout, transport
// failures to network errors.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var le *Error
	if errors.As(err, &le) {
		return le
	}

	switch {
	case errors.Is(err, context.Canceled):
		return wrapError(KindShutdown, err, "interrupted by shutdown")
	case errors.Is(err, context.DeadlineExceeded):
		return wrapError(KindTimeout, err, "deadline exceeded")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return wrapError(KindTimeout, err, "request timed out")
		}
		return wrapError(KindNetwork, err, "network failure")
	}

	// resty wraps url.Error around context errors; the string check
	// catches wrappers that drop the sentinel.
	msg := err.Error()
	if strings.Contains(msg, "context canceled") {
		return wrapError(KindShutdown, err, "interrupted by shutdown")
	}
	if strings.Contains(msg, "context deadline exceeded") || strings.Contains(msg, "Client.Timeout") {
		return wrapError(KindTimeout, err, "request timed out")
	}

	return wrapError(KindNetwork, err, "request failed")
}
