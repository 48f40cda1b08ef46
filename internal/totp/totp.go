// Package totp generates RFC 6238 time-based one-time passcodes from
// base32 secrets, matching the parameters GitHub and common authenticator
// apps use: SHA-1, 6 digits, 30 second steps.
package totp

import (
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const period = 30

// ErrInvalidSecretFormat is returned for secrets that are not valid
// base32 after normalization.
var ErrInvalidSecretFormat = errors.New("totp: invalid secret format")

// Code is a generated passcode together with its remaining validity.
type Code struct {
	Token string `json:"token"`
	// SecondsRemaining counts down from 29 to 0 within the current
	// 30 second step.
	SecondsRemaining int `json:"seconds_remaining"`
}

// Normalize strips spaces and dashes and upper-cases a base32 secret, the
// way authenticator apps display them.
func Normalize(secret string) string {
	cleaned := strings.NewReplacer(" ", "", "-", "").Replace(secret)
	return strings.ToUpper(strings.TrimSpace(cleaned))
}

// Generate produces the passcode for the given secret at the given time.
func Generate(secret string, at time.Time) (Code, error) {
	normalized := Normalize(secret)
	if normalized == "" {
		return Code{}, ErrInvalidSecretFormat
	}

	token, err := totp.GenerateCodeCustom(normalized, at, totp.ValidateOpts{
		Period:    period,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return Code{}, ErrInvalidSecretFormat
	}

	return Code{
		Token:            token,
		SecondsRemaining: period - 1 - int(at.Unix()%period),
	}, nil
}

// Verify checks a passcode against the secret, accepting one step of
// clock skew in either direction.
func Verify(passcode, secret string, at time.Time) bool {
	ok, err := totp.ValidateCustom(passcode, Normalize(secret), at, totp.ValidateOpts{
		Period:    period,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
