package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"ghvault/internal/repository"
	"ghvault/internal/totp"
	"ghvault/internal/vault"
)

// AccountHandler serves credential account endpoints. Encrypted columns
// never leave the process; the TOTP endpoint returns generated passcodes
// only, never the secrets behind them.
type AccountHandler struct {
	accounts *repository.AccountRepository
	vault    *vault.Vault
	logger   *zap.Logger
}

func NewAccountHandler(accounts *repository.AccountRepository, v *vault.Vault, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, vault: v, logger: logger}
}

// List returns accounts without secret material.
func (h *AccountHandler) List(c echo.Context) error {
	accounts, err := h.accounts.FindAll(c.QueryParam("kind"), c.QueryParam("group"))
	if err != nil {
		h.logger.Error("Failed to list accounts", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "failed to load accounts")
	}
	return successResponse(c, "ok", accounts)
}

type totpEntry struct {
	AccountID        uint   `json:"account_id"`
	Username         string `json:"username"`
	Token            string `json:"token,omitempty"`
	SecondsRemaining int    `json:"seconds_remaining,omitempty"`
	Error            string `json:"error,omitempty"`
}

// TOTP returns a current passcode for every account that stores a TOTP
// secret. Accounts whose secret cannot be used report an error entry
// instead of failing the whole batch.
func (h *AccountHandler) TOTP(c echo.Context) error {
	accounts, err := h.accounts.FindAll(c.QueryParam("kind"), c.QueryParam("group"))
	if err != nil {
		h.logger.Error("Failed to load accounts for passcodes", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "failed to load accounts")
	}

	now := time.Now()
	entries := make([]totpEntry, 0, len(accounts))
	for _, account := range accounts {
		if !account.HasTOTP() {
			continue
		}
		entry := totpEntry{AccountID: account.ID, Username: account.Username}

		secret, err := h.vault.Decrypt(account.EncryptedTOTPSecret)
		if err != nil {
			entry.Error = "stored passcode secret cannot be decrypted"
			entries = append(entries, entry)
			continue
		}
		code, err := totp.Generate(secret, now)
		if err != nil {
			entry.Error = "stored passcode secret is not valid base32"
			entries = append(entries, entry)
			continue
		}
		entry.Token = code.Token
		entry.SecondsRemaining = code.SecondsRemaining
		entries = append(entries, entry)
	}
	return successResponse(c, "ok", entries)
}
