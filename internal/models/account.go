package models

import "time"

// Account kinds.
const (
	AccountKindGitHub     = "github"
	AccountKindAPIWebsite = "api_website"
)

// CredentialAccount stores an external account whose secrets are encrypted
// at rest. Encrypted columns never appear in API responses.
type CredentialAccount struct {
	ID                  uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Kind                string    `gorm:"column:kind;size:30;index:idx_credential_accounts_kind" json:"kind"`
	Username            string    `gorm:"column:username;size:120" json:"username"`
	EncryptedPassword   string    `gorm:"column:encrypted_password;type:text" json:"-"`
	EncryptedTOTPSecret string    `gorm:"column:encrypted_totp_secret;type:text" json:"-"`
	GroupTag            string    `gorm:"column:group_tag;size:60" json:"group_tag"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (CredentialAccount) TableName() string {
	return "credential_accounts"
}

// HasTOTP reports whether a TOTP secret is stored for the account.
func (a *CredentialAccount) HasTOTP() bool {
	return a.EncryptedTOTPSecret != ""
}
