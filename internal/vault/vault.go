// Package vault encrypts credential columns at rest with fernet tokens.
// Decrypted values are handed to callers as plain strings and must not be
// persisted or logged; callers hold them only for the duration of a single
// login attempt.
package vault

import (
	"errors"

	"github.com/fernet/fernet-go"
)

var (
	// ErrNoKey is returned when the vault was built without a key.
	ErrNoKey = errors.New("vault: no encryption key configured")
	// ErrDecrypt is returned for tokens that fail verification. The token
	// itself is never included in the error.
	ErrDecrypt = errors.New("vault: token verification failed")
)

// Vault wraps a fernet key ring. The first key encrypts; all keys decrypt,
// which allows key rotation without re-encrypting existing rows.
type Vault struct {
	keys []*fernet.Key
}

// New builds a vault from one or more base64 fernet keys.
func New(encodedKeys ...string) (*Vault, error) {
	if len(encodedKeys) == 0 || encodedKeys[0] == "" {
		return nil, ErrNoKey
	}
	keys, err := fernet.DecodeKeys(encodedKeys...)
	if err != nil {
		return nil, err
	}
	return &Vault{keys: keys}, nil
}

// Encrypt seals a plaintext secret into a fernet token.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(plaintext), v.keys[0])
	if err != nil {
		return "", err
	}
	return string(tok), nil
}

// Decrypt opens a fernet token. Tokens do not expire; age checks would
// break long-lived stored credentials.
func (v *Vault) Decrypt(token string) (string, error) {
	msg := fernet.VerifyAndDecrypt([]byte(token), 0, v.keys)
	if msg == nil {
		return "", ErrDecrypt
	}
	return string(msg), nil
}
