package totp

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/filex"
)

// Sealer encrypts short strings under the vault key. *cryptox.Engine
// implements it.
type Sealer interface {
	EncryptToBase64(plaintext string) (string, error)
	DecryptFromBase64(encoded string) (string, error)
}

// SecretStore keeps the TOTP secret on disk encrypted under the vault key,
// so it is only readable after the passphrase has been verified.
type SecretStore struct {
	path string
}

// NewSecretStore returns a store for the file at path.
func NewSecretStore(path string) *SecretStore {
	return &SecretStore{path: path}
}

// Exists reports whether a TOTP secret has been saved, i.e. whether TOTP is
// enabled.
func (s *SecretStore) Exists() bool {
	return filex.Exists(s.path)
}

// Save encrypts secret with sealer and writes it.
func (s *SecretStore) Save(sealer Sealer, secret string) error {
	enc, err := sealer.EncryptToBase64(secret)
	if err != nil {
		return fmt.Errorf("encrypt totp secret: %w", err)
	}
	return filex.WriteFileAtomic(s.path, []byte(enc), filex.PrivateFileMode)
}

// Load reads and decrypts the secret. It returns common.ErrNotFound when
// TOTP is not enabled and common.ErrAuthentication when the file does not
// decrypt under sealer.
func (s *SecretStore) Load(sealer Sealer) (string, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", common.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return sealer.DecryptFromBase64(strings.TrimSpace(string(b)))
}

// Delete removes the secret, disabling TOTP. A missing file is not an error.
func (s *SecretStore) Delete() error {
	return filex.RemoveIfExists(s.path)
}
