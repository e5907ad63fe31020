package cryptox

import (
	"encoding/base64"
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/dmitrijs2005/vaultkeeper/internal/common"
)

// Engine holds a derived vault key and its salt and performs authenticated
// encryption with it.
//
// The key lives in a memguard enclave: it is encrypted at rest in process
// memory and only decrypted into a locked buffer for the duration of a single
// Encrypt/Decrypt call. The zero value is usable and uses DefaultKDFParams.
//
// An Engine is not safe for concurrent mutation (DeriveKey, SetKey, Clear).
type Engine struct {
	params KDFParams
	key    *memguard.Enclave
	salt   []byte
}

// NewEngine returns an engine that derives keys with params.
func NewEngine(params KDFParams) *Engine {
	return &Engine{params: params}
}

// Params returns the KDF parameters used by DeriveKey.
func (e *Engine) Params() KDFParams {
	return e.params.orDefault()
}

// DeriveKey derives the vault key from passphrase and salt and installs it
// in the engine. When salt is nil a fresh random SaltSize-byte salt is
// generated. The returned key is a copy owned by the caller, who should wipe
// it once done.
func (e *Engine) DeriveKey(passphrase []byte, salt []byte) (key, usedSalt []byte, err error) {
	if salt == nil {
		salt = common.GenerateRandByteArray(SaltSize)
	}
	if len(salt) == 0 {
		return nil, nil, fmt.Errorf("%w: empty salt", common.ErrValidation)
	}

	derived := DeriveMasterKey(passphrase, salt, e.Params())
	key = append([]byte(nil), derived...)

	e.install(derived, salt)
	return key, e.Salt(), nil
}

// SetKey installs a raw KeySize-byte key. The salt is left unchanged.
func (e *Engine) SetKey(key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("%w: key must be %d bytes, got %d", common.ErrValidation, KeySize, len(key))
	}
	e.install(append([]byte(nil), key...), e.salt)
	return nil
}

// install takes ownership of key; memguard wipes it once sealed.
func (e *Engine) install(key, salt []byte) {
	e.key = memguard.NewEnclave(key)
	e.salt = append([]byte(nil), salt...)
}

// Salt returns a copy of the current salt, or nil if none is set.
func (e *Engine) Salt() []byte {
	if e.salt == nil {
		return nil
	}
	return append([]byte(nil), e.salt...)
}

// HasKey reports whether a key is installed.
func (e *Engine) HasKey() bool {
	return e.key != nil
}

// Encrypt seals plaintext under the installed key with a fresh nonce.
func (e *Engine) Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	return e.EncryptWithAD(plaintext, nil)
}

// Decrypt opens ciphertext. Any failure returns common.ErrAuthentication.
func (e *Engine) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	return e.DecryptWithAD(ciphertext, nonce, nil)
}

// EncryptWithAD is Encrypt with additional authenticated data bound to the
// ciphertext. The same ad must be supplied to DecryptWithAD.
func (e *Engine) EncryptWithAD(plaintext, ad []byte) (ciphertext, nonce []byte, err error) {
	if e.key == nil {
		return nil, nil, common.ErrConfiguration
	}

	buf, err := e.key.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open key enclave: %w", err)
	}
	defer buf.Destroy()

	aead, err := newGCM(buf.Bytes())
	if err != nil {
		return nil, nil, err
	}

	nonce = common.GenerateRandByteArray(NonceSize)
	ciphertext = aead.Seal(nil, nonce, plaintext, ad)
	return ciphertext, nonce, nil
}

// DecryptWithAD opens ciphertext that was sealed with ad. A wrong key,
// modified ciphertext, nonce or ad, and malformed input are not
// distinguished: all return common.ErrAuthentication.
func (e *Engine) DecryptWithAD(ciphertext, nonce, ad []byte) ([]byte, error) {
	if e.key == nil {
		return nil, common.ErrConfiguration
	}
	if len(nonce) != NonceSize {
		return nil, common.ErrAuthentication
	}

	buf, err := e.key.Open()
	if err != nil {
		return nil, common.ErrAuthentication
	}
	defer buf.Destroy()

	aead, err := newGCM(buf.Bytes())
	if err != nil {
		return nil, common.ErrAuthentication
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, common.ErrAuthentication
	}
	return plaintext, nil
}

// EncryptToBase64 encrypts plaintext and returns standard base64 of
// nonce || ciphertext.
func (e *Engine) EncryptToBase64(plaintext string) (string, error) {
	ct, nonce, err := e.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(append(nonce, ct...)), nil
}

// DecryptFromBase64 reverses EncryptToBase64. Malformed base64 or input
// shorter than a nonce yields common.ErrAuthentication.
func (e *Engine) DecryptFromBase64(encoded string) (string, error) {
	if e.key == nil {
		return "", common.ErrConfiguration
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) < NonceSize {
		return "", common.ErrAuthentication
	}
	pt, err := e.Decrypt(raw[NonceSize:], raw[:NonceSize])
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(pt)
	return string(pt), nil
}

// Clear drops the key and wipes the salt. The engine then behaves as if no
// key had ever been derived.
func (e *Engine) Clear() {
	e.key = nil
	common.WipeByteArray(e.salt)
	e.salt = nil
}
