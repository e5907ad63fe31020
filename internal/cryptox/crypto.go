package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
)

// MakeVerifier returns a one-way fingerprint of masterKey that can be stored
// and later compared to prove knowledge of the key without keeping the key.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// SealJSON marshals v to JSON and encrypts it with AES-GCM under key
// (16, 24 or 32 bytes). A fresh 12-byte nonce is drawn for every call and
// returned next to the ciphertext. The plaintext is wiped before returning.
//
// Example:
//
//	ciphertext, nonce, err := SealJSON(record, key)
func SealJSON(v any, key []byte) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	defer common.WipeByteArray(plaintext)

	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = common.GenerateRandByteArray(aead.NonceSize())
	ciphertext = aead.Seal(nil, nonce, plaintext, nil)

	return ciphertext, nonce, nil
}

// OpenJSON reverses SealJSON and unmarshals the plaintext into v.
//
// A wrong key, a malformed nonce and modified data all return
// common.ErrAuthentication. A plaintext that does not fit v returns the JSON
// error wrapped.
func OpenJSON(ciphertext, nonce, key []byte, v any) error {
	aead, err := newGCM(key)
	if err != nil {
		return common.ErrAuthentication
	}
	if len(nonce) != aead.NonceSize() {
		return common.ErrAuthentication
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return common.ErrAuthentication
	}
	defer common.WipeByteArray(plaintext)

	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("decode decrypted payload: %w", err)
	}
	return nil
}
