// Package cryptox implements key derivation and authenticated encryption for
// vault data.
package cryptox

import (
	"fmt"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	// KeySize is the AES-256 key length produced by the KDF.
	KeySize = 32
	// SaltSize is the length of freshly generated vault salts.
	SaltSize = 32
	// NonceSize is the AES-GCM nonce length.
	NonceSize = 12

	// MaxKDFTime and MaxKDFMemory (KiB) cap the argon2id cost accepted for
	// new vaults and from vault headers.
	MaxKDFTime   = 64
	MaxKDFMemory = 4 * 1024 * 1024
)

// KDFParams are the argon2id cost parameters.
//
// Memory is expressed in KiB, as argon2.IDKey expects.
type KDFParams struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// DefaultKDFParams returns the production cost parameters:
// 3 passes over 64 MiB with 4 lanes.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 3, Memory: 64 * 1024, Threads: 4}
}

// TestKDFParams returns deliberately cheap parameters for unit tests.
// Never use them for real vaults.
func TestKDFParams() KDFParams {
	return KDFParams{Time: 1, Memory: 8 * 1024, Threads: 1}
}

// IsZero reports whether p is unset.
func (p KDFParams) IsZero() bool {
	return p.Time == 0 && p.Memory == 0 && p.Threads == 0
}

// Validate checks that p can be used by argon2id and is within the bounds
// accepted when a vault is opened: 1..MaxKDFTime passes, at least one lane
// and between 8 KiB per lane and MaxKDFMemory of memory. Failures wrap
// common.ErrValidation.
func (p KDFParams) Validate() error {
	switch {
	case p.Time < 1 || p.Time > MaxKDFTime:
		return fmt.Errorf("%w: kdf time must be between 1 and %d, got %d", common.ErrValidation, MaxKDFTime, p.Time)
	case p.Threads < 1:
		return fmt.Errorf("%w: kdf threads must be at least 1", common.ErrValidation)
	case p.Memory < 8*uint32(p.Threads):
		return fmt.Errorf("%w: kdf memory must be at least %d KiB for %d threads, got %d",
			common.ErrValidation, 8*uint32(p.Threads), p.Threads, p.Memory)
	case p.Memory > MaxKDFMemory:
		return fmt.Errorf("%w: kdf memory must not exceed %d KiB, got %d", common.ErrValidation, MaxKDFMemory, p.Memory)
	}
	return nil
}

func (p KDFParams) orDefault() KDFParams {
	if p.IsZero() {
		return DefaultKDFParams()
	}
	return p
}

// DeriveMasterKey derives a KeySize-byte key from password and salt with
// argon2id. Identical inputs always yield the same key.
func DeriveMasterKey(password []byte, salt []byte, p KDFParams) []byte {
	p = p.orDefault()
	return argon2.IDKey(password, salt, p.Time, p.Memory, p.Threads, KeySize)
}
