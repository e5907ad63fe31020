// Package common defines shared sentinel errors and small helpers used across
// VaultKeeper components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// ErrConfiguration is returned when a crypto operation runs before a key
	// has been derived or set.
	ErrConfiguration = errors.New("encryption key not set")

	// ErrAuthentication covers a wrong passphrase, tampered ciphertext, an
	// invalid one-time code and a token mismatch. The cases are deliberately
	// indistinguishable.
	ErrAuthentication = errors.New("authentication failed")

	// Lookup errors (entry id or registered device absent).
	ErrNotFound = errors.New("not found")

	// Malformed entry fields, out-of-range device identity, empty serial number.
	ErrValidation = errors.New("validation error")

	ErrUnsupportedPlatform = errors.New("unsupported platform")
)
