// Package totp verifies RFC 6238 time-based one-time codes used as the
// second unlock factor.
package totp

import (
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// DefaultIssuer labels the vault in authenticator apps.
	DefaultIssuer = "VaultKeeper"

	period     = 30
	secretSize = 20
)

var validateOpts = totp.ValidateOpts{
	Period:    period,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Verifier holds a shared TOTP secret.
type Verifier struct {
	secret []byte // normalized base32 text
	raw    []byte
}

// New returns a verifier for secret, a base32 string as shown by
// authenticator apps (case and spaces are ignored). An empty secret
// generates a new random one.
func New(secret string) (*Verifier, error) {
	if secret == "" {
		raw := common.GenerateRandByteArray(secretSize)
		return &Verifier{secret: []byte(b32.EncodeToString(raw)), raw: raw}, nil
	}

	norm := strings.ToUpper(strings.TrimRight(strings.Join(strings.Fields(secret), ""), "="))
	raw, err := b32.DecodeString(norm)
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("%w: totp secret is not valid base32", common.ErrValidation)
	}
	return &Verifier{secret: []byte(norm), raw: raw}, nil
}

// Secret returns the base32 secret.
func (v *Verifier) Secret() string {
	return string(v.secret)
}

// ProvisioningURI returns the otpauth:// URI for enrolling the secret in an
// authenticator app. An empty issuer defaults to DefaultIssuer.
func (v *Verifier) ProvisioningURI(account, issuer string) (string, error) {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if account == "" {
		return "", fmt.Errorf("%w: account name is required", common.ErrValidation)
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      period,
		Secret:      v.raw,
		Digits:      validateOpts.Digits,
		Algorithm:   validateOpts.Algorithm,
	})
	if err != nil {
		return "", err
	}
	return key.URL(), nil
}

// GenerateCode returns the code for the time step containing t.
func (v *Verifier) GenerateCode(t time.Time) (string, error) {
	return totp.GenerateCodeCustom(v.Secret(), t, validateOpts)
}

// VerifyCode checks code against the current time.
func (v *Verifier) VerifyCode(code string) bool {
	return v.VerifyCodeAt(code, time.Now())
}

// VerifyCodeAt checks code against the step containing t and one step on
// either side. Codes are compared in constant time.
func (v *Verifier) VerifyCodeAt(code string, t time.Time) bool {
	if len(v.secret) == 0 {
		return false
	}
	ok, err := totp.ValidateCustom(strings.TrimSpace(code), v.Secret(), t, validateOpts)
	return err == nil && ok
}

// RemainingSeconds returns the seconds left in the time step containing t.
func (v *Verifier) RemainingSeconds(t time.Time) int {
	return period - int(t.Unix()%period)
}

// Clear wipes the secret. A cleared verifier accepts no code.
func (v *Verifier) Clear() {
	common.WipeByteArray(v.secret)
	common.WipeByteArray(v.raw)
	v.secret, v.raw = nil, nil
}
