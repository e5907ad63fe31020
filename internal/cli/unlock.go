package cli

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/session"
	"github.com/dmitrijs2005/vaultkeeper/internal/timex"
	"github.com/dmitrijs2005/vaultkeeper/internal/totp"
	"github.com/dmitrijs2005/vaultkeeper/internal/usbkey"
)

// unlock prompts for the master passphrase and opens the vault.
func (a *App) unlock(ctx context.Context) error {
	pass, err := GetPassword(a.out, "Master passphrase: ")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pass)
	return a.unlockWith(ctx, pass)
}

// unlockWith opens the vault with pass and then checks the second factors
// that are enabled. A TOTP verification is remembered in the session file
// for session.TOTPValidity unless the session expires first. A registered
// USB key must be connected on every unlock.
func (a *App) unlockWith(ctx context.Context, pass []byte) error {
	if !a.storage.Exists() {
		return errNoVault
	}
	if err := a.storage.Initialize(ctx, pass); err != nil {
		return err
	}

	prev, err := a.sessions.Load(ctx, pass)
	if err != nil {
		prev = nil
	}

	var totpAt *time.Time
	if a.totpStore.Exists() {
		if session.TOTPStillValid(prev, a.now()) {
			totpAt = prev.TOTPVerifiedAt
		} else {
			if err := a.verifyTOTP(ctx); err != nil {
				a.close()
				return err
			}
			now := a.now().UTC()
			totpAt = &now
		}
	}

	if a.usb.IsDeviceRegistered() {
		if err := a.verifyUSBKey(ctx, pass); err != nil {
			a.close()
			return err
		}
	}

	rec := session.Record{
		TOTPVerifiedAt:  totpAt,
		AutoLockTimeout: timex.Duration{Duration: a.cfg.AutoLockTimeout},
		VaultPath:       a.cfg.VaultPath,
	}
	if prev != nil {
		rec.CreatedAt = prev.CreatedAt
	}
	if err := a.sessions.Save(ctx, pass, rec); err != nil {
		a.log.Warn(ctx, "could not persist session", "error", err.Error())
	}
	return nil
}

func (a *App) verifyTOTP(ctx context.Context) error {
	secret, err := a.totpStore.Load(a.storage.Engine())
	if err != nil {
		return err
	}
	v, err := totp.New(secret)
	if err != nil {
		return err
	}
	defer v.Clear()

	code, err := GetSimpleText(a.in, "Authenticator code:", a.out)
	if err != nil {
		return err
	}
	if !v.VerifyCodeAt(code, a.now()) {
		a.log.Warn(ctx, "totp verification failed")
		return common.ErrAuthentication
	}
	return nil
}

// connectedKey returns the connected device matching the registration.
func (a *App) connectedKey(ctx context.Context) (usbkey.Device, error) {
	registered, err := a.usb.GetRegisteredDevice()
	if err != nil {
		return usbkey.Device{}, err
	}
	devices, err := a.usb.ListAvailableDevices(ctx)
	if err != nil {
		return usbkey.Device{}, err
	}
	for _, d := range devices {
		if registered.Matches(d) {
			return d, nil
		}
	}
	return usbkey.Device{}, errNoKey
}

func (a *App) verifyUSBKey(ctx context.Context, pass []byte) error {
	d, err := a.connectedKey(ctx)
	if errors.Is(err, common.ErrAuthentication) {
		a.log.Warn(ctx, "usb key registration is damaged", "error", err.Error())
	}
	if err != nil {
		return err
	}
	return a.usb.VerifyDevice(d, pass)
}
