package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/cryptox"
	"github.com/dmitrijs2005/vaultkeeper/internal/filex"
	"github.com/dmitrijs2005/vaultkeeper/internal/session"
	"github.com/dmitrijs2005/vaultkeeper/internal/timex"
	"github.com/dmitrijs2005/vaultkeeper/internal/usbkey"
	"github.com/spf13/cobra"
)

func (r *runner) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new vault protected by a master passphrase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()
			if a.storage.Exists() {
				return errVaultExists
			}

			pass, err := GetNewPassword(a.out, "New master passphrase: ")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(pass)

			if err := a.storage.Initialize(ctx, pass); err != nil {
				return err
			}
			defer a.close()

			rec := session.Record{
				AutoLockTimeout: timex.Duration{Duration: a.cfg.AutoLockTimeout},
				VaultPath:       a.cfg.VaultPath,
			}
			if err := a.sessions.Save(ctx, pass, rec); err != nil {
				a.log.Warn(ctx, "could not persist session", "error", err.Error())
			}
			a.printf("Vault created at %s\n", a.storage.Path())
			return nil
		},
	}
}

func (r *runner) passwdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change the master passphrase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()

			oldPass, err := GetPassword(a.out, "Current master passphrase: ")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(oldPass)

			if err := a.unlockWith(ctx, oldPass); err != nil {
				return err
			}
			defer a.close()

			newPass, err := GetNewPassword(a.out, "New master passphrase: ")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(newPass)

			return a.changePassphrase(ctx, oldPass, newPass)
		},
	}
}

// changePassphrase re-keys the vault and every second factor bound to the
// passphrase. The second factors are rewritten under the new key before the
// vault is replaced; if anything fails their files are rolled back and the
// vault keeps the old passphrase. The previous session is dropped.
func (a *App) changePassphrase(ctx context.Context, oldPass, newPass []byte) error {
	var secret string
	if a.totpStore.Exists() {
		s, err := a.totpStore.Load(a.storage.Engine())
		if err != nil {
			return err
		}
		secret = s
	}

	var device usbkey.Device
	rebind := a.usb.IsDeviceRegistered()
	if rebind {
		d, err := a.usb.GetRegisteredDevice()
		if err != nil {
			return err
		}
		device = d
	}

	snap, err := filex.TakeSnapshot(a.cfg.TOTPSecretPath, a.usb.ConfigPath())
	if err != nil {
		return err
	}

	err = a.storage.ChangePassphrase(ctx, oldPass, newPass, func(next *cryptox.Engine) error {
		if secret != "" {
			if err := a.totpStore.Save(next, secret); err != nil {
				return fmt.Errorf("re-seal totp secret: %w", err)
			}
		}
		if rebind {
			if _, err := a.usb.RegisterDevice(device, newPass); err != nil {
				return fmt.Errorf("re-register usb key: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		if rerr := snap.Restore(); rerr != nil {
			a.log.Error(ctx, "could not roll back second factors", "error", rerr.Error())
		}
		return err
	}

	if err := a.sessions.Clear(); err != nil {
		a.log.Warn(ctx, "could not clear session", "error", err.Error())
	}

	a.printf("Master passphrase changed.\n")
	return nil
}

func (r *runner) lockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "End the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.app.sessions.Clear(); err != nil {
				return err
			}
			r.app.printf("Locked.\n")
			return nil
		},
	}
}

func (r *runner) exportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write all entries as unencrypted JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withVault(cmd, func(ctx context.Context, a *App) error {
				return a.export(ctx, output)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (default stdout)")
	return cmd
}

func (a *App) export(ctx context.Context, output string) error {
	data, err := a.storage.ExportData()
	if err != nil {
		return err
	}
	defer common.WipeByteArray(data)

	if output == "" {
		_, err := a.out.Write(append(data, '\n'))
		return err
	}
	if err := filex.WriteFileAtomic(output, data, filex.PrivateFileMode); err != nil {
		return err
	}
	a.log.Warn(ctx, "unencrypted export written", "path", output)
	a.printf("Exported %d entries to %s\nWARNING: the file is not encrypted.\n", len(a.storage.ListEntries()), output)
	return nil
}

func (r *runner) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Add entries from an export file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			defer common.WipeByteArray(data)

			return r.withVault(cmd, func(ctx context.Context, a *App) error {
				n, err := a.storage.ImportData(ctx, data)
				if err != nil {
					return err
				}
				a.printf("Imported %d entries.\n", n)
				return nil
			})
		},
	}
}
