package cli

import (
	"context"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/totp"
	"github.com/spf13/cobra"
)

func (r *runner) totpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "totp",
		Short: "Manage the authenticator-app second factor",
	}
	cmd.AddCommand(r.totpEnableCmd(), r.totpDisableCmd(), r.totpStatusCmd())
	return cmd
}

func (r *runner) totpEnableCmd() *cobra.Command {
	var account, issuer string
	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Generate a TOTP secret and require codes on unlock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if r.app.totpStore.Exists() {
				return errTOTPEnabled
			}
			return r.withVault(cmd, func(ctx context.Context, a *App) error {
				return a.enableTOTP(ctx, account, issuer)
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "vault", "account name shown in the authenticator app")
	cmd.Flags().StringVar(&issuer, "issuer", totp.DefaultIssuer, "issuer shown in the authenticator app")
	return cmd
}

// enableTOTP enrolls a fresh secret. It is stored only after the user
// proves the authenticator produces matching codes.
func (a *App) enableTOTP(ctx context.Context, account, issuer string) error {
	v, err := totp.New("")
	if err != nil {
		return err
	}
	defer v.Clear()

	uri, err := v.ProvisioningURI(account, issuer)
	if err != nil {
		return err
	}
	a.printf("Secret: %s\nURI:    %s\n", v.Secret(), uri)
	a.printf("Add the secret to your authenticator app, then confirm.\n")

	code, err := GetSimpleText(a.in, "Authenticator code:", a.out)
	if err != nil {
		return err
	}
	if !v.VerifyCodeAt(code, a.now()) {
		return common.ErrAuthentication
	}

	if err := a.totpStore.Save(a.storage.Engine(), v.Secret()); err != nil {
		return err
	}
	a.log.Info(ctx, "totp enabled")
	a.printf("TOTP enabled.\n")
	return nil
}

func (r *runner) totpDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Stop requiring TOTP codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !r.app.totpStore.Exists() {
				return errTOTPDisabled
			}
			return r.withVault(cmd, func(ctx context.Context, a *App) error {
				if err := a.totpStore.Delete(); err != nil {
					return err
				}
				a.log.Info(ctx, "totp disabled")
				a.printf("TOTP disabled.\n")
				return nil
			})
		},
	}
}

func (r *runner) totpStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether TOTP is enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if r.app.totpStore.Exists() {
				r.app.printf("TOTP: enabled\n")
			} else {
				r.app.printf("TOTP: disabled\n")
			}
			return nil
		},
	}
}
