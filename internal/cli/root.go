package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/vaultkeeper/internal/config"
	"github.com/dmitrijs2005/vaultkeeper/internal/logging"
	"github.com/spf13/cobra"
)

// runner carries the streams and the lazily built App between cobra hooks
// and command handlers.
type runner struct {
	stdio IO
	app   *App
}

// newRootCmd assembles the command tree. The App is built in
// PersistentPreRunE once flags are parsed.
func newRootCmd(stdio IO) *cobra.Command {
	r := &runner{stdio: stdio}

	root := &cobra.Command{
		Use:           "vaultkeeper",
		Short:         "Local credential vault with TOTP and USB-key unlock",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			log := logging.New(cfg.LogLevel, cfg.LogFormat, stdio.Err)

			app, err := NewApp(cfg, log, stdio)
			if err != nil {
				return err
			}
			app.hardenProcess(cmd.Context())
			r.app = app
			return nil
		},
	}
	root.SetIn(stdio.In)
	root.SetOut(stdio.Out)
	root.SetErr(stdio.Err)
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		r.initCmd(),
		r.passwdCmd(),
		r.lockCmd(),
		r.addCmd(),
		r.getCmd(),
		r.listCmd(),
		r.searchCmd(),
		r.updateCmd(),
		r.deleteCmd(),
		r.exportCmd(),
		r.importCmd(),
		r.totpCmd(),
		r.usbkeyCmd(),
		r.serviceCmd(),
		r.shellCmd(),
	)
	return root
}

// Execute runs the CLI with args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdio IO) int {
	root := newRootCmd(stdio)
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stdio.Err, "Error: %s\n", userMessage(err))
		return 1
	}
	return 0
}
