package cli

import (
	"os"
	"runtime"
	"strings"

	"github.com/dmitrijs2005/vaultkeeper/internal/daemon"
	"github.com/spf13/cobra"
)

const watcherServiceName = "vaultkeeper-watch"

// newService is a test seam for selecting the platform service.
var newService = func(opts daemon.Options) (daemon.Service, error) {
	return daemon.ForPlatform(runtime.GOOS, opts)
}

// watcherService describes the background `usbkey watch` process for the
// current configuration.
func (a *App) watcherService() (daemon.Service, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return newService(daemon.Options{
		Name:       watcherServiceName,
		Executable: exe,
		Args: []string{
			"usbkey", "watch",
			"--data-dir", a.cfg.DataDir,
			"--token-config", a.cfg.TokenConfigPath,
			"--session-file", a.cfg.SessionPath,
			"--log-format", "json",
		},
		StateDir: a.cfg.DataDir,
	})
}

func (r *runner) serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Run the USB-key watcher in the background",
	}

	simple := func(use, short, done string, fn func(s daemon.Service, cmd *cobra.Command) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := r.app.watcherService()
				if err != nil {
					return err
				}
				if err := fn(s, cmd); err != nil {
					return err
				}
				r.app.printf("%s\n", done)
				return nil
			},
		}
	}

	var lines int
	logs := &cobra.Command{
		Use:   "logs",
		Short: "Print the watcher log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := r.app.watcherService()
			if err != nil {
				return err
			}
			out, err := s.Logs(cmd.Context(), lines)
			if err != nil {
				return err
			}
			if len(out) > 0 {
				r.app.printf("%s\n", strings.Join(out, "\n"))
			}
			return nil
		},
	}
	logs.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show whether the watcher is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := r.app.watcherService()
			if err != nil {
				return err
			}
			running, err := s.IsRunning(cmd.Context())
			if err != nil {
				return err
			}
			if running {
				r.app.printf("Watcher: running\n")
			} else {
				r.app.printf("Watcher: stopped\n")
			}
			return nil
		},
	}

	cmd.AddCommand(
		simple("install", "Install the watcher as a user service", "Watcher installed.",
			func(s daemon.Service, cmd *cobra.Command) error { return s.Install(cmd.Context()) }),
		simple("uninstall", "Stop and remove the watcher service", "Watcher uninstalled.",
			func(s daemon.Service, cmd *cobra.Command) error { return s.Uninstall(cmd.Context()) }),
		simple("start", "Start the watcher", "Watcher started.",
			func(s daemon.Service, cmd *cobra.Command) error { return s.Start(cmd.Context()) }),
		simple("stop", "Stop the watcher", "Watcher stopped.",
			func(s daemon.Service, cmd *cobra.Command) error { return s.Stop(cmd.Context()) }),
		status,
		logs,
	)
	return cmd
}
