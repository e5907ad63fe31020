package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/vaultkeeper/internal/models"
	"github.com/dmitrijs2005/vaultkeeper/internal/session"
	"github.com/spf13/cobra"
)

// shellExec is the command surface the shell needs. App satisfies it; tests
// provide a lightweight stub.
type shellExec interface {
	unlock(ctx context.Context) error
	listEntries(ctx context.Context) error
	searchEntries(ctx context.Context, query string) error
	showEntry(id string, showPassword bool) error
	addInteractive(ctx context.Context) error
	deleteEntry(ctx context.Context, id string) error
}

func (r *runner) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session that locks itself after inactivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			if !a.storage.Exists() {
				return errNoVault
			}
			sess := session.New(a.cfg.AutoLockTimeout)
			sess.OnLock(a.close)
			defer sess.Logout()

			a.printf("VaultKeeper shell (type 'help' for commands)\n")
			runShell(cmd.Context(), a, sess, a.in, a.out)
			return nil
		},
	}
}

// runShell reads commands from in until EOF, "exit" or "quit". A locked or
// expired session asks for the passphrase before the next command runs.
// Command errors are printed and the loop continues.
func runShell(ctx context.Context, a shellExec, sess *session.Session, in *bufio.Reader, out io.Writer) {
	for {
		if sess.IsLocked() {
			fmt.Fprintln(out, "Vault is locked.")
			if err := a.unlock(ctx); err != nil {
				fmt.Fprintf(out, "Error: %s\n", userMessage(err))
				if errors.Is(err, io.EOF) || errors.Is(err, errNoVault) {
					return
				}
				continue
			}
			sess.Unlock()
		}

		fmt.Fprint(out, "vk> ")
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "exit", "quit":
			fmt.Fprintln(out, "Bye!")
			return
		case "help":
			fmt.Fprintln(out, "Available commands: (l)ist, search <query>, get <id> [-s], add, delete <id>, lock, exit")
			continue
		case "lock":
			sess.Lock()
			continue
		}

		err = sess.Guard(func() error {
			return dispatch(ctx, a, cmd, args)
		})
		if errors.Is(err, session.ErrLocked) {
			fmt.Fprintln(out, "Session expired; command not run.")
			continue
		}
		if err != nil {
			fmt.Fprintf(out, "Error: %s\n", userMessage(err))
		}
	}
}

var errUsage = errors.New("usage")

func dispatch(ctx context.Context, a shellExec, cmd string, args []string) error {
	switch cmd {
	case "l", "list":
		return a.listEntries(ctx)
	case "search":
		if len(args) == 0 {
			return fmt.Errorf("%w: search <query>", errUsage)
		}
		return a.searchEntries(ctx, strings.Join(args, " "))
	case "get", "show":
		if len(args) == 0 {
			return fmt.Errorf("%w: get <id> [-s]", errUsage)
		}
		show := len(args) > 1 && (args[1] == "-s" || args[1] == "--show-password")
		return a.showEntry(args[0], show)
	case "add":
		return a.addInteractive(ctx)
	case "delete", "rm":
		if len(args) == 0 {
			return fmt.Errorf("%w: delete <id>", errUsage)
		}
		return a.deleteEntry(ctx, args[0])
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func (a *App) listEntries(context.Context) error {
	return a.printEntries(a.storage.ListEntries())
}

func (a *App) searchEntries(_ context.Context, query string) error {
	return a.printEntries(a.storage.SearchEntries(query))
}

// addInteractive prompts for every entry field.
func (a *App) addInteractive(ctx context.Context) error {
	var e models.PasswordEntry
	fields := []struct {
		prompt string
		dst    *string
	}{
		{"Title:", &e.Title},
		{"Username:", &e.Username},
		{"URL:", &e.URL},
		{"Category:", &e.Category},
		{"Notes:", &e.Notes},
	}
	for _, f := range fields {
		v, err := GetSimpleText(a.in, f.prompt, a.out)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	tags, err := GetSimpleText(a.in, "Tags (comma-separated):", a.out)
	if err != nil {
		return err
	}
	e.Tags = ParseTags(tags)
	return a.addEntry(ctx, e)
}
