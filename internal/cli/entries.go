package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/models"
	"github.com/spf13/cobra"
)

const timeLayout = "2006-01-02 15:04"

// entryFlags are the editable entry fields shared by add and update.
type entryFlags struct {
	title    string
	username string
	url      string
	category string
	notes    string
	tags     string
}

func (f *entryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.title, "title", "t", "", "entry title")
	cmd.Flags().StringVarP(&f.username, "username", "u", "", "login name")
	cmd.Flags().StringVar(&f.url, "url", "", "site address")
	cmd.Flags().StringVar(&f.category, "category", "", "category (default \"general\")")
	cmd.Flags().StringVar(&f.notes, "notes", "", "free-form notes")
	cmd.Flags().StringVar(&f.tags, "tags", "", "comma-separated tags")
}

// apply copies the flags the user set onto e.
func (f *entryFlags) apply(cmd *cobra.Command, e *models.PasswordEntry) {
	changed := cmd.Flags().Changed
	if changed("title") {
		e.Title = f.title
	}
	if changed("username") {
		e.Username = f.username
	}
	if changed("url") {
		e.URL = f.url
	}
	if changed("category") {
		e.Category = f.category
	}
	if changed("notes") {
		e.Notes = f.notes
	}
	if changed("tags") {
		e.Tags = ParseTags(f.tags)
	}
}

// withVault unlocks the vault, runs fn and drops the decrypted state. A
// successful command refreshes the persisted session's activity time.
func (r *runner) withVault(cmd *cobra.Command, fn func(ctx context.Context, a *App) error) error {
	a, ctx := r.app, cmd.Context()

	pass, err := GetPassword(a.out, "Master passphrase: ")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pass)

	if err := a.unlockWith(ctx, pass); err != nil {
		return err
	}
	defer a.close()

	if err := fn(ctx, a); err != nil {
		return err
	}
	if err := a.sessions.Touch(ctx, pass); err != nil {
		a.log.Debug(ctx, "session not refreshed", "error", err.Error())
	}
	return nil
}

func (r *runner) addCmd() *cobra.Command {
	var f entryFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a password entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withVault(cmd, func(ctx context.Context, a *App) error {
				var e models.PasswordEntry
				f.apply(cmd, &e)
				if e.Title == "" {
					title, err := GetSimpleText(a.in, "Title:", a.out)
					if err != nil {
						return err
					}
					e.Title = title
				}
				return a.addEntry(ctx, e)
			})
		},
	}
	f.register(cmd)
	return cmd
}

// addEntry asks for the entry password and stores e.
func (a *App) addEntry(ctx context.Context, e models.PasswordEntry) error {
	pw, err := GetPassword(a.out, "Entry password: ")
	if err != nil {
		return err
	}
	e.Password = string(pw)
	common.WipeByteArray(pw)

	id, err := a.storage.AddEntry(ctx, e)
	if err != nil {
		return err
	}
	a.printf("Entry added: %s\n", id)
	return nil
}

func (r *runner) getCmd() *cobra.Command {
	var showPassword bool
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withVault(cmd, func(ctx context.Context, a *App) error {
				return a.showEntry(args[0], showPassword)
			})
		},
	}
	cmd.Flags().BoolVarP(&showPassword, "show-password", "s", false, "print the password in clear text")
	return cmd
}

func (a *App) showEntry(id string, showPassword bool) error {
	e, err := a.storage.GetEntry(id)
	if err != nil {
		return err
	}

	password := "********"
	if showPassword {
		password = e.Password
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", e.ID)
	fmt.Fprintf(w, "Title:\t%s\n", e.Title)
	fmt.Fprintf(w, "Username:\t%s\n", e.Username)
	fmt.Fprintf(w, "Password:\t%s\n", password)
	fmt.Fprintf(w, "URL:\t%s\n", e.URL)
	fmt.Fprintf(w, "Category:\t%s\n", e.Category)
	fmt.Fprintf(w, "Tags:\t%s\n", strings.Join(e.Tags, ", "))
	fmt.Fprintf(w, "Notes:\t%s\n", e.Notes)
	fmt.Fprintf(w, "Created:\t%s\n", e.CreatedAt.Local().Format(timeLayout))
	fmt.Fprintf(w, "Updated:\t%s\n", e.UpdatedAt.Local().Format(timeLayout))
	return w.Flush()
}

func (r *runner) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all entries",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withVault(cmd, func(ctx context.Context, a *App) error {
				return a.printEntries(a.storage.ListEntries())
			})
		},
	}
}

func (r *runner) searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find entries by title, username, url, notes or tag",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withVault(cmd, func(ctx context.Context, a *App) error {
				return a.printEntries(a.storage.SearchEntries(strings.Join(args, " ")))
			})
		},
	}
}

func (a *App) printEntries(entries []models.PasswordEntry) error {
	if len(entries) == 0 {
		a.printf("No entries found.\n")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tUSERNAME\tCATEGORY\tTAGS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Title, e.Username, e.Category, strings.Join(e.Tags, ","))
	}
	return w.Flush()
}

func (r *runner) updateCmd() *cobra.Command {
	var (
		f           entryFlags
		newPassword bool
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withVault(cmd, func(ctx context.Context, a *App) error {
				e, err := a.storage.GetEntry(args[0])
				if err != nil {
					return err
				}
				f.apply(cmd, &e)
				if newPassword {
					pw, err := GetPassword(a.out, "New entry password: ")
					if err != nil {
						return err
					}
					e.Password = string(pw)
					common.WipeByteArray(pw)
				}
				if err := a.storage.UpdateEntry(ctx, e.ID, e); err != nil {
					return err
				}
				a.printf("Entry updated: %s\n", e.ID)
				return nil
			})
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVarP(&newPassword, "password", "p", false, "prompt for a new password")
	return cmd
}

func (r *runner) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete an entry",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withVault(cmd, func(ctx context.Context, a *App) error {
				return a.deleteEntry(ctx, args[0])
			})
		},
	}
}

func (a *App) deleteEntry(ctx context.Context, id string) error {
	ok, err := a.storage.DeleteEntry(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrNotFound
	}
	a.printf("Entry deleted: %s\n", id)
	return nil
}
