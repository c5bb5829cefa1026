package users

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openUserStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		users, err := store.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tEMAIL\tROLE\tTENANT\tPROVIDER\tDISABLED")
		for _, u := range users {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n",
				u.ID, u.Email, valueOr(u.Role, "-"), valueOr(u.TenantName(), "-"), u.Provider, u.Disabled())
		}
		return tw.Flush()
	},
}

var (
	passwdPasswordFlag string
	passwdStdinFlag    bool
)

var passwdCmd = &cobra.Command{
	Use:   "passwd <id|email>",
	Short: "Set a user's password and end their sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd.InOrStdin(), cmd.OutOrStdout(), passwdPasswordFlag, passwdStdinFlag)
		if err != nil {
			return err
		}

		store, err := openUserStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		user, err := resolveUser(cmd.Context(), store, args[0])
		if err != nil {
			return fmt.Errorf("failed to find user %q: %w", args[0], err)
		}
		if err := store.SetPassword(cmd.Context(), user.ID, password); err != nil {
			return fmt.Errorf("failed to set password: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Password updated for %s\n", user.Email)
		return nil
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable <id|email>",
	Short: "Disable a user and end their sessions",
	Args:  cobra.ExactArgs(1),
	RunE:  setDisabled(true),
}

var enableCmd = &cobra.Command{
	Use:   "enable <id|email>",
	Short: "Re-enable a disabled user",
	Args:  cobra.ExactArgs(1),
	RunE:  setDisabled(false),
}

func setDisabled(disabled bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		store, err := openUserStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		user, err := resolveUser(cmd.Context(), store, args[0])
		if err != nil {
			return fmt.Errorf("failed to find user %q: %w", args[0], err)
		}
		if _, err := store.SetDisabled(cmd.Context(), user.ID, disabled); err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}

		state := "enabled"
		if disabled {
			state = "disabled"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "User %s %s\n", user.Email, state)
		return nil
	}
}

func init() {
	passwdCmd.Flags().StringVar(&passwdPasswordFlag, "password", "", "New password (use --stdin to avoid shell history)")
	passwdCmd.Flags().BoolVar(&passwdStdinFlag, "stdin", false, "Read password from stdin instead of --password flag")
}
