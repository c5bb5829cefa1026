package users

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/gridgate/internal/services/iam"
)

var (
	emailFlag    string
	nameFlag     string
	passwordFlag string
	roleFlag     string
	tenantFlag   string
	stdinFlag    bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a local user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if emailFlag == "" {
			return fmt.Errorf("--email flag is required")
		}

		password, err := readPassword(cmd.InOrStdin(), cmd.OutOrStdout(), passwordFlag, stdinFlag)
		if err != nil {
			return err
		}

		store, err := openUserStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		user, err := store.Create(cmd.Context(), iam.NewUser{
			Email:    emailFlag,
			Name:     nameFlag,
			Password: password,
			Role:     roleFlag,
			Tenant:   tenantFlag,
		})
		if errors.Is(err, iam.ErrUserExists) {
			return fmt.Errorf("user with email %q already exists", emailFlag)
		}
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "User created successfully!")
		printUser(cmd.OutOrStdout(), user)
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&emailFlag, "email", "", "Email address of the user")
	createCmd.Flags().StringVar(&nameFlag, "name", "", "Display name of the user")
	createCmd.Flags().StringVar(&passwordFlag, "password", "", "Password for the user (use --stdin to avoid shell history)")
	createCmd.Flags().StringVar(&roleFlag, "role", "", "Role: admin or tenant (empty for no privileges)")
	createCmd.Flags().StringVar(&tenantFlag, "tenant", "", "Tenant the user belongs to")
	createCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read password from stdin instead of --password flag")
}
