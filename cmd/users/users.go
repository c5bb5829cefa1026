package users

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"github.com/terraconstructs/gridgate/internal/config"
	"github.com/terraconstructs/gridgate/internal/db/bunx"
	"github.com/terraconstructs/gridgate/internal/db/models"
	"github.com/terraconstructs/gridgate/internal/repository"
	"github.com/terraconstructs/gridgate/internal/services/iam"
)

// UsersCmd is the parent command for user management operations
var UsersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage local gateway users",
	Long:  `Commands for managing local users directly against the gateway database.`,
}

func init() {
	UsersCmd.AddCommand(createCmd)
	UsersCmd.AddCommand(listCmd)
	UsersCmd.AddCommand(passwdCmd)
	UsersCmd.AddCommand(disableCmd)
	UsersCmd.AddCommand(enableCmd)
}

// userStore bundles the service with the connection it runs on.
type userStore struct {
	*iam.UserService
	db *bun.DB
}

func (s *userStore) Close() {
	bunx.Close(s.db)
}

func openUserStore(ctx context.Context) (*userStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := bunx.NewDB(ctx, cfg.DatabaseURL, bunx.Options{MaxConnections: cfg.MaxDBConnections})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Revocation targets the database store; redis sessions expire on their own TTL.
	svc := iam.NewUserService(repository.NewBunUserRepository(db), repository.NewBunSessionRepository(db))
	return &userStore{UserService: svc, db: db}, nil
}

// readPassword returns flagValue, or the first line of in when fromStdin is set.
func readPassword(in io.Reader, out io.Writer, flagValue string, fromStdin bool) (string, error) {
	password := flagValue
	if fromStdin {
		scanner := bufio.NewScanner(in)
		fmt.Fprint(out, "Enter password: ")
		if scanner.Scan() {
			password = scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
	}
	password = strings.TrimRight(password, "\r\n")
	if password == "" {
		return "", fmt.Errorf("password is required (use --password or --stdin)")
	}
	return password, nil
}

// resolveUser accepts either a user ID or an email address.
func resolveUser(ctx context.Context, s *userStore, ref string) (*models.User, error) {
	if strings.Contains(ref, "@") {
		return s.GetByEmail(ctx, ref)
	}
	return s.Get(ctx, ref)
}

func printUser(w io.Writer, u *models.User) {
	fmt.Fprintln(w, "----------------------------------------")
	fmt.Fprintf(w, "User ID: %s\n", u.ID)
	fmt.Fprintf(w, "Email: %s\n", u.Email)
	fmt.Fprintf(w, "Name: %s\n", u.Name)
	fmt.Fprintf(w, "Role: %s\n", valueOr(u.Role, "(none)"))
	fmt.Fprintf(w, "Tenant: %s\n", valueOr(u.TenantName(), "(none)"))
	fmt.Fprintln(w, "----------------------------------------")
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

