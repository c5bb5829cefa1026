package migrations

import (
	"context"
	"fmt"

	"github.com/terraconstructs/gridgate/internal/auth/bunadapter"
	"github.com/terraconstructs/gridgate/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20261001000000, down_20261001000000)
}

// up_20261001000000 creates users, sessions and the access rule table
func up_20261001000000(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating users table...")
	_, err := db.NewCreateTable().
		Model((*models.User)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email)`); err != nil {
		return fmt.Errorf("failed to create users email index: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [up] creating sessions table...")
	q := db.NewCreateTable().Model((*models.Session)(nil)).IfNotExists()
	if IsSQLite(db) {
		q = q.ForeignKey(`(user_id) REFERENCES users(id) ON DELETE CASCADE`)
	}
	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}
	if IsPostgreSQL(db) {
		_, err = db.ExecContext(ctx, `ALTER TABLE sessions ADD CONSTRAINT fk_sessions_user_id FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE`)
		if err != nil {
			return fmt.Errorf("failed to add sessions user FK: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)`); err != nil {
		return fmt.Errorf("failed to create sessions user index: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`); err != nil {
		return fmt.Errorf("failed to create sessions expiry index: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [up] creating casbin_rules table...")
	_, err = db.NewCreateTable().
		Model((*bunadapter.CasbinRule)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create casbin_rules table: %w", err)
	}
	fmt.Println(" OK")

	return nil
}

// down_20261001000000 drops all tables
func down_20261001000000(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping all tables...")

	for _, table := range []string{"casbin_rules", "sessions", "users"} {
		stmt := fmt.Sprintf("DROP TABLE IF EXISTS %s", table)
		if IsPostgreSQL(db) {
			stmt += " CASCADE"
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to drop %s: %w", table, err)
		}
	}

	fmt.Println(" OK")
	return nil
}
