// Package dbtest opens migrated in-memory SQLite databases for tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/terraconstructs/gridgate/internal/db/bunx"
	"github.com/terraconstructs/gridgate/internal/migrations"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// NewDB returns a fresh private in-memory database with every migration
// applied. It is closed when the test ends.
func NewDB(t testing.TB) *bun.DB {
	t.Helper()
	ctx := context.Background()

	db, err := bunx.NewDB(ctx, "file::memory:", bunx.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	migrator := migrate.NewMigrator(db, migrations.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err = migrator.Migrate(ctx)
	require.NoError(t, err)

	return db
}
