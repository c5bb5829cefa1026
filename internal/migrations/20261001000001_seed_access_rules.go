package migrations

import (
	"context"
	"fmt"

	"github.com/terraconstructs/gridgate/internal/auth"
	"github.com/terraconstructs/gridgate/internal/auth/bunadapter"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20261001000001, down_20261001000001)
}

// DefaultAccessRules are the role routing rules every new installation starts with.
var DefaultAccessRules = []auth.AccessRule{
	{Mount: auth.MountAPI, Pattern: "/v2/providers/*", Mode: auth.ModeAdminOnly},
	{Mount: auth.MountAPI, Pattern: "/v2/controllers/*", Mode: auth.ModeAdminOnly},
	{Mount: auth.MountAPI, Pattern: "/middleend/admin/*", Mode: auth.ModeAdminOnly},
	{Mount: auth.MountAPI, Pattern: "/v2/tenants/:tenant/*", Mode: auth.ModeTenantMatch, TenantParam: "tenant"},
	{Mount: auth.MountAPI, Pattern: "/middleend/tenants/:tenant/*", Mode: auth.ModeTenantMatch, TenantParam: "tenant"},
	{Mount: auth.MountAPI, Pattern: "/v2/*", Mode: auth.ModeOpen},
	{Mount: auth.MountAPI, Pattern: "/middleend/*", Mode: auth.ModeOpen},
}

// up_20261001000001 seeds the default access rules
func up_20261001000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] seeding default access rules...")

	rules := make([]bunadapter.CasbinRule, 0, len(DefaultAccessRules))
	for _, r := range DefaultAccessRules {
		rules = append(rules, *bunadapter.NewRule("p", r.Policy()))
	}

	_, err := db.NewInsert().
		Model(&rules).
		On("CONFLICT (ptype, v0, v1, v2, v3, v4, v5) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed access rules: %w", err)
	}

	fmt.Println(" OK")
	return nil
}

// down_20261001000001 removes the seeded rules, leaving operator additions in place
func down_20261001000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] removing default access rules...")

	for _, r := range DefaultAccessRules {
		rule := bunadapter.NewRule("p", r.Policy())
		q := db.NewDelete().Model((*bunadapter.CasbinRule)(nil))
		rule.QueryWhereGroup(q.QueryBuilder())
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("failed to remove access rule %s: %w", r.Pattern, err)
		}
	}

	fmt.Println(" OK")
	return nil
}
