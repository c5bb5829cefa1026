package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultAPIRules() []AccessRule {
	return []AccessRule{
		{Mount: MountAPI, Pattern: "/v2/*", Mode: ModeOpen},
		{Mount: MountAPI, Pattern: "/v2/tenants/:tenant/*", Mode: ModeTenantMatch},
		{Mount: MountAPI, Pattern: "/v2/providers/*", Mode: ModeAdminOnly},
		{Mount: MountAPI, Pattern: "/middleend/*", Mode: ModeOpen},
	}
}

func TestRuleSet_OrderByMode(t *testing.T) {
	set := NewRuleSet(defaultAPIRules())

	var modes []Mode
	for _, r := range set.Rules() {
		modes = append(modes, r.Mode)
	}
	assert.Equal(t, []Mode{ModeAdminOnly, ModeTenantMatch, ModeOpen, ModeOpen}, modes)
	// declaration order within a mode
	assert.Equal(t, "/v2/*", set.Rules()[2].Pattern)
	assert.Equal(t, "/middleend/*", set.Rules()[3].Pattern)
}

func TestRuleSet_Evaluate(t *testing.T) {
	set := NewRuleSet(defaultAPIRules())

	admin := &Identity{ID: "1", Role: RoleAdmin}
	acme := &Identity{ID: "2", Role: RoleTenant, Tenant: "acme"}
	noTenant := &Identity{ID: "3"}

	tests := []struct {
		name     string
		identity *Identity
		path     string
		allowed  bool
		pattern  string
	}{
		{"admin on admin-only", admin, "/v2/providers/list", true, "/v2/providers/*"},
		{"tenant on admin-only", acme, "/v2/providers/list", false, "/v2/providers/*"},
		{"admin-only beats open", noTenant, "/v2/providers", false, "/v2/providers/*"},
		{"tenant on own tenant", acme, "/v2/tenants/acme/projects", true, "/v2/tenants/:tenant/*"},
		{"tenant on own tenant root", acme, "/v2/tenants/acme", true, "/v2/tenants/:tenant/*"},
		{"tenant on other tenant", acme, "/v2/tenants/globex/projects", false, "/v2/tenants/:tenant/*"},
		{"admin on any tenant", admin, "/v2/tenants/globex/projects", true, "/v2/tenants/:tenant/*"},
		{"empty tenant never matches", noTenant, "/v2/tenants/acme/x", false, "/v2/tenants/:tenant/*"},
		{"open catch-all", noTenant, "/v2/catalog", true, "/v2/*"},
		{"open bare prefix", noTenant, "/v2", true, "/v2/*"},
		{"second open rule", acme, "/middleend/dashboard", true, "/middleend/*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := set.Evaluate(tt.identity, tt.path)
			assert.Equal(t, tt.allowed, d.Allowed)
			require.NotNil(t, d.Rule)
			assert.Equal(t, tt.pattern, d.Rule.Pattern)
		})
	}
}

func TestRuleSet_NoMatchDenies(t *testing.T) {
	set := NewRuleSet(defaultAPIRules())

	d := set.Evaluate(&Identity{Role: RoleAdmin}, "/other/thing")
	assert.False(t, d.Allowed)
	assert.Nil(t, d.Rule)

	empty := NewRuleSet(nil)
	assert.False(t, empty.Evaluate(&Identity{Role: RoleAdmin}, "/v2/x").Allowed)
}

func TestRuleSet_NilIdentityDenied(t *testing.T) {
	set := NewRuleSet(defaultAPIRules())
	assert.False(t, set.Evaluate(nil, "/v2/catalog").Allowed)
}

func TestAccessRule_CustomTenantParam(t *testing.T) {
	rule := AccessRule{Mount: MountAPI, Pattern: "/orgs/:org/*", Mode: ModeTenantMatch, TenantParam: "org"}
	require.NoError(t, rule.Validate())

	assert.Equal(t, "acme", rule.Tenant("/orgs/acme/repos"))
	assert.True(t, rule.Admits(&Identity{Tenant: "acme"}, "/orgs/acme/repos"))
	assert.False(t, rule.Admits(&Identity{Tenant: "globex"}, "/orgs/acme/repos"))
}

func TestAccessRule_PolicyRoundTrip(t *testing.T) {
	for _, rule := range defaultAPIRules() {
		parsed, err := RuleFromPolicy(rule.Policy())
		require.NoError(t, err)
		assert.Equal(t, rule.Mount, parsed.Mount)
		assert.Equal(t, rule.Pattern, parsed.Pattern)
		assert.Equal(t, rule.Mode, parsed.Mode)
		assert.Len(t, rule.Policy(), 4)
	}
}

func TestAccessRule_Validate(t *testing.T) {
	assert.Error(t, AccessRule{Mount: "db", Pattern: "/x", Mode: ModeOpen}.Validate())
	assert.Error(t, AccessRule{Mount: MountAPI, Pattern: "x", Mode: ModeOpen}.Validate())
	assert.Error(t, AccessRule{Mount: MountAPI, Pattern: "/x", Mode: "sometimes"}.Validate())
	assert.Error(t, AccessRule{Mount: MountAPI, Pattern: "/v2/*", Mode: ModeTenantMatch}.Validate())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Admin-Only ")
	require.NoError(t, err)
	assert.Equal(t, ModeAdminOnly, m)

	_, err = ParseMode("everyone")
	assert.Error(t, err)
}
