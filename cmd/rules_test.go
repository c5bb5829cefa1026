package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/terraconstructs/gridgate/internal/auth"
	"github.com/terraconstructs/gridgate/internal/db/dbtest"
)

func TestWarnOverlap(t *testing.T) {
	logger = zap.NewNop()
	enforcer, err := auth.InitEnforcer(dbtest.NewDB(t))
	require.NoError(t, err)
	store := auth.NewRuleStore(enforcer)

	tests := []struct {
		name string
		rule auth.AccessRule
		note bool
	}{
		{"under open catch-all", auth.AccessRule{Mount: auth.MountAPI, Pattern: "/v2/billing/*", Mode: auth.ModeAdminOnly}, true},
		{"new api subtree", auth.AccessRule{Mount: auth.MountAPI, Pattern: "/reports/*", Mode: auth.ModeOpen}, false},
		{"ui mount has no rules", auth.AccessRule{Mount: auth.MountUI, Pattern: "/app/admin/*", Mode: auth.ModeAdminOnly}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, warnOverlap(&out, store, tt.rule))
			if tt.note {
				assert.Contains(t, out.String(), "already matched")
			} else {
				assert.Empty(t, out.String())
			}
		})
	}
}

func TestRuleFromArgs(t *testing.T) {
	rule, err := ruleFromArgs([]string{"api", "tenant-match", "/v2/orgs/:tenant/*"})
	require.NoError(t, err)
	assert.Equal(t, auth.AccessRule{Mount: auth.MountAPI, Mode: auth.ModeTenantMatch, Pattern: "/v2/orgs/:tenant/*"}, rule)

	_, err = ruleFromArgs([]string{"api", "everyone", "/v2/*"})
	assert.Error(t, err)
}
