package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/terraconstructs/gridgate/internal/auth"
	"github.com/terraconstructs/gridgate/internal/db/bunx"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage role routing rules",
	Long: `Commands for listing and editing the access rules applied to proxied paths.
A running gateway picks up changes on SIGHUP.`,
}

var rulesMountFlag string

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List access rules in evaluation order",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeDB, err := openRuleStore(cmd)
		if err != nil {
			return err
		}
		defer closeDB()

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "MOUNT\tMODE\tPATTERN\tTENANT PARAM")
		for _, mount := range []auth.Mount{auth.MountAPI, auth.MountUI} {
			if rulesMountFlag != "" && string(mount) != rulesMountFlag {
				continue
			}
			set, err := store.RuleSet(mount)
			if err != nil {
				return err
			}
			for _, r := range set.Rules() {
				param := "-"
				if r.Mode == auth.ModeTenantMatch {
					param = r.Policy()[3]
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Mount, r.Mode, r.Pattern, param)
			}
		}
		return tw.Flush()
	},
}

var rulesTenantParamFlag string

var rulesAddCmd = &cobra.Command{
	Use:   "add <mount> <mode> <pattern>",
	Short: "Add an access rule",
	Example: `  gridgate rules add api admin-only '/v2/billing/*'
  gridgate rules add api tenant-match '/v2/orgs/:org/*' --tenant-param org`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		rule, err := ruleFromArgs(args)
		if err != nil {
			return err
		}
		rule.TenantParam = rulesTenantParamFlag

		store, closeDB, err := openRuleStore(cmd)
		if err != nil {
			return err
		}
		defer closeDB()

		if err := warnOverlap(cmd.OutOrStdout(), store, rule); err != nil {
			return err
		}
		if err := store.Add(rule); err != nil {
			return err
		}
		logger.Info("access rule added; send SIGHUP to running gateways to apply it")
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", rule)
		return nil
	},
}

var rulesRemoveCmd = &cobra.Command{
	Use:   "remove <mount> <mode> <pattern>",
	Short: "Remove an access rule",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		rule, err := ruleFromArgs(args)
		if err != nil {
			return err
		}
		rule.TenantParam = rulesTenantParamFlag

		store, closeDB, err := openRuleStore(cmd)
		if err != nil {
			return err
		}
		defer closeDB()

		removed, err := store.Remove(rule)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("no rule %s", rule)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", rule)
		return nil
	},
}

func ruleFromArgs(args []string) (auth.AccessRule, error) {
	mode, err := auth.ParseMode(args[1])
	if err != nil {
		return auth.AccessRule{}, err
	}
	return auth.AccessRule{Mount: auth.Mount(args[0]), Mode: mode, Pattern: args[2]}, nil
}

// warnOverlap notes when an existing rule for the mount already matches the
// new pattern, so the operator can check which rule will decide.
func warnOverlap(w io.Writer, store *auth.RuleStore, rule auth.AccessRule) error {
	covered, err := store.Covered(rule.Mount, rule.Pattern)
	if err != nil {
		return fmt.Errorf("check overlapping rules: %w", err)
	}
	if covered {
		logger.Warn("new access rule overlaps an existing rule",
			zap.String("mount", string(rule.Mount)), zap.String("pattern", rule.Pattern))
		fmt.Fprintf(w, "Note: %s is already matched by a %s rule; modes apply in the order admin-only, tenant-match, open\n", rule.Pattern, rule.Mount)
	}
	return nil
}

func openRuleStore(cmd *cobra.Command) (*auth.RuleStore, func(), error) {
	db, err := bunx.NewDB(cmd.Context(), cfg.DatabaseURL, bunx.Options{MaxConnections: cfg.MaxDBConnections})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	enforcer, err := auth.InitEnforcer(db)
	if err != nil {
		bunx.Close(db)
		return nil, nil, fmt.Errorf("failed to initialize casbin enforcer: %w", err)
	}
	return auth.NewRuleStore(enforcer), func() { bunx.Close(db) }, nil
}

func init() {
	rulesListCmd.Flags().StringVar(&rulesMountFlag, "mount", "", "Only list rules for this mount (api or ui)")
	rulesAddCmd.Flags().StringVar(&rulesTenantParamFlag, "tenant-param", "", "Pattern parameter holding the tenant (default \"tenant\")")
	rulesRemoveCmd.Flags().StringVar(&rulesTenantParamFlag, "tenant-param", "", "Pattern parameter holding the tenant (default \"tenant\")")

	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesAddCmd)
	rulesCmd.AddCommand(rulesRemoveCmd)
}
