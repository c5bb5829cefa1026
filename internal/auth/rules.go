package auth

import (
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2/util"
)

// Mode is the admission check an access rule applies.
type Mode string

const (
	ModeOpen        Mode = "open"
	ModeAdminOnly   Mode = "admin-only"
	ModeTenantMatch Mode = "tenant-match"
)

// Mount names the upstream a rule applies to.
type Mount string

const (
	MountAPI Mount = "api"
	MountUI  Mount = "ui"
)

// DefaultTenantParam is the pattern parameter holding the tenant segment.
const DefaultTenantParam = "tenant"

// noParam fills the parameter field of rules that do not use one; casbin
// requires every policy line to carry all four fields.
const noParam = "*"

// modeRank orders evaluation: every admin-only rule, then tenant-match, then open.
var modeRank = map[Mode]int{
	ModeAdminOnly:   0,
	ModeTenantMatch: 1,
	ModeOpen:        2,
}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := modeRank[m]; !ok {
		return "", fmt.Errorf("unknown access mode %q (want open, admin-only or tenant-match)", s)
	}
	return m, nil
}

// AccessRule maps a path pattern to a mode. Patterns use KeyMatch2 syntax:
// ":name" matches one segment and a trailing "*" matches the rest.
type AccessRule struct {
	Mount       Mount  `json:"mount"`
	Pattern     string `json:"pattern"`
	Mode        Mode   `json:"mode"`
	TenantParam string `json:"tenant_param,omitempty"`
}

// Policy returns the casbin policy line for the rule.
func (r AccessRule) Policy() []string {
	param := noParam
	if r.Mode == ModeTenantMatch {
		param = r.tenantParam()
	}
	return []string{string(r.Mount), r.Pattern, string(r.Mode), param}
}

// RuleFromPolicy parses a casbin policy line produced by Policy.
func RuleFromPolicy(line []string) (AccessRule, error) {
	if len(line) < 3 {
		return AccessRule{}, fmt.Errorf("access rule needs mount, pattern and mode (got %v)", line)
	}
	mode, err := ParseMode(line[2])
	if err != nil {
		return AccessRule{}, err
	}
	rule := AccessRule{Mount: Mount(line[0]), Pattern: line[1], Mode: mode}
	if len(line) > 3 && line[3] != "" && line[3] != noParam {
		rule.TenantParam = line[3]
	}
	return rule, rule.Validate()
}

// Validate checks the pattern shape and the tenant parameter.
func (r AccessRule) Validate() error {
	if r.Mount != MountAPI && r.Mount != MountUI {
		return fmt.Errorf("unknown mount %q", r.Mount)
	}
	if !strings.HasPrefix(r.Pattern, "/") {
		return fmt.Errorf("pattern %q must start with /", r.Pattern)
	}
	if _, ok := modeRank[r.Mode]; !ok {
		return fmt.Errorf("unknown access mode %q", r.Mode)
	}
	if r.Mode == ModeTenantMatch && !strings.Contains(r.Pattern, ":"+r.tenantParam()) {
		return fmt.Errorf("tenant-match pattern %q has no :%s segment", r.Pattern, r.tenantParam())
	}
	return nil
}

// Matches reports whether path is covered by the rule. "/v2/*" also covers "/v2".
func (r AccessRule) Matches(path string) bool {
	if util.KeyMatch2(path, r.Pattern) {
		return true
	}
	if base := strings.TrimSuffix(r.Pattern, "/*"); base != r.Pattern {
		return util.KeyMatch2(path, base)
	}
	return false
}

// Tenant extracts the tenant segment from path.
func (r AccessRule) Tenant(path string) string {
	if v := util.KeyGet2(path, r.Pattern, r.tenantParam()); v != "" {
		return v
	}
	if base := strings.TrimSuffix(r.Pattern, "/*"); base != r.Pattern {
		return util.KeyGet2(path, base, r.tenantParam())
	}
	return ""
}

// Admits applies the rule's mode to an identity for the given path.
func (r AccessRule) Admits(identity *Identity, path string) bool {
	if identity == nil {
		return false
	}
	switch r.Mode {
	case ModeAdminOnly:
		return identity.IsAdmin()
	case ModeTenantMatch:
		if identity.IsAdmin() {
			return true
		}
		tenant := r.Tenant(path)
		return identity.Tenant != "" && tenant == identity.Tenant
	case ModeOpen:
		return true
	default:
		return false
	}
}

func (r AccessRule) tenantParam() string {
	if r.TenantParam == "" {
		return DefaultTenantParam
	}
	return r.TenantParam
}

func (r AccessRule) String() string {
	return fmt.Sprintf("%s %s %s", r.Mount, r.Pattern, r.Mode)
}

// Decision is the outcome of evaluating a request against a RuleSet.
type Decision struct {
	Allowed bool
	// Rule is the rule that decided, nil when nothing matched.
	Rule *AccessRule
}

// RuleSet is an ordered list of rules for one mount.
type RuleSet struct {
	rules []AccessRule
}

// NewRuleSet orders rules by mode rank, keeping declaration order within a mode.
func NewRuleSet(rules []AccessRule) *RuleSet {
	ordered := make([]AccessRule, 0, len(rules))
	for _, mode := range []Mode{ModeAdminOnly, ModeTenantMatch, ModeOpen} {
		for _, r := range rules {
			if r.Mode == mode {
				ordered = append(ordered, r)
			}
		}
	}
	return &RuleSet{rules: ordered}
}

// Rules returns the rules in evaluation order.
func (s *RuleSet) Rules() []AccessRule {
	return append([]AccessRule(nil), s.rules...)
}

// Evaluate returns the decision of the first matching rule. No match denies.
func (s *RuleSet) Evaluate(identity *Identity, path string) Decision {
	for i := range s.rules {
		rule := s.rules[i]
		if rule.Matches(path) {
			return Decision{Allowed: rule.Admits(identity, path), Rule: &rule}
		}
	}
	return Decision{}
}
