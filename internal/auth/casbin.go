package auth

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/terraconstructs/gridgate/internal/auth/bunadapter"
	"github.com/uptrace/bun"
)

//go:embed model.conf
var casbinModelContent string

// InitEnforcer creates a casbin enforcer over the casbin_rules table.
// The enforcer is the store of record for access rules; ordering and mode
// semantics are applied by RuleSet.
func InitEnforcer(db *bun.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := bunadapter.NewAdapter(db)
	if err != nil {
		return nil, fmt.Errorf("create casbin adapter: %w", err)
	}

	m, err := model.NewModelFromString(casbinModelContent)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	if err := enforcer.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("load casbin policies: %w", err)
	}

	return enforcer, nil
}

// RuleStore reads and edits access rules through a casbin enforcer and caches
// the ordered RuleSet per mount.
type RuleStore struct {
	enforcer *casbin.SyncedEnforcer

	mu    sync.RWMutex
	cache map[Mount]*RuleSet
	// gen advances on every invalidation; a set built under an older
	// generation is returned but not cached.
	gen uint64
}

// NewRuleStore wraps an initialised enforcer.
func NewRuleStore(enforcer *casbin.SyncedEnforcer) *RuleStore {
	return &RuleStore{enforcer: enforcer, cache: make(map[Mount]*RuleSet)}
}

// List returns every stored rule in storage order.
func (s *RuleStore) List() ([]AccessRule, error) {
	policies, err := s.enforcer.GetPolicy()
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}

	rules := make([]AccessRule, 0, len(policies))
	for _, line := range policies {
		rule, err := RuleFromPolicy(line)
		if err != nil {
			return nil, fmt.Errorf("stored access rule %v: %w", line, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// RuleSet returns the ordered rules for mount.
func (s *RuleStore) RuleSet(mount Mount) (*RuleSet, error) {
	s.mu.RLock()
	set, ok := s.cache[mount]
	gen := s.gen
	s.mu.RUnlock()
	if ok {
		return set, nil
	}

	set, err := s.build(mount)
	if err != nil {
		return nil, err
	}
	s.store(mount, set, gen)
	return set, nil
}

func (s *RuleStore) build(mount Mount) (*RuleSet, error) {
	rules, err := s.List()
	if err != nil {
		return nil, err
	}
	var scoped []AccessRule
	for _, r := range rules {
		if r.Mount == mount {
			scoped = append(scoped, r)
		}
	}
	return NewRuleSet(scoped), nil
}

func (s *RuleStore) store(mount Mount, set *RuleSet, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.cache[mount] = set
	}
}

// Add persists a rule. Adding an existing rule is a no-op.
func (s *RuleStore) Add(rule AccessRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if _, err := s.enforcer.AddPolicy(toInterfaces(rule.Policy())...); err != nil {
		return fmt.Errorf("add access rule: %w", err)
	}
	s.invalidate()
	return nil
}

// Remove deletes a rule. It reports whether a rule was removed.
func (s *RuleStore) Remove(rule AccessRule) (bool, error) {
	removed, err := s.enforcer.RemovePolicy(toInterfaces(rule.Policy())...)
	if err != nil {
		return false, fmt.Errorf("remove access rule: %w", err)
	}
	s.invalidate()
	return removed, nil
}

// Reload re-reads rules from the database.
func (s *RuleStore) Reload() error {
	if err := s.enforcer.LoadPolicy(); err != nil {
		return fmt.Errorf("reload casbin policies: %w", err)
	}
	s.invalidate()
	return nil
}

// Covered reports whether any rule for mount matches path, using the
// enforcer's own keyMatch2 matcher.
func (s *RuleStore) Covered(mount Mount, path string) (bool, error) {
	return s.enforcer.Enforce(string(mount), path)
}

func (s *RuleStore) invalidate() {
	s.mu.Lock()
	s.cache = make(map[Mount]*RuleSet)
	s.gen++
	s.mu.Unlock()
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
