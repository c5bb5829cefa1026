package bunadapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2/model"
	"github.com/uptrace/bun"
)

// Derived from github.com/msales/casbin-bun-adapter v1.0.7 without the Postgres
// schema qualifier, so the same table works on SQLite.

// Adapter persists casbin policy lines through bun.
type Adapter struct {
	db *bun.DB
}

// NewAdapter creates an Adapter over an existing connection pool.
// The casbin_rules table must already exist (see migrations).
func NewAdapter(db *bun.DB) (*Adapter, error) {
	if db == nil {
		return nil, fmt.Errorf("bunadapter: nil db")
	}
	return &Adapter{db: db}, nil
}

// LoadPolicy loads every stored line into the model, in insertion order.
func (a *Adapter) LoadPolicy(m model.Model) error {
	var rules []*CasbinRule

	if err := a.db.NewSelect().Model(&rules).Scan(context.Background()); err != nil {
		return fmt.Errorf("failed to load policy from adapter db: %w", err)
	}

	for _, r := range rules {
		values, lastNonEmpty := r.toValueSlice()
		if lastNonEmpty == -1 {
			continue
		}
		_ = m.AddPolicy(sectionOf(r.Ptype), r.Ptype, values[:lastNonEmpty+1])
	}

	return nil
}

// SavePolicy replaces the stored policy with the model's.
func (a *Adapter) SavePolicy(m model.Model) error {
	var rules []*CasbinRule
	for _, sec := range []string{"p", "g"} {
		for ptype, assertion := range m[sec] {
			for _, rule := range assertion.Policy {
				rules = append(rules, NewRule(ptype, rule))
			}
		}
	}

	if err := a.save(true, rules...); err != nil {
		return fmt.Errorf("failed to save policy to adapter db: %w", err)
	}
	return nil
}

// AddPolicy adds one policy line.
func (a *Adapter) AddPolicy(_ string, ptype string, rule []string) error {
	if err := a.save(false, NewRule(ptype, rule)); err != nil {
		return fmt.Errorf("failed to add adapter policy rule: %w", err)
	}
	return nil
}

// AddPolicies adds several policy lines in one transaction.
func (a *Adapter) AddPolicies(_ string, ptype string, rules [][]string) error {
	lines := make([]*CasbinRule, 0, len(rules))
	for _, rule := range rules {
		lines = append(lines, NewRule(ptype, rule))
	}

	if err := a.save(false, lines...); err != nil {
		return fmt.Errorf("failed to add policy rules: %w", err)
	}
	return nil
}

// RemovePolicy removes one policy line.
func (a *Adapter) RemovePolicy(_ string, ptype string, rule []string) error {
	if err := a.delete(NewRule(ptype, rule)); err != nil {
		return fmt.Errorf("failed to remove adapter policy rule: %w", err)
	}
	return nil
}

// RemovePolicies removes several policy lines.
func (a *Adapter) RemovePolicies(_ string, ptype string, rules [][]string) error {
	lines := make([]*CasbinRule, 0, len(rules))
	for _, rule := range rules {
		lines = append(lines, NewRule(ptype, rule))
	}

	if err := a.delete(lines...); err != nil {
		return fmt.Errorf("failed to remove policy rules: %w", err)
	}
	return nil
}

// RemoveFilteredPolicy removes lines whose fields from fieldIndex on match fieldValues.
// Empty values act as wildcards.
func (a *Adapter) RemoveFilteredPolicy(_ string, ptype string, fieldIndex int, fieldValues ...string) error {
	query := a.db.NewDelete().Model((*CasbinRule)(nil)).Where("ptype = ?", ptype)

	for i, v := range fieldValues {
		col := fieldIndex + i
		if v == "" || col < 0 || col > 5 {
			continue
		}
		query = query.Where(fmt.Sprintf("v%d = ?", col), v)
	}

	if _, err := query.Exec(context.Background()); err != nil {
		return fmt.Errorf("failed to remove filtered adapter policy: %w", err)
	}
	return nil
}

func (a *Adapter) save(truncate bool, lines ...*CasbinRule) error {
	return a.db.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		if truncate {
			if _, err := tx.NewTruncateTable().Model((*CasbinRule)(nil)).Exec(ctx); err != nil {
				return err
			}
		}

		for _, line := range lines {
			if _, err := tx.NewInsert().Model(line).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (a *Adapter) delete(lines ...*CasbinRule) error {
	if len(lines) == 0 {
		return nil
	}

	q := a.db.NewDelete().Model((*CasbinRule)(nil))
	q.QueryBuilder().WhereGroup(" AND ", func(qb bun.QueryBuilder) bun.QueryBuilder {
		for _, line := range lines {
			line.QueryWhereGroup(qb)
		}
		return qb
	})

	_, err := q.Exec(context.Background())
	return err
}

func sectionOf(ptype string) string {
	if strings.HasPrefix(ptype, "g") {
		return "g"
	}
	return "p"
}

// CasbinRule is one stored policy line.
// For access rules: V0 mount, V1 path pattern, V2 mode, V3 tenant parameter.
type CasbinRule struct {
	bun.BaseModel `bun:"table:casbin_rules,alias:cr"`

	// Composite primary key over every field; no surrogate id.
	Ptype string `bun:",pk,type:varchar(100),notnull"`
	V0    string `bun:",pk,type:varchar(255)"`
	V1    string `bun:",pk,type:varchar(255)"`
	V2    string `bun:",pk,type:varchar(255)"`
	V3    string `bun:",pk,type:varchar(255)"`
	V4    string `bun:",pk,type:varchar(255)"`
	V5    string `bun:",pk,type:varchar(255)"`
}

// NewRule builds a stored line from a casbin policy slice.
func NewRule(ptype string, rule []string) *CasbinRule {
	line := &CasbinRule{Ptype: ptype}
	fields := []*string{&line.V0, &line.V1, &line.V2, &line.V3, &line.V4, &line.V5}
	for i, v := range rule {
		if i >= len(fields) {
			break
		}
		*fields[i] = v
	}
	return line
}

func (r *CasbinRule) String() string {
	values, lastNonEmpty := r.toValueSlice()
	parts := append([]string{r.Ptype}, values[:lastNonEmpty+1]...)
	return strings.Join(parts, ", ")
}

// QueryWhereGroup adds an OR group matching every non-empty field of r.
func (r *CasbinRule) QueryWhereGroup(q bun.QueryBuilder) bun.QueryBuilder {
	q.WhereGroup(" OR ", func(q bun.QueryBuilder) bun.QueryBuilder {
		q = q.Where("ptype = ?", r.Ptype)
		values, _ := r.toValueSlice()
		for i, v := range values {
			if v != "" {
				q = q.Where(fmt.Sprintf("v%d = ?", i), v)
			}
		}
		return q
	})
	return q
}

// toValueSlice returns the six value fields and the index of the last non-empty one.
// Empty fields in the middle are preserved.
func (r *CasbinRule) toValueSlice() ([]string, int) {
	values := []string{r.V0, r.V1, r.V2, r.V3, r.V4, r.V5}
	lastNonEmpty := -1
	for i := len(values) - 1; i >= 0; i-- {
		if values[i] != "" {
			lastNonEmpty = i
			break
		}
	}
	return values, lastNonEmpty
}
