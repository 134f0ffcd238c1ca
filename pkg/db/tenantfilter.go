package db

import (
	"context"
	"errors"

	"github.com/smallbiznis/flowline/internal/orgcontext"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrTenantRequired is returned when a tenant-scoped statement runs without an
// org in context and the filter is configured as required.
var ErrTenantRequired = errors.New("tenant_required")

type skipTenantFilterKey struct{}

// SkipTenantFilter marks the context so the tenant callback does not constrain
// statements. Reserved for administrative transactions.
func SkipTenantFilter(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipTenantFilterKey{}, true)
}

func tenantFilterSkipped(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	skipped, _ := ctx.Value(skipTenantFilterKey{}).(bool)
	return skipped
}

// TenantFilter injects org and livemode predicates into every statement on
// dialects without row-level security. Enforcement lives here so callers
// never hand-write tenant WHERE clauses.
type TenantFilter struct {
	orgColumn      string
	livemodeColumn string
	required       bool
}

func NewTenantFilter(required bool) *TenantFilter {
	return &TenantFilter{
		orgColumn:      "org_id",
		livemodeColumn: "livemode",
		required:       required,
	}
}

// Register installs the callbacks on the gorm instance.
func (tf *TenantFilter) Register(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register("tenant:before_query", tf.apply); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("gorm:row").Register("tenant:before_row", tf.apply); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("tenant:before_update", tf.apply); err != nil {
		return err
	}
	return db.Callback().Delete().Before("gorm:delete").Register("tenant:before_delete", tf.apply)
}

func (tf *TenantFilter) apply(db *gorm.DB) {
	stmt := db.Statement
	if stmt == nil || stmt.Context == nil {
		return
	}
	if stmt.Unscoped || tenantFilterSkipped(stmt.Context) {
		return
	}
	// Untracked models and raw statements are outside the filter's reach;
	// tenant-scoped raw SQL goes through the establisher's transaction.
	if stmt.Schema == nil {
		return
	}
	if stmt.Schema.LookUpField(tf.orgColumn) == nil {
		return
	}

	orgID, ok := orgcontext.OrgIDFromContext(stmt.Context)
	if !ok || orgID == 0 {
		if tf.required {
			_ = db.AddError(ErrTenantRequired)
		}
		return
	}

	exprs := []clause.Expression{
		clause.Eq{
			Column: clause.Column{Table: clause.CurrentTable, Name: tf.orgColumn},
			Value:  int64(orgID),
		},
	}
	if stmt.Schema.LookUpField(tf.livemodeColumn) != nil {
		if livemode, set := orgcontext.LivemodeFromContext(stmt.Context); set {
			exprs = append(exprs, clause.Eq{
				Column: clause.Column{Table: clause.CurrentTable, Name: tf.livemodeColumn},
				Value:  livemode,
			})
		}
	}

	stmt.AddClause(clause.Where{Exprs: exprs})
}
