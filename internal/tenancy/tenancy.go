// Package tenancy establishes per-request, per-tenant transaction contexts.
// Every tenant-scoped mutation in the system runs inside one of its entry
// points; callers never write tenant WHERE clauses themselves.
package tenancy

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/flowline/internal/config"
	"github.com/smallbiznis/flowline/internal/identity"
	"github.com/smallbiznis/flowline/internal/orgcontext"
	"github.com/smallbiznis/flowline/pkg/db"
	"github.com/smallbiznis/flowline/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrUnauthorized is surfaced before any statement runs when the identity
// cannot scope a tenant transaction.
var ErrUnauthorized = errors.New("unauthorized")

// TenantTx is the scoped handle a unit of work receives. Every statement on
// Tx is constrained to the claim's organization and livemode partition.
type TenantTx struct {
	Tx       *gorm.DB
	OrgID    snowflake.ID
	UserID   snowflake.ID
	Role     string
	Livemode bool
}

// UnitOfWork runs inside one established tenant transaction. A returned
// error rolls the whole transaction back; nothing partial persists.
type UnitOfWork func(ctx context.Context, tt *TenantTx) error

// AdminOptions tune an administrative transaction. A nonzero OrgID pins the
// transaction to one organization so rows written under it carry a real
// tenant; zero leaves the transaction cross-tenant for read-side sweeps.
type AdminOptions struct {
	OrgID    snowflake.ID
	Livemode bool
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	Resolver *identity.Resolver
}

// Establisher opens database transactions with tenant/user/role/livemode
// claims installed in session state before any caller code runs, and clears
// them on the way out regardless of outcome.
type Establisher struct {
	db         *gorm.DB
	log        *zap.Logger
	resolver   *identity.Resolver
	rlsEnabled bool
}

func NewEstablisher(p Params) *Establisher {
	return &Establisher{
		db:         p.DB,
		log:        p.Log.Named("tenancy.establisher"),
		resolver:   p.Resolver,
		rlsEnabled: db.SupportsRowLevelSecurity(p.Cfg),
	}
}

// RunAsTenant executes fn inside a transaction scoped to the resolved
// identity. The full policy set applies, including the focused-membership
// constraint for session identities.
func (e *Establisher) RunAsTenant(ctx context.Context, id identity.Identity, fn UnitOfWork) error {
	if id.OrgID == 0 || id.UserID == 0 {
		return ErrUnauthorized
	}
	return e.run(ctx, id, fn)
}

// RunAsUser executes fn as a specific target user without a live credential.
// The synthetic identity follows the user's focused membership.
func (e *Establisher) RunAsUser(ctx context.Context, userID snowflake.ID, fn UnitOfWork) error {
	id, err := e.resolver.ResolveImpersonated(ctx, userID)
	if err != nil {
		return err
	}
	return e.run(ctx, id, fn)
}

// RunAsAdmin executes fn as the superuser identity, bypassing per-user
// claims. Only trusted internal code paths (schedulers, reconciliation) may
// call it; it is never reachable from interactive or API-driven requests.
func (e *Establisher) RunAsAdmin(ctx context.Context, opts AdminOptions, fn UnitOfWork) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) (err error) {
		if e.rlsEnabled {
			if err := rls.ClearSession(tx); err != nil {
				return err
			}
			if err := rls.SetAdminSession(tx, opts.Livemode); err != nil {
				return err
			}
			defer e.resetRole(tx)
		}

		runCtx := db.SkipTenantFilter(ctx)
		runCtx = orgcontext.WithLivemode(runCtx, opts.Livemode)
		if opts.OrgID != 0 {
			runCtx = orgcontext.WithOrgID(runCtx, int64(opts.OrgID))
		}

		return fn(runCtx, &TenantTx{
			Tx:       tx.WithContext(runCtx),
			OrgID:    opts.OrgID,
			Role:     rls.RoleAdmin,
			Livemode: opts.Livemode,
		})
	})
}

func (e *Establisher) run(ctx context.Context, id identity.Identity, fn UnitOfWork) error {
	claim := rls.Claim{
		OrgID:    id.OrgID,
		UserID:   id.UserID,
		Role:     id.Role,
		Livemode: id.Livemode,
	}

	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) (err error) {
		if e.rlsEnabled {
			// Pooled connections can carry residual session state from an
			// unrelated prior transaction; clear before installing the claim.
			if err := rls.ClearSession(tx); err != nil {
				return err
			}
			if err := rls.SetSession(tx, claim, rls.RoleAuthenticated); err != nil {
				return err
			}
			defer e.resetRole(tx)
		}

		runCtx := orgcontext.WithOrgID(ctx, int64(id.OrgID))
		runCtx = orgcontext.WithUserID(runCtx, int64(id.UserID))
		runCtx = orgcontext.WithLivemode(runCtx, id.Livemode)

		return fn(runCtx, &TenantTx{
			Tx:       tx.WithContext(runCtx),
			OrgID:    id.OrgID,
			UserID:   id.UserID,
			Role:     id.Role,
			Livemode: id.Livemode,
		})
	})
}

// resetRole runs on every exit path, success or failure, so a failed request
// never leaves an elevated role on a pooled connection.
func (e *Establisher) resetRole(tx *gorm.DB) {
	if err := rls.ResetRole(tx); err != nil {
		e.log.Warn("failed to reset session role", zap.Error(err))
	}
}
