package rls

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Session GUCs read by the row-level security policies. SET LOCAL scopes
// them to the enclosing transaction; pooled connections are still cleared
// before a new claim is installed.
const (
	GUCOrgID    = "request.flowline.org_id"
	GUCUserID   = "request.flowline.user_id"
	GUCRole     = "request.flowline.role"
	GUCLivemode = "request.flowline.livemode"
)

// Database roles the policies are attached to.
const (
	RoleAuthenticated = "flowline_authenticated"
	RoleAdmin         = "flowline_admin"
)

// Claim is the identity installed into transaction-session state.
type Claim struct {
	OrgID    snowflake.ID
	UserID   snowflake.ID
	Role     string
	Livemode bool
}

// ClearSession wipes any residual claim left on a pooled connection.
func ClearSession(tx *gorm.DB) error {
	for _, guc := range []string{GUCOrgID, GUCUserID, GUCRole, GUCLivemode} {
		if err := tx.Exec("SELECT set_config(?, '', true)", guc).Error; err != nil {
			return fmt.Errorf("clear session %s: %w", guc, err)
		}
	}
	return nil
}

// SetSession installs the claim and switches to the policy-bearing role.
// Every statement on the transaction afterwards is constrained by RLS.
func SetSession(tx *gorm.DB, claim Claim, dbRole string) error {
	pairs := []struct {
		guc   string
		value string
	}{
		{GUCOrgID, claim.OrgID.String()},
		{GUCUserID, claim.UserID.String()},
		{GUCRole, claim.Role},
		{GUCLivemode, fmt.Sprintf("%t", claim.Livemode)},
	}
	for _, pair := range pairs {
		if err := tx.Exec("SELECT set_config(?, ?, true)", pair.guc, pair.value).Error; err != nil {
			return fmt.Errorf("set session %s: %w", pair.guc, err)
		}
	}
	// Role names cannot be bound as parameters.
	if dbRole != RoleAuthenticated && dbRole != RoleAdmin {
		return fmt.Errorf("unknown database role %q", dbRole)
	}
	if err := tx.Exec("SET LOCAL ROLE " + dbRole).Error; err != nil {
		return fmt.Errorf("set role %s: %w", dbRole, err)
	}
	return nil
}

// SetAdminSession installs the superuser identity used by trusted internal
// code paths. No per-user claim is set; the admin role bypasses the
// policies, so only livemode is pinned.
func SetAdminSession(tx *gorm.DB, livemode bool) error {
	if err := tx.Exec("SELECT set_config(?, ?, true)", GUCLivemode, fmt.Sprintf("%t", livemode)).Error; err != nil {
		return fmt.Errorf("set session %s: %w", GUCLivemode, err)
	}
	if err := tx.Exec("SET LOCAL ROLE " + RoleAdmin).Error; err != nil {
		return fmt.Errorf("set role %s: %w", RoleAdmin, err)
	}
	return nil
}

// ResetRole drops back to the unprivileged session default. Pooled
// connections are reused across unrelated requests, so an elevated role must
// never outlive the logical transaction that set it.
func ResetRole(tx *gorm.DB) error {
	return tx.Exec("RESET ROLE").Error
}
