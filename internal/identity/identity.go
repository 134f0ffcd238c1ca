// Package identity resolves acting tenant, user, and livemode from a
// presented credential. Pure lookup, no mutation.
package identity

import (
	"errors"

	"github.com/bwmarrin/snowflake"
)

// AuthType records which credential produced the identity.
type AuthType string

const (
	AuthTypeAPIKey       AuthType = "api_key"
	AuthTypeSession      AuthType = "session"
	AuthTypeImpersonated AuthType = "impersonated"
)

// Identity is the resolved claim a transaction context is established for.
type Identity struct {
	OrgID    snowflake.ID
	UserID   snowflake.ID
	Role     string
	Livemode bool
	AuthType AuthType
}

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNoFocusedMembership = errors.New("no_focused_membership")
)
