package identity

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	apikeydomain "github.com/smallbiznis/flowline/internal/apikey/domain"
	orgdomain "github.com/smallbiznis/flowline/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

// Resolver turns credentials into identity claims. Lookups run on the shared
// handle outside any tenant transaction; the api_keys and memberships tables
// are readable by the resolver's unprivileged role.
type Resolver struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewResolver(p Params) *Resolver {
	return &Resolver{
		db:  p.DB,
		log: p.Log.Named("identity.resolver"),
	}
}

// ResolveAPIKey verifies a presented raw token. An API key is itself scoped
// to one organization and one livemode partition, so no focused membership
// is consulted.
func (r *Resolver) ResolveAPIKey(ctx context.Context, token string) (Identity, error) {
	id, _, err := r.ResolveAPIKeyWithScopes(ctx, token)
	return id, err
}

// ResolveAPIKeyWithScopes additionally returns the key's granted scopes for
// route-level authorization.
func (r *Resolver) ResolveAPIKeyWithScopes(ctx context.Context, token string) (Identity, []string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, nil, ErrUnauthorized
	}

	hash := apikeydomain.HashToken(token)
	now := time.Now().UTC()

	var record struct {
		ID        snowflake.ID   `gorm:"column:id"`
		OrgID     snowflake.ID   `gorm:"column:org_id"`
		UserID    snowflake.ID   `gorm:"column:user_id"`
		TokenHash string         `gorm:"column:token_hash"`
		Scopes    pq.StringArray `gorm:"column:scopes"`
		Livemode  bool           `gorm:"column:livemode"`
	}

	if err := r.db.WithContext(ctx).Raw(
		`SELECT id, org_id, user_id, token_hash, scopes, livemode
		 FROM api_keys
		 WHERE token_hash = ?
		   AND is_active = true
		   AND (expires_at IS NULL OR expires_at > ?)
		 LIMIT 1`,
		hash,
		now,
	).Scan(&record).Error; err != nil {
		return Identity{}, nil, err
	}

	if record.ID == 0 || subtle.ConstantTimeCompare([]byte(record.TokenHash), []byte(hash)) != 1 {
		return Identity{}, nil, ErrUnauthorized
	}

	role := string(orgdomain.RoleMember)
	if record.UserID != 0 {
		var membership orgdomain.Membership
		err := r.db.WithContext(ctx).
			Where("org_id = ? AND user_id = ?", record.OrgID, record.UserID).
			First(&membership).Error
		if err == nil {
			role = string(membership.Role)
		}
	}

	scopes := make([]string, 0, len(record.Scopes))
	scopes = append(scopes, record.Scopes...)

	return Identity{
		OrgID:    record.OrgID,
		UserID:   record.UserID,
		Role:     role,
		Livemode: record.Livemode,
		AuthType: AuthTypeAPIKey,
	}, scopes, nil
}

// ResolveSession builds the identity for a web-authenticated user from their
// focused membership. Exactly one membership per user may be focused; the
// focused org is the tenant the session acts in.
func (r *Resolver) ResolveSession(ctx context.Context, userID snowflake.ID) (Identity, error) {
	if userID == 0 {
		return Identity{}, ErrUnauthorized
	}

	var membership orgdomain.Membership
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND focused = ?", userID, true).
		First(&membership).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return Identity{}, ErrNoFocusedMembership
		}
		return Identity{}, err
	}

	return Identity{
		OrgID:    membership.OrgID,
		UserID:   userID,
		Role:     string(membership.Role),
		Livemode: true,
		AuthType: AuthTypeSession,
	}, nil
}

// ResolveImpersonated builds a synthetic claim for a target user without a
// live credential. Used by trusted internal code running work "as" a
// customer.
func (r *Resolver) ResolveImpersonated(ctx context.Context, userID snowflake.ID) (Identity, error) {
	id, err := r.ResolveSession(ctx, userID)
	if err != nil {
		return Identity{}, err
	}
	id.AuthType = AuthTypeImpersonated
	return id, nil
}
