package identity

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apikeydomain "github.com/smallbiznis/flowline/internal/apikey/domain"
	orgdomain "github.com/smallbiznis/flowline/internal/organization/domain"
)

type resolverTestEnv struct {
	db       *gorm.DB
	node     *snowflake.Node
	resolver *Resolver
	orgID    snowflake.ID
	userID   snowflake.ID
}

func newResolverTestEnv(t *testing.T) *resolverTestEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&orgdomain.Organization{},
		&orgdomain.User{},
		&orgdomain.Membership{},
		&apikeydomain.APIKey{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return &resolverTestEnv{
		db:       db,
		node:     node,
		resolver: NewResolver(Params{DB: db, Log: zap.NewNop()}),
		orgID:    node.Generate(),
		userID:   node.Generate(),
	}
}

func (e *resolverTestEnv) seedKey(t *testing.T, raw string, mutate func(*apikeydomain.APIKey)) apikeydomain.APIKey {
	t.Helper()
	key := apikeydomain.APIKey{
		ID:        e.node.Generate(),
		OrgID:     e.orgID,
		UserID:    e.userID,
		KeyType:   apikeydomain.KeyTypeSecret,
		Name:      "server",
		Scopes:    pq.StringArray{apikeydomain.ScopeUsageWrite, apikeydomain.ScopeLedgerRead},
		TokenHash: apikeydomain.HashToken(raw),
		Livemode:  true,
		IsActive:  true,
	}
	if mutate != nil {
		mutate(&key)
	}
	require.NoError(t, e.db.Create(&key).Error)
	return key
}

func (e *resolverTestEnv) seedMembership(t *testing.T, userID snowflake.ID, role orgdomain.MembershipRole, focused bool) {
	t.Helper()
	require.NoError(t, e.db.Create(&orgdomain.Membership{
		ID:      e.node.Generate(),
		OrgID:   e.orgID,
		UserID:  userID,
		Role:    role,
		Focused: focused,
	}).Error)
}

func TestResolveAPIKey_ValidToken(t *testing.T) {
	env := newResolverTestEnv(t)
	raw := apikeydomain.MintToken(apikeydomain.KeyTypeSecret, true)
	env.seedKey(t, raw, nil)
	env.seedMembership(t, env.userID, orgdomain.RoleOwner, true)

	id, scopes, err := env.resolver.ResolveAPIKeyWithScopes(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, env.orgID, id.OrgID)
	assert.Equal(t, env.userID, id.UserID)
	assert.Equal(t, string(orgdomain.RoleOwner), id.Role)
	assert.True(t, id.Livemode)
	assert.Equal(t, AuthTypeAPIKey, id.AuthType)
	assert.ElementsMatch(t, []string{apikeydomain.ScopeUsageWrite, apikeydomain.ScopeLedgerRead}, scopes)
}

func TestResolveAPIKey_NoMembershipDefaultsToMember(t *testing.T) {
	env := newResolverTestEnv(t)
	raw := apikeydomain.MintToken(apikeydomain.KeyTypeSecret, true)
	env.seedKey(t, raw, nil)

	id, err := env.resolver.ResolveAPIKey(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, string(orgdomain.RoleMember), id.Role)
}

func TestResolveAPIKey_UnknownToken(t *testing.T) {
	env := newResolverTestEnv(t)
	env.seedKey(t, apikeydomain.MintToken(apikeydomain.KeyTypeSecret, true), nil)

	_, err := env.resolver.ResolveAPIKey(context.Background(), "sk_live_nonsense")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestResolveAPIKey_EmptyToken(t *testing.T) {
	env := newResolverTestEnv(t)

	_, err := env.resolver.ResolveAPIKey(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestResolveAPIKey_InactiveKey(t *testing.T) {
	env := newResolverTestEnv(t)
	raw := apikeydomain.MintToken(apikeydomain.KeyTypeSecret, true)
	env.seedKey(t, raw, func(k *apikeydomain.APIKey) { k.IsActive = false })

	_, err := env.resolver.ResolveAPIKey(context.Background(), raw)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestResolveAPIKey_ExpiredKey(t *testing.T) {
	env := newResolverTestEnv(t)
	raw := apikeydomain.MintToken(apikeydomain.KeyTypeSecret, true)
	expired := time.Now().UTC().Add(-time.Hour)
	env.seedKey(t, raw, func(k *apikeydomain.APIKey) { k.ExpiresAt = &expired })

	_, err := env.resolver.ResolveAPIKey(context.Background(), raw)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestResolveSession_FocusedMembership(t *testing.T) {
	env := newResolverTestEnv(t)
	env.seedMembership(t, env.userID, orgdomain.RoleOwner, true)

	id, err := env.resolver.ResolveSession(context.Background(), env.userID)
	require.NoError(t, err)
	assert.Equal(t, env.orgID, id.OrgID)
	assert.Equal(t, env.userID, id.UserID)
	assert.Equal(t, string(orgdomain.RoleOwner), id.Role)
	assert.Equal(t, AuthTypeSession, id.AuthType)
}

func TestMembership_SecondFocusedRowRejected(t *testing.T) {
	env := newResolverTestEnv(t)
	env.seedMembership(t, env.userID, orgdomain.RoleOwner, true)

	err := env.db.Create(&orgdomain.Membership{
		ID:      env.node.Generate(),
		OrgID:   env.node.Generate(),
		UserID:  env.userID,
		Role:    orgdomain.RoleMember,
		Focused: true,
	}).Error
	require.Error(t, err)

	// An unfocused membership in another organization is still allowed.
	require.NoError(t, env.db.Create(&orgdomain.Membership{
		ID:      env.node.Generate(),
		OrgID:   env.node.Generate(),
		UserID:  env.userID,
		Role:    orgdomain.RoleMember,
		Focused: false,
	}).Error)
}

func TestResolveSession_NoFocusedMembership(t *testing.T) {
	env := newResolverTestEnv(t)
	env.seedMembership(t, env.userID, orgdomain.RoleOwner, false)

	_, err := env.resolver.ResolveSession(context.Background(), env.userID)
	assert.ErrorIs(t, err, ErrNoFocusedMembership)
}

func TestResolveImpersonated_MarksAuthType(t *testing.T) {
	env := newResolverTestEnv(t)
	env.seedMembership(t, env.userID, orgdomain.RoleMember, true)

	id, err := env.resolver.ResolveImpersonated(context.Background(), env.userID)
	require.NoError(t, err)
	assert.Equal(t, AuthTypeImpersonated, id.AuthType)
}
