package service

import (
	"context"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/flowline/internal/apikey/domain"
	"github.com/smallbiznis/flowline/internal/identity"
	"github.com/smallbiznis/flowline/internal/orgcontext"
	"github.com/smallbiznis/flowline/pkg/db/pagination"
)

type apikeyTestEnv struct {
	db    *gorm.DB
	node  *snowflake.Node
	svc   domain.Service
	orgID snowflake.ID
}

func newAPIKeyTestEnv(t *testing.T) *apikeyTestEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.APIKey{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return &apikeyTestEnv{
		db:    db,
		node:  node,
		svc:   NewService(Params{DB: db, Log: zap.NewNop(), GenID: node}),
		orgID: node.Generate(),
	}
}

func (e *apikeyTestEnv) orgCtx() context.Context {
	ctx := orgcontext.WithOrgID(context.Background(), int64(e.orgID))
	return orgcontext.WithUserID(ctx, int64(e.node.Generate()))
}

func TestAPIKeyCreate_MintsSecretOnce(t *testing.T) {
	env := newAPIKeyTestEnv(t)

	secret, err := env.svc.Create(env.orgCtx(), domain.CreateRequest{
		Name:     "backend",
		KeyType:  domain.KeyTypeSecret,
		Livemode: true,
		Scopes:   []string{domain.ScopeUsageWrite},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(secret.APIKey, "sk_live_"))

	var stored domain.APIKey
	require.NoError(t, env.db.First(&stored, "org_id = ?", env.orgID).Error)
	assert.Equal(t, domain.HashToken(secret.APIKey), stored.TokenHash)
	assert.NotEqual(t, secret.APIKey, stored.TokenHash)
	assert.True(t, stored.IsActive)
}

func TestAPIKeyCreate_DefaultsToSecretType(t *testing.T) {
	env := newAPIKeyTestEnv(t)

	secret, err := env.svc.Create(env.orgCtx(), domain.CreateRequest{Name: "default", Livemode: false})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(secret.APIKey, "sk_test_"))
}

func TestAPIKeyCreate_NoScopesStoresEmptyArray(t *testing.T) {
	env := newAPIKeyTestEnv(t)

	secret, err := env.svc.Create(env.orgCtx(), domain.CreateRequest{Name: "scopeless", Livemode: false})
	require.NoError(t, err)

	var stored domain.APIKey
	require.NoError(t, env.db.First(&stored, "token_hash = ?", domain.HashToken(secret.APIKey)).Error)
	assert.Empty(t, stored.Scopes)
	assert.False(t, stored.Livemode)
}

func TestAPIKeyCreate_Validation(t *testing.T) {
	env := newAPIKeyTestEnv(t)
	ctx := env.orgCtx()

	_, err := env.svc.Create(ctx, domain.CreateRequest{Name: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidName)

	_, err = env.svc.Create(ctx, domain.CreateRequest{Name: "x", KeyType: "hybrid"})
	assert.ErrorIs(t, err, domain.ErrInvalidKeyType)

	_, err = env.svc.Create(context.Background(), domain.CreateRequest{Name: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)
}

func TestAPIKeyList_ScopedToOrg(t *testing.T) {
	env := newAPIKeyTestEnv(t)
	ctx := env.orgCtx()

	_, err := env.svc.Create(ctx, domain.CreateRequest{Name: "mine", Livemode: true})
	require.NoError(t, err)

	other := domain.APIKey{
		ID:        env.node.Generate(),
		OrgID:     env.node.Generate(),
		UserID:    env.node.Generate(),
		KeyType:   domain.KeyTypeSecret,
		Name:      "theirs",
		Scopes:    []string{},
		TokenHash: domain.HashToken("sk_live_other"),
		IsActive:  true,
	}
	require.NoError(t, env.db.Create(&other).Error)

	keys, err := env.svc.List(ctx, pagination.Pagination{})
	require.NoError(t, err)
	require.Len(t, keys.Data, 1)
	assert.Equal(t, "mine", keys.Data[0].Name)
}

func TestAPIKeyList_CursorPagination(t *testing.T) {
	env := newAPIKeyTestEnv(t)
	ctx := env.orgCtx()

	for _, name := range []string{"first", "second", "third"} {
		_, err := env.svc.Create(ctx, domain.CreateRequest{Name: name, Livemode: true})
		require.NoError(t, err)
	}

	page1, err := env.svc.List(ctx, pagination.Pagination{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page1.Data, 2)
	assert.True(t, page1.PageInfo.HasMore)
	assert.Equal(t, "third", page1.Data[0].Name)
	assert.Equal(t, "second", page1.Data[1].Name)

	page2, err := env.svc.List(ctx, pagination.Pagination{
		PageSize:  2,
		PageToken: page1.PageInfo.NextPageToken,
	})
	require.NoError(t, err)
	require.Len(t, page2.Data, 1)
	assert.False(t, page2.PageInfo.HasMore)
	assert.Equal(t, "first", page2.Data[0].Name)

	_, err = env.svc.List(ctx, pagination.Pagination{PageToken: "not-base64!"})
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)
}

func TestAPIKeyRotate_InvalidatesOldToken(t *testing.T) {
	env := newAPIKeyTestEnv(t)
	ctx := env.orgCtx()

	created, err := env.svc.Create(ctx, domain.CreateRequest{Name: "rotating", Livemode: true})
	require.NoError(t, err)

	rotated, err := env.svc.Rotate(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, rotated.ID)
	assert.NotEqual(t, created.APIKey, rotated.APIKey)

	resolver := identity.NewResolver(identity.Params{DB: env.db, Log: zap.NewNop()})
	_, err = resolver.ResolveAPIKey(ctx, created.APIKey)
	assert.ErrorIs(t, err, identity.ErrUnauthorized)
	id, err := resolver.ResolveAPIKey(ctx, rotated.APIKey)
	require.NoError(t, err)
	assert.Equal(t, env.orgID, id.OrgID)
}

func TestAPIKeyRevoke_DeactivatesKey(t *testing.T) {
	env := newAPIKeyTestEnv(t)
	ctx := env.orgCtx()

	created, err := env.svc.Create(ctx, domain.CreateRequest{Name: "doomed", Livemode: true})
	require.NoError(t, err)
	require.NoError(t, env.svc.Revoke(ctx, created.ID))

	var stored domain.APIKey
	require.NoError(t, env.db.First(&stored, "id = ?", created.ID).Error)
	assert.False(t, stored.IsActive)

	// A revoked key cannot be rotated back to life.
	_, err = env.svc.Rotate(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAPIKeyRotate_UnknownID(t *testing.T) {
	env := newAPIKeyTestEnv(t)

	_, err := env.svc.Rotate(env.orgCtx(), "not-a-snowflake")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
