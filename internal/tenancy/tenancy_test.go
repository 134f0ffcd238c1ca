package tenancy

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/flowline/internal/config"
	"github.com/smallbiznis/flowline/internal/identity"
	meterdomain "github.com/smallbiznis/flowline/internal/meter/domain"
	"github.com/smallbiznis/flowline/pkg/db"
)

type tenancyTestEnv struct {
	conn        *gorm.DB
	node        *snowflake.Node
	establisher *Establisher
	orgA        snowflake.ID
	orgB        snowflake.ID
	userA       snowflake.ID
}

func newTenancyTestEnv(t *testing.T) *tenancyTestEnv {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&meterdomain.UsageMeter{}))
	require.NoError(t, db.NewTenantFilter(false).Register(conn))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zap.NewNop()
	est := NewEstablisher(Params{
		DB:       conn,
		Log:      log,
		Cfg:      config.Config{DBType: "sqlite"},
		Resolver: identity.NewResolver(identity.Params{DB: conn, Log: log}),
	})

	env := &tenancyTestEnv{
		conn:        conn,
		node:        node,
		establisher: est,
		orgA:        node.Generate(),
		orgB:        node.Generate(),
		userA:       node.Generate(),
	}
	env.seedMeter(t, env.orgA, "api_calls", true)
	env.seedMeter(t, env.orgA, "api_calls", false)
	env.seedMeter(t, env.orgB, "api_calls", true)
	env.seedMeter(t, env.orgB, "storage_gb", true)
	return env
}

func (e *tenancyTestEnv) seedMeter(t *testing.T, orgID snowflake.ID, code string, livemode bool) meterdomain.UsageMeter {
	t.Helper()
	meter := meterdomain.UsageMeter{
		ID:       e.node.Generate(),
		OrgID:    orgID,
		Code:     code,
		Name:     code,
		Livemode: livemode,
	}
	require.NoError(t, e.conn.Create(&meter).Error)
	return meter
}

func (e *tenancyTestEnv) tenantIdentity() identity.Identity {
	return identity.Identity{
		OrgID:    e.orgA,
		UserID:   e.userA,
		Role:     "owner",
		Livemode: true,
		AuthType: identity.AuthTypeAPIKey,
	}
}

func TestRunAsTenant_QueriesConfinedToClaim(t *testing.T) {
	env := newTenancyTestEnv(t)
	ctx := context.Background()

	err := env.establisher.RunAsTenant(ctx, env.tenantIdentity(), func(ctx context.Context, tt *TenantTx) error {
		var meters []meterdomain.UsageMeter
		if err := tt.Tx.Find(&meters).Error; err != nil {
			return err
		}
		require.Len(t, meters, 1)
		assert.Equal(t, env.orgA, meters[0].OrgID)
		assert.True(t, meters[0].Livemode)
		return nil
	})
	require.NoError(t, err)
}

func TestRunAsTenant_LivemodePartition(t *testing.T) {
	env := newTenancyTestEnv(t)
	id := env.tenantIdentity()
	id.Livemode = false

	err := env.establisher.RunAsTenant(context.Background(), id, func(ctx context.Context, tt *TenantTx) error {
		var meters []meterdomain.UsageMeter
		if err := tt.Tx.Find(&meters).Error; err != nil {
			return err
		}
		require.Len(t, meters, 1)
		assert.False(t, meters[0].Livemode)
		return nil
	})
	require.NoError(t, err)
}

func TestRunAsTenant_UpdatesConfinedToClaim(t *testing.T) {
	env := newTenancyTestEnv(t)

	err := env.establisher.RunAsTenant(context.Background(), env.tenantIdentity(), func(ctx context.Context, tt *TenantTx) error {
		// No explicit org predicate; the filter must supply it.
		return tt.Tx.Model(&meterdomain.UsageMeter{}).
			Where("code = ?", "api_calls").
			Update("name", "renamed").Error
	})
	require.NoError(t, err)

	var renamed, untouched int64
	require.NoError(t, env.conn.Model(&meterdomain.UsageMeter{}).Where("name = ?", "renamed").Count(&renamed).Error)
	require.NoError(t, env.conn.Model(&meterdomain.UsageMeter{}).
		Where("org_id = ? AND name <> ?", env.orgB, "renamed").Count(&untouched).Error)
	assert.Equal(t, int64(1), renamed)
	assert.Equal(t, int64(2), untouched)
}

func TestRunAsTenant_RejectsIncompleteIdentity(t *testing.T) {
	env := newTenancyTestEnv(t)

	err := env.establisher.RunAsTenant(context.Background(), identity.Identity{UserID: env.userA}, func(ctx context.Context, tt *TenantTx) error {
		t.Fatal("unit of work must not run without an organization claim")
		return nil
	})
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = env.establisher.RunAsTenant(context.Background(), identity.Identity{OrgID: env.orgA}, func(ctx context.Context, tt *TenantTx) error {
		t.Fatal("unit of work must not run without a user claim")
		return nil
	})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRunAsTenant_ErrorRollsBack(t *testing.T) {
	env := newTenancyTestEnv(t)
	boom := errors.New("boom")

	err := env.establisher.RunAsTenant(context.Background(), env.tenantIdentity(), func(ctx context.Context, tt *TenantTx) error {
		meter := meterdomain.UsageMeter{
			ID:       env.node.Generate(),
			OrgID:    env.orgA,
			Code:     "uncommitted",
			Name:     "uncommitted",
			Livemode: true,
		}
		if err := tt.Tx.Create(&meter).Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, env.conn.Model(&meterdomain.UsageMeter{}).Where("code = ?", "uncommitted").Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestRunAsAdmin_SeesAllTenants(t *testing.T) {
	env := newTenancyTestEnv(t)

	err := env.establisher.RunAsAdmin(context.Background(), AdminOptions{Livemode: true}, func(ctx context.Context, tt *TenantTx) error {
		var meters []meterdomain.UsageMeter
		if err := tt.Tx.Find(&meters).Error; err != nil {
			return err
		}
		assert.Len(t, meters, 4)
		return nil
	})
	require.NoError(t, err)
}

func TestRunAsAdmin_PinnedOrgStampsHandle(t *testing.T) {
	env := newTenancyTestEnv(t)

	err := env.establisher.RunAsAdmin(context.Background(), AdminOptions{OrgID: env.orgB, Livemode: true}, func(ctx context.Context, tt *TenantTx) error {
		assert.Equal(t, env.orgB, tt.OrgID)
		assert.True(t, tt.Livemode)
		return nil
	})
	require.NoError(t, err)
}
