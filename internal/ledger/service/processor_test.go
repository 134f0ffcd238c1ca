package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/flowline/internal/config"
	ledgerdomain "github.com/smallbiznis/flowline/internal/ledger/domain"
	subscriptiondomain "github.com/smallbiznis/flowline/internal/subscription/domain"
	"github.com/smallbiznis/flowline/internal/tenancy"
	usagedomain "github.com/smallbiznis/flowline/internal/usage/domain"
)

type ledgerTestEnv struct {
	db      *gorm.DB
	node    *snowflake.Node
	svc     *Service
	orgID   snowflake.ID
	subID   snowflake.ID
	meterID snowflake.ID
}

func newLedgerTestEnv(t *testing.T) *ledgerTestEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&usagedomain.UsageEvent{},
		&ledgerdomain.LedgerAccount{},
		&ledgerdomain.LedgerTransaction{},
		&ledgerdomain.LedgerEntry{},
		&ledgerdomain.UsageCredit{},
		&ledgerdomain.UsageCreditApplication{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		Log:    zap.NewNop(),
		GenID:  node,
		Policy: config.NewStaticCreditPolicyHolder(config.DefaultCreditPolicy()),
	})

	env := &ledgerTestEnv{
		db:      db,
		node:    node,
		svc:     svc,
		orgID:   node.Generate(),
		subID:   node.Generate(),
		meterID: node.Generate(),
	}

	require.NoError(t, db.Create(&subscriptiondomain.Subscription{
		ID:         env.subID,
		OrgID:      env.orgID,
		CustomerID: node.Generate(),
		Status:     subscriptiondomain.SubscriptionStatusActive,
		Currency:   "USD",
		Livemode:   true,
		Metadata:   map[string]any{},
	}).Error)

	return env
}

func (e *ledgerTestEnv) tenantTx() *tenancy.TenantTx {
	return &tenancy.TenantTx{
		Tx:       e.db,
		OrgID:    e.orgID,
		UserID:   e.node.Generate(),
		Role:     "owner",
		Livemode: true,
	}
}

func (e *ledgerTestEnv) seedCredit(t *testing.T, amount int64, expiresAt *time.Time) snowflake.ID {
	t.Helper()
	credit := &ledgerdomain.UsageCredit{
		ID:             e.node.Generate(),
		OrgID:          e.orgID,
		SubscriptionID: e.subID,
		UsageMeterID:   e.meterID,
		CreditType:     ledgerdomain.CreditTypePromo,
		IssuedAmount:   amount,
		ExpiresAt:      expiresAt,
		Livemode:       true,
	}
	require.NoError(t, e.db.Create(credit).Error)
	return credit.ID
}

func (e *ledgerTestEnv) usageEvent(amount int64, key string) *usagedomain.UsageEvent {
	return &usagedomain.UsageEvent{
		ID:             e.node.Generate(),
		OrgID:          e.orgID,
		SubscriptionID: e.subID,
		UsageMeterID:   e.meterID,
		Amount:         amount,
		IdempotencyKey: key,
		Livemode:       true,
		Properties:     map[string]any{},
		RecordedAt:     time.Now().UTC(),
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestProcess_UsageEventConsumesCreditsInExpiryOrder(t *testing.T) {
	env := newLedgerTestEnv(t)
	ctx := context.Background()
	tt := env.tenantTx()

	soon := timePtr(time.Now().UTC().Add(24 * time.Hour))
	later := timePtr(time.Now().UTC().Add(48 * time.Hour))
	firstID := env.seedCredit(t, 30, soon)
	secondID := env.seedCredit(t, 90, later)

	result, err := env.svc.Process(ctx, tt, ledgerdomain.UsageEventProcessed{
		Event: env.usageEvent(100, "evt-1"),
	})
	require.NoError(t, err)
	assert.False(t, result.AlreadyProcessed)

	require.Len(t, result.Applications, 2)
	assert.Equal(t, firstID, result.Applications[0].UsageCreditID)
	assert.Equal(t, int64(30), result.Applications[0].Amount)
	assert.Equal(t, secondID, result.Applications[1].UsageCreditID)
	assert.Equal(t, int64(70), result.Applications[1].Amount)

	// One usage cost debit plus a matched pair per application.
	require.Len(t, result.Entries, 5)
	assert.Equal(t, ledgerdomain.EntryTypeUsageCost, result.Entries[0].EntryType)
	assert.Equal(t, int64(100), result.Entries[0].Amount)

	var debits, credits int64
	for _, entry := range result.Entries[1:] {
		switch entry.Direction {
		case ledgerdomain.EntryDirectionDebit:
			debits += entry.Amount
		case ledgerdomain.EntryDirectionCredit:
			credits += entry.Amount
		}
	}
	assert.Equal(t, debits, credits)
	assert.Equal(t, int64(100), debits)
}

func TestProcess_UsageEventIdempotentReplay(t *testing.T) {
	env := newLedgerTestEnv(t)
	ctx := context.Background()
	tt := env.tenantTx()
	env.seedCredit(t, 50, nil)

	event := env.usageEvent(80, "evt-replay")
	first, err := env.svc.Process(ctx, tt, ledgerdomain.UsageEventProcessed{Event: event})
	require.NoError(t, err)
	assert.False(t, first.AlreadyProcessed)

	second, err := env.svc.Process(ctx, tt, ledgerdomain.UsageEventProcessed{Event: event})
	require.NoError(t, err)
	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)

	var headerCount, entryCount, appCount int64
	env.db.Model(&ledgerdomain.LedgerTransaction{}).Count(&headerCount)
	env.db.Model(&ledgerdomain.LedgerEntry{}).Count(&entryCount)
	env.db.Model(&ledgerdomain.UsageCreditApplication{}).Count(&appCount)
	assert.Equal(t, int64(1), headerCount)
	assert.Equal(t, int64(3), entryCount)
	assert.Equal(t, int64(1), appCount)
}

func TestProcess_TestmodeRowsStayInTestPartition(t *testing.T) {
	env := newLedgerTestEnv(t)
	ctx := context.Background()
	tt := env.tenantTx()
	tt.Livemode = false

	credit := &ledgerdomain.UsageCredit{
		ID:             env.node.Generate(),
		OrgID:          env.orgID,
		SubscriptionID: env.subID,
		UsageMeterID:   env.meterID,
		CreditType:     ledgerdomain.CreditTypePromo,
		IssuedAmount:   50,
		Livemode:       false,
	}
	require.NoError(t, env.db.Create(credit).Error)

	event := env.usageEvent(30, "evt-testmode")
	event.Livemode = false

	result, err := env.svc.Process(ctx, tt, ledgerdomain.UsageEventProcessed{Event: event})
	require.NoError(t, err)
	require.Len(t, result.Applications, 1)

	var storedCredit ledgerdomain.UsageCredit
	require.NoError(t, env.db.First(&storedCredit, "id = ?", credit.ID).Error)
	assert.False(t, storedCredit.Livemode)

	var header ledgerdomain.LedgerTransaction
	require.NoError(t, env.db.First(&header, "id = ?", result.Transaction.ID).Error)
	assert.False(t, header.Livemode)

	var entries []ledgerdomain.LedgerEntry
	require.NoError(t, env.db.Find(&entries, "ledger_transaction_id = ?", header.ID).Error)
	require.NotEmpty(t, entries)
	for _, entry := range entries {
		assert.False(t, entry.Livemode)
	}

	var app ledgerdomain.UsageCreditApplication
	require.NoError(t, env.db.First(&app, "usage_event_id = ?", event.ID).Error)
	assert.False(t, app.Livemode)
}

func TestProcess_ExpiredCreditNotConsumed(t *testing.T) {
	env := newLedgerTestEnv(t)
	ctx := context.Background()
	tt := env.tenantTx()

	env.seedCredit(t, 500, timePtr(time.Now().UTC().Add(-time.Hour)))

	result, err := env.svc.Process(ctx, tt, ledgerdomain.UsageEventProcessed{
		Event: env.usageEvent(100, "evt-expired"),
	})
	require.NoError(t, err)
	assert.Empty(t, result.Applications)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, ledgerdomain.EntryTypeUsageCost, result.Entries[0].EntryType)
}

func TestProcess_EqualExpiryBreaksTieById(t *testing.T) {
	env := newLedgerTestEnv(t)
	ctx := context.Background()
	tt := env.tenantTx()

	expiry := timePtr(time.Now().UTC().Add(24 * time.Hour))
	olderID := env.seedCredit(t, 40, expiry)
	env.seedCredit(t, 40, expiry)

	result, err := env.svc.Process(ctx, tt, ledgerdomain.UsageEventProcessed{
		Event: env.usageEvent(20, "evt-tie"),
	})
	require.NoError(t, err)
	require.Len(t, result.Applications, 1)
	assert.Equal(t, olderID, result.Applications[0].UsageCreditID)
}

func TestProcess_UnknownSubscriptionFailsBeforePosting(t *testing.T) {
	env := newLedgerTestEnv(t)
	ctx := context.Background()
	tt := env.tenantTx()

	event := env.usageEvent(100, "evt-bad-sub")
	event.SubscriptionID = env.node.Generate()

	_, err := env.svc.Process(ctx, tt, ledgerdomain.UsageEventProcessed{Event: event})
	require.ErrorIs(t, err, ledgerdomain.ErrInvalidSubscription)

	var headerCount int64
	env.db.Model(&ledgerdomain.LedgerTransaction{}).Count(&headerCount)
	assert.Equal(t, int64(0), headerCount)
}

func TestProcess_BillingRunSharesOneHeader(t *testing.T) {
	env := newLedgerTestEnv(t)
	ctx := context.Background()
	tt := env.tenantTx()

	env.seedCredit(t, 100, nil)
	runID := env.node.Generate()

	result, err := env.svc.Process(ctx, tt, ledgerdomain.BillingRunUsageProcessed{
		BillingRunID:   runID,
		SubscriptionID: env.subID,
		Events: []*usagedomain.UsageEvent{
			env.usageEvent(60, "run-evt-1"),
			env.usageEvent(80, "run-evt-2"),
		},
	})
	require.NoError(t, err)

	// The second event only gets what the first left behind.
	require.Len(t, result.Applications, 2)
	assert.Equal(t, int64(60), result.Applications[0].Amount)
	assert.Equal(t, int64(40), result.Applications[1].Amount)

	var headerCount int64
	env.db.Model(&ledgerdomain.LedgerTransaction{}).Count(&headerCount)
	assert.Equal(t, int64(1), headerCount)
}

func TestProcess_AdjustmentSigns(t *testing.T) {
	env := newLedgerTestEnv(t)
	ctx := context.Background()
	tt := env.tenantTx()

	grant, err := env.svc.Process(ctx, tt, ledgerdomain.AdminCreditAdjusted{
		AdjustmentID:   env.node.Generate(),
		SubscriptionID: env.subID,
		UsageMeterID:   env.meterID,
		Amount:         250,
		Reason:         "goodwill",
	})
	require.NoError(t, err)
	require.Len(t, grant.Entries, 1)
	assert.Equal(t, ledgerdomain.EntryDirectionCredit, grant.Entries[0].Direction)
	assert.Equal(t, int64(250), grant.Entries[0].Amount)

	clawback, err := env.svc.Process(ctx, tt, ledgerdomain.AdminCreditAdjusted{
		AdjustmentID:   env.node.Generate(),
		SubscriptionID: env.subID,
		UsageMeterID:   env.meterID,
		Amount:         -100,
		Reason:         "correction",
	})
	require.NoError(t, err)
	require.Len(t, clawback.Entries, 1)
	assert.Equal(t, ledgerdomain.EntryDirectionDebit, clawback.Entries[0].Direction)
	assert.Equal(t, int64(100), clawback.Entries[0].Amount)

	_, err = env.svc.Process(ctx, tt, ledgerdomain.AdminCreditAdjusted{
		AdjustmentID:   env.node.Generate(),
		SubscriptionID: env.subID,
		UsageMeterID:   env.meterID,
		Amount:         0,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAmount)
}

func TestProcess_PaymentConfirmedCreatesCreditOnce(t *testing.T) {
	env := newLedgerTestEnv(t)
	ctx := context.Background()
	tt := env.tenantTx()

	cmd := ledgerdomain.PaymentConfirmed{
		PaymentID:      env.node.Generate(),
		SubscriptionID: env.subID,
		UsageMeterID:   env.meterID,
		Amount:         1000,
		Currency:       "USD",
	}

	first, err := env.svc.Process(ctx, tt, cmd)
	require.NoError(t, err)
	require.Len(t, first.Entries, 1)
	assert.Equal(t, ledgerdomain.EntryTypeCreditGrantRecognized, first.Entries[0].EntryType)

	second, err := env.svc.Process(ctx, tt, cmd)
	require.NoError(t, err)
	assert.True(t, second.AlreadyProcessed)

	var creditCount int64
	env.db.Model(&ledgerdomain.UsageCredit{}).Count(&creditCount)
	assert.Equal(t, int64(1), creditCount)
}

func TestProcess_CreditGrantExpiredWritesOffRemainder(t *testing.T) {
	env := newLedgerTestEnv(t)
	ctx := context.Background()
	tt := env.tenantTx()

	creditID := env.seedCredit(t, 300, timePtr(time.Now().UTC().Add(-time.Minute)))
	require.NoError(t, env.db.Create(&ledgerdomain.UsageCreditApplication{
		ID:            env.node.Generate(),
		OrgID:         env.orgID,
		UsageCreditID: creditID,
		UsageEventID:  env.node.Generate(),
		Amount:        120,
		Status:        ledgerdomain.EntryStatusPosted,
		Livemode:      true,
	}).Error)

	var credit ledgerdomain.UsageCredit
	require.NoError(t, env.db.First(&credit, "id = ?", creditID).Error)

	result, err := env.svc.Process(ctx, tt, ledgerdomain.CreditGrantExpired{Credit: &credit})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, ledgerdomain.EntryDirectionDebit, result.Entries[0].Direction)
	assert.Equal(t, ledgerdomain.EntryTypeCreditBalanceAdjusted, result.Entries[0].EntryType)
	assert.Equal(t, int64(180), result.Entries[0].Amount)
}

func TestProcess_CreditGrantExpiredRejectsUnexpired(t *testing.T) {
	env := newLedgerTestEnv(t)
	ctx := context.Background()
	tt := env.tenantTx()

	creditID := env.seedCredit(t, 300, timePtr(time.Now().UTC().Add(time.Hour)))
	var credit ledgerdomain.UsageCredit
	require.NoError(t, env.db.First(&credit, "id = ?", creditID).Error)

	_, err := env.svc.Process(ctx, tt, ledgerdomain.CreditGrantExpired{Credit: &credit})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidCredit)
}

func TestProcess_PaymentRefundedPostsDebit(t *testing.T) {
	env := newLedgerTestEnv(t)
	ctx := context.Background()
	tt := env.tenantTx()

	result, err := env.svc.Process(ctx, tt, ledgerdomain.PaymentRefunded{
		RefundID:       env.node.Generate(),
		PaymentID:      env.node.Generate(),
		SubscriptionID: env.subID,
		UsageMeterID:   env.meterID,
		Amount:         400,
	})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, ledgerdomain.EntryDirectionDebit, result.Entries[0].Direction)
	assert.Equal(t, ledgerdomain.EntryTypeRefundDebit, result.Entries[0].EntryType)
}
