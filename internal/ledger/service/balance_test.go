package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ledgerdomain "github.com/smallbiznis/flowline/internal/ledger/domain"
)

func (e *ledgerTestEnv) seedAccount(t *testing.T) snowflake.ID {
	t.Helper()
	account := &ledgerdomain.LedgerAccount{
		ID:             e.node.Generate(),
		OrgID:          e.orgID,
		SubscriptionID: e.subID,
		UsageMeterID:   e.meterID,
		Livemode:       true,
		NormalBalance:  ledgerdomain.NormalBalanceCredit,
	}
	require.NoError(t, e.db.Create(account).Error)
	return account.ID
}

func (e *ledgerTestEnv) seedEntry(t *testing.T, accountID snowflake.ID, direction ledgerdomain.EntryDirection, amount int64, status ledgerdomain.EntryStatus) {
	t.Helper()
	require.NoError(t, e.db.Create(&ledgerdomain.LedgerEntry{
		ID:                  e.node.Generate(),
		OrgID:               e.orgID,
		LedgerTransactionID: e.node.Generate(),
		LedgerAccountID:     accountID,
		SubscriptionID:      e.subID,
		Direction:           direction,
		EntryType:           ledgerdomain.EntryTypeCreditGrantRecognized,
		Amount:              amount,
		Status:              status,
		Livemode:            true,
	}).Error)
}

func TestBalance_PostedMode(t *testing.T) {
	env := newLedgerTestEnv(t)
	ctx := context.Background()
	tt := env.tenantTx()
	accountID := env.seedAccount(t)

	env.seedEntry(t, accountID, ledgerdomain.EntryDirectionCredit, 500, ledgerdomain.EntryStatusPosted)
	env.seedEntry(t, accountID, ledgerdomain.EntryDirectionDebit, 200, ledgerdomain.EntryStatusPosted)
	// Pending rows are invisible to posted reads.
	env.seedEntry(t, accountID, ledgerdomain.EntryDirectionDebit, 100, ledgerdomain.EntryStatusPending)
	env.seedEntry(t, accountID, ledgerdomain.EntryDirectionCredit, 300, ledgerdomain.EntryStatusPending)

	result, err := env.svc.Balance(ctx, tt, accountID, ledgerdomain.BalancePosted)
	require.NoError(t, err)
	assert.Equal(t, int64(300), result.Amount)
}

func TestBalance_AvailableModeSubtractsPendingDebits(t *testing.T) {
	env := newLedgerTestEnv(t)
	ctx := context.Background()
	tt := env.tenantTx()
	accountID := env.seedAccount(t)

	env.seedEntry(t, accountID, ledgerdomain.EntryDirectionCredit, 500, ledgerdomain.EntryStatusPosted)
	env.seedEntry(t, accountID, ledgerdomain.EntryDirectionDebit, 200, ledgerdomain.EntryStatusPosted)
	env.seedEntry(t, accountID, ledgerdomain.EntryDirectionDebit, 100, ledgerdomain.EntryStatusPending)
	// Pending credits never inflate the available figure.
	env.seedEntry(t, accountID, ledgerdomain.EntryDirectionCredit, 300, ledgerdomain.EntryStatusPending)

	result, err := env.svc.Balance(ctx, tt, accountID, ledgerdomain.BalanceAvailable)
	require.NoError(t, err)
	assert.Equal(t, int64(200), result.Amount)
}

func TestBalance_EmptyAccountIsZero(t *testing.T) {
	env := newLedgerTestEnv(t)
	ctx := context.Background()
	tt := env.tenantTx()
	accountID := env.seedAccount(t)

	result, err := env.svc.Balance(ctx, tt, accountID, ledgerdomain.BalancePosted)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Amount)
}

func TestBalance_UnknownAccount(t *testing.T) {
	env := newLedgerTestEnv(t)
	ctx := context.Background()
	tt := env.tenantTx()

	_, err := env.svc.Balance(ctx, tt, env.node.Generate(), ledgerdomain.BalancePosted)
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)
}

func TestBalance_InvalidMode(t *testing.T) {
	env := newLedgerTestEnv(t)
	ctx := context.Background()
	tt := env.tenantTx()
	accountID := env.seedAccount(t)

	_, err := env.svc.Balance(ctx, tt, accountID, ledgerdomain.BalanceMode("settled"))
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidBalanceMode)
}
