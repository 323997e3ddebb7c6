package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-ledger/internal/config"
	"ms-ledger/internal/database"
	"ms-ledger/internal/events"
	"ms-ledger/internal/logger"
	"ms-ledger/internal/models"
	"ms-ledger/internal/testutil"
	walletdb "ms-ledger/internal/wallet/db"
)

// contendedStore loses the compare-and-swap for the first conflicts balance
// updates, as if another writer had moved the balance each time.
type contendedStore struct {
	*walletdb.DB
	conflicts int
	calls     int
}

func (c *contendedStore) ApplyBalanceDelta(ctx context.Context, code string, delta, expectedBefore decimal.Decimal) (*models.Wallet, error) {
	c.calls++
	if c.conflicts > 0 {
		c.conflicts--
		return nil, models.ErrConcurrentModification
	}
	return c.DB.ApplyBalanceDelta(ctx, code, delta, expectedBefore)
}

func setupContended(t *testing.T, conflicts, maxAttempts int) (*WalletService, *contendedStore) {
	bunDB := testutil.NewSQLiteDB(t)
	store := &contendedStore{DB: walletdb.New(bunDB), conflicts: conflicts}
	cfg := config.LedgerConfig{MaxAttempts: maxAttempts, RetryBackoff: time.Millisecond, DefaultCurrency: "EUR"}
	svc := NewWalletService(store, database.NewRunner(bunDB), &events.Recorder{}, nil, logger.NewDiscard(), cfg)

	_, err := svc.CreateWallet(context.Background(), models.WalletSpec{Code: "CAS001", InitialCredit: dec("100")})
	require.NoError(t, err)
	return svc, store
}

func TestDebitRetriesAfterLostCompareAndSwap(t *testing.T) {
	svc, store := setupContended(t, 2, 3)
	ctx := context.Background()

	res, err := svc.Debit(ctx, "CAS001", dec("10"), debitOpts("cas-1"))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, "90.00", res.Wallet.RemainingCredit.StringFixed(2))
	assert.Equal(t, 3, store.calls)

	history, err := svc.History(ctx, "CAS001", 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, res.Transaction.ID, history[0].ID)
}

func TestDebitGivesUpWithContention(t *testing.T) {
	svc, store := setupContended(t, 5, 3)
	ctx := context.Background()

	_, err := svc.Debit(ctx, "CAS001", dec("10"), debitOpts("cas-1"))
	assert.ErrorIs(t, err, models.ErrContention)
	assert.Equal(t, 3, store.calls)

	w, err := svc.Get(ctx, "CAS001")
	require.NoError(t, err)
	assert.Equal(t, "100.00", w.RemainingCredit.StringFixed(2))

	history, err := svc.History(ctx, "CAS001", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCreditRetriesAfterLostCompareAndSwap(t *testing.T) {
	svc, _ := setupContended(t, 0, 3)
	ctx := context.Background()
	_, err := svc.Debit(ctx, "CAS001", dec("40"), debitOpts("cas-1"))
	require.NoError(t, err)

	svc.store.(*contendedStore).conflicts = 2
	res, err := svc.Credit(ctx, "CAS001", dec("15"), models.TransactionCredit, models.CreditOptions{IdempotencyKey: "cas-2"})
	require.NoError(t, err)
	assert.Equal(t, "75.00", res.Wallet.RemainingCredit.StringFixed(2))

	history, err := svc.History(ctx, "CAS001", 0, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
