package orders

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-ledger/internal/config"
	"ms-ledger/internal/database"
	"ms-ledger/internal/events"
	"ms-ledger/internal/logger"
	"ms-ledger/internal/models"
	"ms-ledger/internal/testutil"
	"ms-ledger/internal/wallet"
	walletdb "ms-ledger/internal/wallet/db"
)

var topics = config.TopicConfig{OrderPlaced: "venue.order.placed", OrderRefunded: "venue.order.refunded"}

func message(t *testing.T, topic string, ev models.OrderEvent) kafka.Message {
	value, err := json.Marshal(ev)
	require.NoError(t, err)
	return kafka.Message{Topic: topic, Key: []byte(ev.OrderID), Value: value}
}

func setupWallets(t *testing.T) *wallet.WalletService {
	bunDB := testutil.NewSQLiteDB(t)
	svc := wallet.NewWalletService(walletdb.New(bunDB), database.NewRunner(bunDB), events.Nop{}, nil, logger.NewDiscard(),
		config.LedgerConfig{MaxAttempts: 5, RetryBackoff: time.Millisecond, DefaultCurrency: "EUR"})
	_, err := svc.CreateWallet(context.Background(), models.WalletSpec{Code: "ABC123", InitialCredit: decimal.NewFromInt(100)})
	require.NoError(t, err)
	return svc
}

func remaining(t *testing.T, svc *wallet.WalletService) string {
	w, err := svc.Get(context.Background(), "ABC123")
	require.NoError(t, err)
	return w.RemainingCredit.StringFixed(2)
}

func TestOrderPlacedDebitsOnce(t *testing.T) {
	svc := setupWallets(t)
	h := NewHandler(svc, topics, logger.NewDiscard())
	ctx := context.Background()

	msg := message(t, topics.OrderPlaced, models.OrderEvent{OrderID: "o-1", WalletCode: "abc123", Amount: "42.50"})
	require.NoError(t, h.Handle(ctx, msg))
	require.NoError(t, h.Handle(ctx, msg), "redelivery replays")
	assert.Equal(t, "57.50", remaining(t, svc))

	history, err := svc.History(ctx, "ABC123", 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "order:o-1", history[0].IdempotencyKey)
	assert.Equal(t, "o-1", history[0].OrderID)
}

func TestOrderRefundedCreditsBack(t *testing.T) {
	svc := setupWallets(t)
	h := NewHandler(svc, topics, logger.NewDiscard())
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, message(t, topics.OrderPlaced, models.OrderEvent{OrderID: "o-1", WalletCode: "ABC123", Amount: "30"})))
	require.NoError(t, h.Handle(ctx, message(t, topics.OrderRefunded, models.OrderEvent{OrderID: "o-1", WalletCode: "ABC123", Amount: "30"})))
	assert.Equal(t, "100.00", remaining(t, svc))

	// More than was debited is rejected and skipped.
	require.NoError(t, h.Handle(ctx, message(t, topics.OrderRefunded, models.OrderEvent{OrderID: "o-2", WalletCode: "ABC123", Amount: "5"})))
	assert.Equal(t, "100.00", remaining(t, svc))
}

func TestMalformedAndRejectedMessagesAreSkipped(t *testing.T) {
	svc := setupWallets(t)
	h := NewHandler(svc, topics, logger.NewDiscard())
	ctx := context.Background()

	msgs := []kafka.Message{
		{Topic: topics.OrderPlaced, Value: []byte(`not json`)},
		message(t, topics.OrderPlaced, models.OrderEvent{OrderID: "o-1", WalletCode: "ABC123", Amount: "ten"}),
		message(t, topics.OrderPlaced, models.OrderEvent{WalletCode: "ABC123", Amount: "10"}),
		message(t, topics.OrderPlaced, models.OrderEvent{OrderID: "o-2", WalletCode: "ABC123", Amount: "500"}),
		message(t, topics.OrderPlaced, models.OrderEvent{OrderID: "o-3", WalletCode: "NOPE00", Amount: "1"}),
		message(t, "some.other.topic", models.OrderEvent{OrderID: "o-4", WalletCode: "ABC123", Amount: "1"}),
	}
	for _, msg := range msgs {
		assert.NoError(t, h.Handle(ctx, msg))
	}
	assert.Equal(t, "100.00", remaining(t, svc))
}

type mockWallets struct {
	mock.Mock
}

func (m *mockWallets) Debit(ctx context.Context, code string, amount decimal.Decimal, opts models.DebitOptions) (*models.LedgerResult, error) {
	args := m.Called(ctx, code, amount, opts)
	res, _ := args.Get(0).(*models.LedgerResult)
	return res, args.Error(1)
}

func (m *mockWallets) Credit(ctx context.Context, code string, amount decimal.Decimal, txType models.TransactionType, opts models.CreditOptions) (*models.LedgerResult, error) {
	args := m.Called(ctx, code, amount, txType, opts)
	res, _ := args.Get(0).(*models.LedgerResult)
	return res, args.Error(1)
}

func TestTransientFailuresAreRetriedThenReturned(t *testing.T) {
	wallets := &mockWallets{}
	h := NewHandler(wallets, topics, logger.NewDiscard())
	h.backoff = time.Millisecond

	wallets.On("Debit", mock.Anything, "ABC123", mock.Anything, mock.Anything).Return(nil, models.ErrContention).Times(transientAttempts)

	err := h.Handle(context.Background(), message(t, topics.OrderPlaced, models.OrderEvent{OrderID: "o-1", WalletCode: "ABC123", Amount: "1"}))
	assert.ErrorIs(t, err, models.ErrContention)
	wallets.AssertNumberOfCalls(t, "Debit", transientAttempts)
}

func TestTransientFailureRecovers(t *testing.T) {
	wallets := &mockWallets{}
	h := NewHandler(wallets, topics, logger.NewDiscard())
	h.backoff = time.Millisecond

	ok := &models.LedgerResult{Wallet: &models.Wallet{Code: "ABC123"}, Transaction: &models.Transaction{}}
	wallets.On("Credit", mock.Anything, "ABC123", mock.Anything, models.TransactionRefund, mock.MatchedBy(func(o models.CreditOptions) bool {
		return o.IdempotencyKey == "refund:o-9"
	})).Return(nil, models.ErrConcurrentModification).Once()
	wallets.On("Credit", mock.Anything, "ABC123", mock.Anything, models.TransactionRefund, mock.Anything).Return(ok, nil).Once()

	err := h.Handle(context.Background(), message(t, topics.OrderRefunded, models.OrderEvent{OrderID: "o-9", WalletCode: "ABC123", Amount: "2"}))
	assert.NoError(t, err)
	wallets.AssertExpectations(t)
}
