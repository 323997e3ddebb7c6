package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"ms-ledger/internal/config"
	"ms-ledger/internal/logger"
	"ms-ledger/internal/models"
)

// transientAttempts bounds retries of contention and timeouts before the
// message is handed back to the consumer.
const transientAttempts = 3

// Wallets is the part of the wallet service order events drive.
type Wallets interface {
	Debit(ctx context.Context, code string, amount decimal.Decimal, opts models.DebitOptions) (*models.LedgerResult, error)
	Credit(ctx context.Context, code string, amount decimal.Decimal, txType models.TransactionType, opts models.CreditOptions) (*models.LedgerResult, error)
}

// Handler turns order events into ledger entries. Each order maps to a fixed
// idempotency key, so a redelivered message replays instead of applying twice.
type Handler struct {
	wallets Wallets
	topics  config.TopicConfig
	logger  *logger.Logger
	backoff time.Duration
}

func NewHandler(wallets Wallets, topics config.TopicConfig, log *logger.Logger) *Handler {
	return &Handler{wallets: wallets, topics: topics, logger: log, backoff: 100 * time.Millisecond}
}

// Handle processes one message. Malformed messages and rejected entries are
// logged and skipped; only failures that may succeed later are returned.
func (h *Handler) Handle(ctx context.Context, msg kafka.Message) error {
	var ev models.OrderEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		h.logger.Warn("KAFKA", fmt.Sprintf("Skipping malformed message at offset %d on %s: %v", msg.Offset, msg.Topic, err))
		return nil
	}
	amount, err := ev.ParsedAmount()
	if err != nil {
		h.logger.Warn("KAFKA", fmt.Sprintf("Skipping order %q on %s: %v", ev.OrderID, msg.Topic, err))
		return nil
	}

	// The topic picks the ledger entry; keys are derived from the order ID
	var apply func() (*models.LedgerResult, error)
	switch msg.Topic {
	case h.topics.OrderPlaced:
		apply = func() (*models.LedgerResult, error) {
			return h.wallets.Debit(ctx, ev.WalletCode, amount, models.DebitOptions{
				OrderID:        ev.OrderID,
				Source:         models.SourceApp,
				IdempotencyKey: "order:" + ev.OrderID,
				Notes:          ev.Notes,
			})
		}
	case h.topics.OrderRefunded:
		apply = func() (*models.LedgerResult, error) {
			return h.wallets.Credit(ctx, ev.WalletCode, amount, models.TransactionRefund, models.CreditOptions{
				OrderID:        ev.OrderID,
				Source:         models.SourceApp,
				IdempotencyKey: "refund:" + ev.OrderID,
				Notes:          ev.Notes,
			})
		}
	default:
		h.logger.Warn("KAFKA", fmt.Sprintf("Ignoring message from unexpected topic %s", msg.Topic))
		return nil
	}

	for attempt := 1; ; attempt++ {
		res, err := apply()
		if err == nil {
			verb := "Applied"
			if res.Replayed {
				verb = "Replayed"
			}
			h.logger.LogKafka("APPLY", msg.Topic, fmt.Sprintf("%s order %s on %s, remaining %s", verb, ev.OrderID,
				res.Wallet.Code, res.Wallet.RemainingCredit.StringFixed(2)))
			return nil
		}

		switch models.KindOf(err) {
		// Contention and timeouts: retry here, then leave the offset uncommitted
		case models.KindTransient:
			if attempt >= transientAttempts {
				return fmt.Errorf("order %s: %w", ev.OrderID, err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(h.backoff * time.Duration(attempt)):
			}
		case models.KindInternal:
			return fmt.Errorf("order %s: %w", ev.OrderID, err)
		// Business rejections will not change on redelivery
		default:
			h.logger.Warn("KAFKA", fmt.Sprintf("Order %s rejected for wallet %s: %v", ev.OrderID, ev.WalletCode, err))
			return nil
		}
	}
}
