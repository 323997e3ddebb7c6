package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ms-ledger/internal/database"
	"ms-ledger/internal/metrics"
	"ms-ledger/internal/models"
)

// entrySpec describes one balance change. check runs inside the transaction
// against the freshly read wallet, after the replay lookup.
type entrySpec struct {
	txType  models.TransactionType
	amount  decimal.Decimal
	orderID string
	source  string
	notes   string
	key     string
	check   func(ctx context.Context, w *models.Wallet) error
}

// Debit takes amount off the remaining credit. A repeated idempotency key
// returns the entry recorded the first time with Replayed set.
func (s *WalletService) Debit(ctx context.Context, code string, amount decimal.Decimal, opts models.DebitOptions) (*models.LedgerResult, error) {
	key := strings.TrimSpace(opts.IdempotencyKey)
	if key == "" {
		return nil, models.ErrMissingIdempotencyKey
	}
	source := opts.Source
	if source == "" {
		source = models.SourceApp
	}
	if !models.ValidSource(source) {
		return nil, models.ErrInvalidSource
	}

	return s.apply(ctx, code, entrySpec{
		txType:  models.TransactionDebit,
		amount:  amount,
		orderID: opts.OrderID,
		source:  source,
		notes:   opts.Notes,
		key:     key,
		check: func(_ context.Context, w *models.Wallet) error {
			if amount.GreaterThan(w.RemainingCredit) {
				return fmt.Errorf("%w: remaining %s, requested %s", models.ErrInsufficientCredit,
					w.RemainingCredit.StringFixed(2), amount.StringFixed(2))
			}
			return nil
		},
	})
}

// Credit adds amount back to the remaining credit. credit and refund entries
// cannot lift the balance above the initial credit, and a refund for an
// order cannot exceed what was debited for it. adjustment is an
// administrative override without a ceiling.
func (s *WalletService) Credit(ctx context.Context, code string, amount decimal.Decimal, txType models.TransactionType, opts models.CreditOptions) (*models.LedgerResult, error) {
	if !txType.Valid() || !txType.Increases() {
		return nil, models.ErrInvalidTransactionType
	}
	source := opts.Source
	if source == "" {
		source = models.SourceStaff
		if txType == models.TransactionAdjustment {
			source = models.SourceAdjustment
		}
	}
	if !models.ValidSource(source) {
		return nil, models.ErrInvalidSource
	}

	return s.apply(ctx, code, entrySpec{
		txType:  txType,
		amount:  amount,
		orderID: opts.OrderID,
		source:  source,
		notes:   opts.Notes,
		key:     strings.TrimSpace(opts.IdempotencyKey),
		check: func(ctx context.Context, w *models.Wallet) error {
			if txType == models.TransactionAdjustment {
				return nil
			}
			if txType == models.TransactionRefund && opts.OrderID != "" {
				refundable, err := s.refundable(ctx, w.ID, opts.OrderID)
				if err != nil {
					return err
				}
				if amount.GreaterThan(refundable) {
					return fmt.Errorf("%w: order %s has %s left to refund", models.ErrRefundExceedsDebit,
						opts.OrderID, refundable.StringFixed(2))
				}
			}
			if w.RemainingCredit.Add(amount).GreaterThan(w.InitialCredit) {
				return models.ErrCreditCeiling
			}
			return nil
		},
	})
}

// refundable is what was debited for an order minus what was refunded for it.
func (s *WalletService) refundable(ctx context.Context, walletID, orderID string) (decimal.Decimal, error) {
	txs, err := s.store.ListTransactionsByOrder(ctx, walletID, orderID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list transactions for order %s: %w", orderID, err)
	}
	net := decimal.Zero
	for _, t := range txs {
		switch t.Type {
		case models.TransactionDebit:
			net = net.Add(t.Amount)
		case models.TransactionRefund:
			net = net.Sub(t.Amount)
		}
	}
	return net, nil
}

// apply runs one balance change under the compare-and-swap retry loop and
// records metrics and a log line for the outcome.
func (s *WalletService) apply(ctx context.Context, code string, spec entrySpec) (*models.LedgerResult, error) {
	op := string(spec.txType)

	result, err := s.withRetry(ctx, op, func() (*models.LedgerResult, error) {
		// Lazy expiry has to commit on its own, outside the balance transaction.
		current, err := s.Get(ctx, code)
		if err != nil {
			return nil, err
		}

		var result *models.LedgerResult
		err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
			// Step 1: Re-read the wallet inside the transaction
			w, err := s.store.GetWallet(ctx, current.Code)
			if err != nil {
				return err
			}
			if w.Status != models.WalletStatusActive {
				return fmt.Errorf("%w: wallet %s is %s", models.ErrWalletNotActive, w.Code, w.Status)
			}
			if !spec.amount.IsPositive() {
				return models.ErrInvalidAmount
			}

			// Step 2: A known idempotency key short-circuits to the recorded entry
			if spec.key != "" {
				existing, err := s.store.FindTransactionByKey(ctx, w.ID, spec.key)
				if err == nil {
					result = &models.LedgerResult{Wallet: w, Transaction: existing, Replayed: true}
					return nil
				}
				if !errors.Is(err, models.ErrNotFound) {
					return err
				}
			}

			// Step 3: Operation-specific limits (balance, ceiling, refundable)
			if err := spec.check(ctx, w); err != nil {
				return err
			}

			// Step 4: Swap the balance only if nobody moved it since Step 1
			delta := spec.amount
			if spec.txType == models.TransactionDebit {
				delta = delta.Neg()
			}
			updated, err := s.store.ApplyBalanceDelta(ctx, w.Code, delta, w.RemainingCredit)
			if err != nil {
				return err
			}

			// Step 5: Append the ledger row; its sequence is the new wallet version
			entry := &models.Transaction{
				ID:             uuid.New().String(),
				WalletID:       updated.ID,
				Sequence:       updated.Version,
				Type:           spec.txType,
				Amount:         spec.amount,
				BalanceAfter:   updated.RemainingCredit,
				OrderID:        spec.orderID,
				Source:         spec.source,
				Notes:          spec.notes,
				IdempotencyKey: spec.key,
				CreatedAt:      updated.UpdatedAt,
			}
			stored, applied, err := s.store.AppendTransaction(ctx, entry)
			if err != nil {
				return err
			}
			if applied {
				// Raced with the same key; roll back and pick up the winner as a replay.
				return models.ErrAlreadyApplied
			}

			result = &models.LedgerResult{Wallet: updated, Transaction: stored}
			// Subscribers only hear about committed balances
			database.AfterCommit(ctx, func() {
				s.emitter.Emit(ctx, models.NewWalletChangedEvent(actionFor(spec.txType), updated, stored))
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	})

	if err != nil {
		metrics.RecordLedgerOperation(op, string(models.KindOf(err)))
		if models.KindOf(err) == models.KindInternal {
			s.logger.Error("WALLET", fmt.Sprintf("%s on %s failed: %v", op, code, err))
		}
		return nil, err
	}

	if result.Replayed {
		metrics.RecordLedgerOperation(op, "replayed")
		s.logger.LogWallet(strings.ToUpper(op), result.Wallet.Code, fmt.Sprintf("Replayed key %s -> transaction %s", spec.key, result.Transaction.ID))
		return result, nil
	}

	metrics.RecordLedgerOperation(op, "applied")
	s.logger.LogWallet(strings.ToUpper(op), result.Wallet.Code, fmt.Sprintf("%s %s, remaining %s (seq %d)",
		op, spec.amount.StringFixed(2), result.Wallet.RemainingCredit.StringFixed(2), result.Transaction.Sequence))
	return result, nil
}

// withRetry re-runs fn while it fails with a transient conflict, backing off
// linearly, and gives up with ErrContention.
func (s *WalletService) withRetry(ctx context.Context, op string, fn func() (*models.LedgerResult, error)) (*models.LedgerResult, error) {
	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, models.ErrConcurrentModification) && !errors.Is(err, models.ErrAlreadyApplied) {
			return nil, err
		}

		metrics.RecordLedgerRetry(op)
		// No sleep after the final attempt
		if attempt == s.config.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.config.RetryBackoff * time.Duration(attempt)):
		}
	}
	return nil, models.ErrContention
}

func actionFor(t models.TransactionType) string {
	switch t {
	case models.TransactionDebit:
		return "debited"
	case models.TransactionRefund:
		return "refunded"
	case models.TransactionAdjustment:
		return "adjusted"
	}
	return "credited"
}
