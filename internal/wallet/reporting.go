package wallet

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"ms-ledger/internal/models"
)

// Reconcile recomputes the remaining credit from the ledger and compares it
// with the stored balance.
func (s *WalletService) Reconcile(ctx context.Context, code string) (*models.Reconciliation, error) {
	w, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}

	txs, err := s.store.ListTransactions(ctx, w.ID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list transactions for %s: %w", w.Code, err)
	}

	debits, credits := decimal.Zero, decimal.Zero
	for _, t := range txs {
		if t.Type == models.TransactionDebit {
			debits = debits.Add(t.Amount)
		} else {
			credits = credits.Add(t.Amount)
		}
	}
	derived := w.InitialCredit.Sub(debits).Add(credits)

	rec := &models.Reconciliation{
		Code:      w.Code,
		Stored:    w.RemainingCredit,
		Derived:   derived,
		Entries:   len(txs),
		Debits:    debits,
		Credits:   credits,
		Balanced:  derived.Equal(w.RemainingCredit),
		CheckedAt: s.now(),
	}
	if !rec.Balanced {
		s.logger.Warn("WALLET", fmt.Sprintf("Ledger drift on %s: stored %s, derived %s", w.Code,
			w.RemainingCredit.StringFixed(4), derived.StringFixed(4)))
	}
	return rec, nil
}

// ListByEvent returns the wallets bound to the event's floor elements.
func (s *WalletService) ListByEvent(ctx context.Context, eventID string) ([]models.Wallet, error) {
	if s.elements == nil {
		return nil, fmt.Errorf("no floor directory configured")
	}
	ids, err := s.elements.ListElementIDs(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list elements for event %s: %w", eventID, err)
	}
	return s.store.ListWalletsByElements(ctx, ids)
}

// SummaryForEvent aggregates the spend of every wallet bound in an event.
func (s *WalletService) SummaryForEvent(ctx context.Context, eventID string) (*models.EventSpendSummary, error) {
	wallets, err := s.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	summary := &models.EventSpendSummary{
		EventID:        eventID,
		Wallets:        len(wallets),
		ByStatus:       map[models.WalletStatus]int{},
		TotalInitial:   decimal.Zero,
		TotalRemaining: decimal.Zero,
		TotalConsumed:  decimal.Zero,
	}
	for i := range wallets {
		w := &wallets[i]
		summary.ByStatus[w.Status]++
		summary.TotalInitial = summary.TotalInitial.Add(w.InitialCredit)
		summary.TotalRemaining = summary.TotalRemaining.Add(w.RemainingCredit)
		summary.TotalConsumed = summary.TotalConsumed.Add(w.Consumed())
		if !w.RemainingCredit.IsPositive() {
			summary.GoalsMet++
		}
	}
	return summary, nil
}
