package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type TransactionType string

const (
	TransactionDebit      TransactionType = "debit"
	TransactionCredit     TransactionType = "credit"
	TransactionRefund     TransactionType = "refund"
	TransactionAdjustment TransactionType = "adjustment"
)

// Increases reports whether the transaction type adds to the remaining credit.
func (t TransactionType) Increases() bool {
	return t == TransactionCredit || t == TransactionRefund || t == TransactionAdjustment
}

func (t TransactionType) Valid() bool {
	return t == TransactionDebit || t.Increases()
}

const (
	SourceApp        = "app"
	SourceStaff      = "staff"
	SourceMigration  = "migration"
	SourceAdjustment = "adjustment"
)

// ValidSource reports whether s is one of the known origin tags.
func ValidSource(s string) bool {
	switch s {
	case SourceApp, SourceStaff, SourceMigration, SourceAdjustment:
		return true
	}
	return false
}

// Transaction is one append-only ledger entry. Sequence is the wallet version
// the entry produced, so entries of a wallet are totally ordered.
type Transaction struct {
	bun.BaseModel `bun:"table:wallet_transactions,alias:t"`

	ID             string          `bun:"id,pk" json:"id"`
	WalletID       string          `bun:"wallet_id,notnull" json:"wallet_id"`
	Sequence       int64           `bun:"sequence,notnull" json:"sequence"`
	Type           TransactionType `bun:"type,notnull" json:"type"`
	Amount         decimal.Decimal `bun:"amount,type:decimal(20,4),notnull" json:"amount"`
	BalanceAfter   decimal.Decimal `bun:"balance_after,type:decimal(20,4),notnull" json:"balance_after"`
	OrderID        string          `bun:"order_id,nullzero" json:"order_id,omitempty"`
	Source         string          `bun:"source,notnull" json:"source"`
	Notes          string          `bun:"notes,nullzero" json:"notes,omitempty"`
	IdempotencyKey string          `bun:"idempotency_key,nullzero" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `bun:"created_at,notnull" json:"created_at"`
}

// SignedAmount is the amount with the sign it contributes to the balance.
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Type == TransactionDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// LedgerResult is what a debit or credit returns. Replayed is true when the
// idempotency key matched an earlier entry and nothing was applied.
type LedgerResult struct {
	Wallet      *Wallet      `json:"wallet"`
	Transaction *Transaction `json:"transaction"`
	Replayed    bool         `json:"replayed"`
}

type DebitOptions struct {
	OrderID        string `json:"order_id,omitempty"`
	Source         string `json:"source"`
	IdempotencyKey string `json:"idempotency_key"`
	Notes          string `json:"notes,omitempty"`
}

type CreditOptions struct {
	OrderID        string `json:"order_id,omitempty"`
	Source         string `json:"source"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Notes          string `json:"notes,omitempty"`
}
