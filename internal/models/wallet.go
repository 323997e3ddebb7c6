package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type WalletStatus string

const (
	WalletStatusActive    WalletStatus = "active"
	WalletStatusSuspended WalletStatus = "suspended"
	WalletStatusClosed    WalletStatus = "closed"
	WalletStatusExpired   WalletStatus = "expired"
)

// Valid reports whether s is one of the known wallet statuses.
func (s WalletStatus) Valid() bool {
	switch s {
	case WalletStatusActive, WalletStatusSuspended, WalletStatusClosed, WalletStatusExpired:
		return true
	}
	return false
}

// Terminal statuses accept no further balance changes or transitions back.
func (s WalletStatus) Terminal() bool {
	return s == WalletStatusClosed || s == WalletStatusExpired
}

// Wallet is the minimum-spend credit attached to one redemption code.
type Wallet struct {
	bun.BaseModel `bun:"table:wallets,alias:w"`

	ID              string          `bun:"id,pk" json:"id"`
	Code            string          `bun:"code,unique,notnull" json:"code"`
	Currency        string          `bun:"currency,notnull" json:"currency"`
	InitialCredit   decimal.Decimal `bun:"initial_credit,type:decimal(20,4),notnull" json:"initial_credit"`
	RemainingCredit decimal.Decimal `bun:"remaining_credit,type:decimal(20,4),notnull" json:"remaining_credit"`
	Status          WalletStatus    `bun:"status,notnull" json:"status"`
	ExpiresAt       *time.Time      `bun:"expires_at,nullzero" json:"expires_at,omitempty"`
	BoundElementID  string          `bun:"bound_element_id,nullzero" json:"bound_element_id,omitempty"`
	Version         int64           `bun:"version,notnull" json:"version"`
	CreatedAt       time.Time       `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt       time.Time       `bun:"updated_at,notnull" json:"updated_at"`
}

// IsPastExpiry reports whether the wallet carries an expiry that is at or before now.
func (w *Wallet) IsPastExpiry(now time.Time) bool {
	return w.ExpiresAt != nil && !w.ExpiresAt.After(now)
}

// Consumed is the part of the initial credit already spent. It goes negative
// when adjustments lift the balance above the initial credit.
func (w *Wallet) Consumed() decimal.Decimal {
	return w.InitialCredit.Sub(w.RemainingCredit)
}

// Progress is the spent fraction of the minimum spend, 0 when there is no initial credit.
func (w *Wallet) Progress() float64 {
	if w.InitialCredit.IsZero() {
		return 0
	}
	f, _ := w.Consumed().Div(w.InitialCredit).Float64()
	return f
}

// NormalizeCode upper-cases and trims a redemption code so lookups are case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// WalletSpec is the input for creating a wallet.
type WalletSpec struct {
	Code           string          `json:"code"`
	InitialCredit  decimal.Decimal `json:"initial_credit"`
	Currency       string          `json:"currency"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	BoundElementID string          `json:"bound_element_id,omitempty"`
}

// BalanceView is the read projection shown to clients tracking their spend.
type BalanceView struct {
	Code            string          `json:"code"`
	Currency        string          `json:"currency"`
	Status          WalletStatus    `json:"status"`
	InitialCredit   decimal.Decimal `json:"initial_credit"`
	RemainingCredit decimal.Decimal `json:"remaining_credit"`
	Consumed        decimal.Decimal `json:"consumed"`
	Progress        float64         `json:"progress"`
	GoalMet         bool            `json:"goal_met"`
	BoundElementID  string          `json:"bound_element_id,omitempty"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
}

func NewBalanceView(w *Wallet) BalanceView {
	return BalanceView{
		Code:            w.Code,
		Currency:        w.Currency,
		Status:          w.Status,
		InitialCredit:   w.InitialCredit,
		RemainingCredit: w.RemainingCredit,
		Consumed:        w.Consumed(),
		Progress:        w.Progress(),
		GoalMet:         w.RemainingCredit.LessThanOrEqual(decimal.Zero),
		BoundElementID:  w.BoundElementID,
		ExpiresAt:       w.ExpiresAt,
	}
}

// Reconciliation compares the stored balance with the one derived from the ledger.
type Reconciliation struct {
	Code      string          `json:"code"`
	Stored    decimal.Decimal `json:"stored_remaining"`
	Derived   decimal.Decimal `json:"derived_remaining"`
	Entries   int             `json:"entries"`
	Debits    decimal.Decimal `json:"debits"`
	Credits   decimal.Decimal `json:"credits"`
	Balanced  bool            `json:"balanced"`
	CheckedAt time.Time       `json:"checked_at"`
}

// EventSpendSummary aggregates the wallets bound to an event's floor elements.
type EventSpendSummary struct {
	EventID        string               `json:"event_id"`
	Wallets        int                  `json:"wallets"`
	ByStatus       map[WalletStatus]int `json:"by_status"`
	TotalInitial   decimal.Decimal      `json:"total_initial"`
	TotalRemaining decimal.Decimal      `json:"total_remaining"`
	TotalConsumed  decimal.Decimal      `json:"total_consumed"`
	GoalsMet       int                  `json:"goals_met"`
}
