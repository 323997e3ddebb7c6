package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventWalletChanged      = "wallet.changed"
	EventReservationChanged = "reservation.changed"
)

// ChangeEvent is published once per committed mutation of a wallet or a reservation.
type ChangeEvent struct {
	ID          string       `json:"id"`
	Type        string       `json:"type"`
	Action      string       `json:"action"`
	EventID     string       `json:"event_id,omitempty"`
	WalletCode  string       `json:"wallet_code,omitempty"`
	Wallet      *Wallet      `json:"wallet,omitempty"`
	Transaction *Transaction `json:"transaction,omitempty"`
	Reservation *Reservation `json:"reservation,omitempty"`
	OccurredAt  time.Time    `json:"occurred_at"`
}

// Key is the partition key: events of one wallet or one element stay ordered.
func (e ChangeEvent) Key() string {
	if e.Reservation != nil {
		return ElementKey(e.Reservation.EventID, e.Reservation.FloorElementID)
	}
	return e.WalletCode
}

// Channels lists the stream channels a change is fanned out to.
func (e ChangeEvent) Channels() []string {
	var channels []string
	if e.WalletCode != "" {
		channels = append(channels, WalletChannel(e.WalletCode))
	}
	if e.EventID != "" {
		channels = append(channels, EventChannel(e.EventID))
	}
	return channels
}

func WalletChannel(code string) string {
	return "wallet:" + code
}

func EventChannel(eventID string) string {
	return "event:" + eventID
}

func NewWalletChangedEvent(action string, w *Wallet, tx *Transaction) ChangeEvent {
	return ChangeEvent{
		ID:          uuid.NewString(),
		Type:        EventWalletChanged,
		Action:      action,
		WalletCode:  w.Code,
		Wallet:      w,
		Transaction: tx,
		OccurredAt:  time.Now().UTC(),
	}
}

func NewReservationChangedEvent(action string, r *Reservation) ChangeEvent {
	return ChangeEvent{
		ID:          uuid.NewString(),
		Type:        EventReservationChanged,
		Action:      action,
		EventID:     r.EventID,
		WalletCode:  r.WalletCode,
		Reservation: r,
		OccurredAt:  time.Now().UTC(),
	}
}

// OrderEvent is consumed from the ordering feature: a placed order debits the
// wallet, a refunded order credits it back.
type OrderEvent struct {
	OrderID    string `json:"order_id"`
	WalletCode string `json:"wallet_code"`
	Amount     string `json:"amount"`
	UserID     string `json:"user_id,omitempty"`
	EventID    string `json:"event_id,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// ParsedAmount validates the identifying fields and returns the amount.
func (e OrderEvent) ParsedAmount() (decimal.Decimal, error) {
	if strings.TrimSpace(e.OrderID) == "" || strings.TrimSpace(e.WalletCode) == "" {
		return decimal.Zero, errors.New("order_id and wallet_code are required")
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(e.Amount))
	if err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}
