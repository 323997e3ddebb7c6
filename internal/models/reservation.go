package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCancelled ReservationStatus = "cancelled"
)

// Reservation binds one user to one floor element for one event.
//
// ActiveElementKey and ActiveUserKey are set only while the reservation is
// active and carry UNIQUE constraints, so the database rejects a second
// active reservation for the same element or the same user in an event.
type Reservation struct {
	bun.BaseModel `bun:"table:reservations,alias:r"`

	ID               string            `bun:"id,pk" json:"id"`
	EventID          string            `bun:"event_id,notnull" json:"event_id"`
	FloorElementID   string            `bun:"floor_element_id,notnull" json:"floor_element_id"`
	UserID           string            `bun:"user_id,notnull" json:"user_id"`
	WalletID         string            `bun:"wallet_id,notnull" json:"wallet_id"`
	WalletCode       string            `bun:"wallet_code,notnull" json:"wallet_code"`
	Status           ReservationStatus `bun:"status,notnull" json:"status"`
	ActiveElementKey string            `bun:"active_element_key,nullzero,unique" json:"-"`
	ActiveUserKey    string            `bun:"active_user_key,nullzero,unique" json:"-"`
	CreatedAt        time.Time         `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt        time.Time         `bun:"updated_at,notnull" json:"updated_at"`
}

func ElementKey(eventID, elementID string) string {
	return eventID + "|" + elementID
}

func UserKey(eventID, userID string) string {
	return eventID + "|" + userID
}

// Activate sets the arbiter keys for an active reservation.
func (r *Reservation) Activate() {
	r.Status = ReservationActive
	r.ActiveElementKey = ElementKey(r.EventID, r.FloorElementID)
	r.ActiveUserKey = UserKey(r.EventID, r.UserID)
}

func (r *Reservation) IsActive() bool {
	return r.Status == ReservationActive
}

// Identity is the caller as resolved by the auth layer.
type Identity struct {
	UserID      string
	IsOrganizer bool
}
